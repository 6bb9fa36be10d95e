// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package sse implements the framing (and bare-minimum parsing) of the
// Server-Sent Events wire format used by both MCP HTTP transports.
package sse

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
)

// An Event is a single SSE record: an optional id, an optional event name,
// and a data payload.
type Event struct {
	ID   string
	Name string
	Data []byte
}

// WriteEvent writes evt to w as a standard SSE frame and flushes w if it
// implements [http.Flusher]. Flushing on every frame is required because
// HTTP response buffering must be disabled for the client to see pushes in
// real time.
func WriteEvent(w io.Writer, evt Event) (int, error) {
	var b bytes.Buffer
	if evt.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", evt.ID)
	}
	if evt.Name != "" {
		fmt.Fprintf(&b, "event: %s\n", evt.Name)
	}
	fmt.Fprintf(&b, "data: %s\n\n", evt.Data)
	n, err := w.Write(b.Bytes())
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}

// ScanEvents returns an iterator over the SSE events read from r, in the
// order they appear. Iteration stops, yielding a final (zero, err) pair,
// when r is exhausted (err is io.EOF) or a malformed record is found.
//
// Only the "id", "event", and "data" fields are recognized; anything else
// (including comment lines beginning with ':') is ignored, per the SSE
// spec's forward-compatibility rules.
func ScanEvents(r io.Reader) iter.Seq2[Event, error] {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return func(yield func(Event, error) bool) {
		var (
			evt         Event
			lastWasData bool
		)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				if evt.Name != "" || evt.ID != "" || evt.Data != nil {
					if !yield(evt, nil) {
						return
					}
					evt = Event{}
					lastWasData = false
				}
				continue
			}
			before, after, found := bytes.Cut(line, []byte{':'})
			if !found {
				yield(Event{}, fmt.Errorf("malformed SSE line: %q", line))
				return
			}
			after = bytes.TrimPrefix(after, []byte{' '})
			switch string(before) {
			case "id":
				evt.ID = string(after)
			case "event":
				evt.Name = strings.TrimSpace(string(after))
			case "data":
				if lastWasData {
					evt.Data = append(append(evt.Data, '\n'), after...)
				} else {
					evt.Data = append([]byte(nil), after...)
				}
				lastWasData = true
			default:
				// Unrecognized field; ignore.
			}
		}
		if err := scanner.Err(); err != nil {
			yield(Event{}, err)
			return
		}
		yield(Event{}, io.EOF)
	}
}
