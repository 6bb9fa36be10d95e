// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Command streamable-client connects to an MCP HTTP endpoint using
// auto-detection between the Streamable HTTP and legacy HTTP+SSE
// transports, issues an initialize call followed by a single "time"
// request, and logs the replies.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/gomcp/streamtransport/jsonrpc"
	"github.com/gomcp/streamtransport/mcp"
)

func main() {
	var (
		url  = flag.String("url", "http://localhost:8080/mcp", "MCP HTTP endpoint")
		mode = flag.String("mode", "auto", "transport mode: auto, streamable, or sse")
	)
	flag.Parse()

	var transportMode mcp.TransportMode
	switch *mode {
	case "auto":
		transportMode = mcp.AutoDetect
	case "streamable":
		transportMode = mcp.StreamableHttpMode
	case "sse":
		transportMode = mcp.SseMode
	default:
		log.Fatalf("unknown -mode %q: must be auto, streamable, or sse", *mode)
	}

	tr, err := mcp.NewClientTransport(*url, &mcp.ClientTransportOptions{
		Mode:              transportMode,
		ConnectionTimeout: 10 * time.Second,
		Name:              "streamable-client-demo",
	})
	if err != nil {
		log.Fatalf("new transport: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := tr.Connect(ctx)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	initResp, err := call(ctx, conn, 1, "initialize", nil)
	if err != nil {
		log.Fatalf("initialize: %v", err)
	}
	log.Printf("session ID: %s", conn.SessionID())

	// Once initialize has negotiated a protocol version, every later
	// request must carry it as the MCP-Protocol-Version header.
	var initResult struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if err := json.Unmarshal(initResp.Result, &initResult); err != nil {
		log.Fatalf("decoding initialize result: %v", err)
	}
	if setter, ok := conn.(mcp.ProtocolVersionSetter); ok && initResult.ProtocolVersion != "" {
		setter.SetProtocolVersion(initResult.ProtocolVersion)
	}

	if _, err := call(ctx, conn, 2, "time", nil); err != nil {
		log.Fatalf("time: %v", err)
	}
}

// call sends a request with the given id and method, reads and returns the
// matching reply.
func call(ctx context.Context, conn mcp.Connection, id int64, method string, params []byte) (*jsonrpc.Response, error) {
	req := &jsonrpc.Request{ID: jsonrpc.Int64ID(id), Method: method, Params: params}
	if err := conn.Write(ctx, req); err != nil {
		return nil, fmt.Errorf("write %s: %w", method, err)
	}
	for {
		msg, err := conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("read reply to %s: %w", method, err)
		}
		resp, ok := msg.(*jsonrpc.Response)
		if !ok || resp.ID != jsonrpc.Int64ID(id) {
			continue
		}
		if resp.Error != nil {
			return nil, errors.New(resp.Error.Message)
		}
		log.Printf("%s -> %s", method, string(resp.Result))
		return resp, nil
	}
}
