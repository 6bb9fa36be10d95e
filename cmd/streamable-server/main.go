// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Command streamable-server runs an HTTP server exposing both the
// Streamable HTTP transport and the legacy HTTP+SSE transport in front of
// a trivial demonstration Engine, routed with chi.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/gomcp/streamtransport/jsonrpc"
	"github.com/gomcp/streamtransport/mcp"
)

func main() {
	var (
		addr = flag.String("addr", "localhost:8080", "address to listen on")
	)
	flag.Parse()

	streamableHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) mcp.Engine {
		return timeEngine{}
	})
	defer streamableHandler.Close()

	sseHandler := mcp.NewSSEHTTPHandler(func(*http.Request) mcp.Engine {
		return timeEngine{}
	})
	defer sseHandler.Close()

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Mcp-Session-Id", "MCP-Protocol-Version", "Last-Event-ID", "Authorization"},
		ExposedHeaders:   []string{"Mcp-Session-Id"},
		AllowCredentials: true,
	}))
	r.Handle("/mcp", streamableHandler)
	r.Get("/sse", sseHandler.ServeHTTP)
	r.Post("/message", sseHandler.ServeHTTP)

	srv := &http.Server{
		Addr:    *addr,
		Handler: r,
	}

	go func() {
		log.Printf("listening on http://%s (Streamable HTTP: /mcp, legacy SSE: /sse, /message)", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Print("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// timeEngine is a minimal Engine standing in for a real dispatcher: it
// answers "initialize" with a fixed server info payload and "time" with
// the current time, answers any other request with a method-not-found
// error, and ignores notifications and responses. It exists only to give
// the transports in this module something to carry end to end.
type timeEngine struct{}

func (timeEngine) Run(ctx context.Context, conn mcp.Connection) error {
	for {
		msg, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		req, ok := msg.(*jsonrpc.Request)
		if !ok || req.IsNotification() {
			continue
		}
		var resp *jsonrpc.Response
		switch req.Method {
		case "initialize":
			resp, err = jsonrpc.NewResponse(req.ID, map[string]any{
				"protocolVersion": "2025-06-18",
				"serverInfo":      map[string]any{"name": "streamtransport-demo", "version": "0.1.0"},
			})
		case "time":
			resp, err = jsonrpc.NewResponse(req.ID, map[string]any{
				"now": time.Now().UTC().Format(time.RFC3339),
			})
		default:
			resp = jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
		}
		if err != nil {
			resp = jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInternalError, err.Error())
		}
		if err := conn.Write(ctx, resp); err != nil {
			return err
		}
	}
}
