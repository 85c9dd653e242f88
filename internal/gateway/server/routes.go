package server

import (
	"net/http"

	"respec/internal/gateway/handler/rpc"
	"respec/internal/gateway/middleware"
)

func NewMux(sessionHandler *rpc.SessionHandler, metrics http.Handler, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()

	// RPC Handlers
	mux.Handle(rpc.NewSessionServiceHandler(sessionHandler))

	// Streaming
	mux.HandleFunc("/ws/session", sessionHandler.HandleSessionWS)

	// Ops
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	// Middleware
	return middleware.CORS(allowedOrigins)(mux)
}
