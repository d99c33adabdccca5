// Package server provides HTTP server construction for focus-sync.
package server

import (
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/focus-sync/internal/client"
	"github.com/alexjbarnes/focus-sync/internal/docstore"
	"github.com/alexjbarnes/focus-sync/internal/realtime"
)

// DefaultMaxDocumentBytes caps upload bodies when MuxConfig leaves it
// unset.
const DefaultMaxDocumentBytes = 5 << 20

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Store    docstore.Store
	Resolver IdentityResolver
	Hub      *realtime.Hub

	// Publisher announces new records. Nil publishes to Hub directly.
	Publisher realtime.Publisher

	MaxDocumentBytes int64
	Logger           *slog.Logger
}

// NewMux builds the HTTP mux with the document, realtime and health
// endpoints. Everything except health requires an identity.
func NewMux(cfg MuxConfig) *http.ServeMux {
	maxBytes := cfg.MaxDocumentBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentBytes
	}

	publisher := cfg.Publisher
	if publisher == nil && cfg.Hub != nil {
		publisher = cfg.Hub
	}

	authMiddleware := Middleware(cfg.Resolver, cfg.Logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", HandleHealth)
	mux.Handle("GET "+client.DocumentPath, authMiddleware(HandleGetDocument(cfg.Store, cfg.Logger)))
	mux.Handle("POST "+client.DocumentPath, authMiddleware(HandlePutDocument(cfg.Store, publisher, maxBytes, cfg.Logger)))

	if cfg.Hub != nil {
		mux.Handle("GET "+client.RealtimePath, authMiddleware(realtime.NewHandler(cfg.Hub, cfg.Logger)))
	}

	return mux
}
