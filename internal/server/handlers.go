package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/focus-sync/internal/client"
	"github.com/alexjbarnes/focus-sync/internal/docstore"
	"github.com/alexjbarnes/focus-sync/internal/document"
	"github.com/alexjbarnes/focus-sync/internal/identity"
	"github.com/alexjbarnes/focus-sync/internal/realtime"
)

// maxDeviceIDLen truncates oversized device headers.
const maxDeviceIDLen = 128

type errorResponse struct {
	Error string `json:"error"`
}

type putRequest struct {
	Data *document.Document `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// HandleGetDocument returns the caller's document or 404.
func HandleGetDocument(store docstore.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := identity.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "not signed in")
			return
		}

		rec, err := store.Get(r.Context(), id)
		if errors.Is(err, docstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}

		if err != nil {
			logger.Error("reading document failed",
				slog.String("identity", id.Key()),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to read document")

			return
		}

		writeJSON(w, http.StatusOK, rec)
	}
}

// HandlePutDocument replaces the caller's document with the request's
// data and announces the new record on the realtime channel.
func HandlePutDocument(store docstore.Store, publisher realtime.Publisher, maxBytes int64, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := identity.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "not signed in")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

		var req putRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "document too large")
				return
			}

			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())

			return
		}

		if req.Data == nil {
			writeError(w, http.StatusBadRequest, "missing data")
			return
		}

		device := r.Header.Get(client.HeaderDeviceID)
		if len(device) > maxDeviceIDLen {
			device = device[:maxDeviceIDLen]
		}

		rec, err := store.Put(r.Context(), id, *req.Data, device)
		if err != nil {
			logger.Error("writing document failed",
				slog.String("identity", id.Key()),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to write document")

			return
		}

		logger.Info("document replaced",
			slog.String("identity", id.Key()),
			slog.String("device", device),
			slog.Int("fields", len(rec.Document)),
		)

		if publisher != nil {
			if err := publisher.Publish(r.Context(), id.Key(), rec); err != nil {
				logger.Warn("realtime publish failed",
					slog.String("identity", id.Key()),
					slog.String("error", err.Error()),
				)
			}
		}

		writeJSON(w, http.StatusOK, struct{}{})
	}
}

// HandleHealth reports liveness.
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
