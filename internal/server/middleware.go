package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	apperr "github.com/alexjbarnes/focus-sync/internal/errors"
	"github.com/alexjbarnes/focus-sync/internal/identity"
)

type contextKey int

const ctxRemoteIP contextKey = iota

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// IdentityResolver resolves the identity behind a request.
type IdentityResolver interface {
	Resolve(r *http.Request) (identity.Identity, error)
}

// Middleware resolves the caller's identity once per request and stores
// it in the request context. Requests that resolve to no identity get a
// 401; a failing identity provider gets a 502.
func Middleware(resolver IdentityResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			id, err := resolver.Resolve(r)
			if err != nil {
				if errors.Is(err, apperr.ErrAPIRequest) || errors.Is(err, apperr.ErrAPIResponse) {
					logger.Warn("middleware: identity provider failed",
						slog.String("ip", ip),
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
					writeError(w, http.StatusBadGateway, "identity provider unavailable")

					return
				}

				logger.Debug("middleware: unauthenticated",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, apperr.ErrUnauthenticated.Error())

				return
			}

			logger.Debug("middleware: authenticated",
				slog.String("identity", id.Key()),
				slog.String("ip", ip),
			)

			ctx := identity.NewContext(r.Context(), id)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
