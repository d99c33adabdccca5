package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperr "github.com/alexjbarnes/focus-sync/internal/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

// DefaultGoogleUserinfoURL is Google's OpenID Connect userinfo endpoint.
const DefaultGoogleUserinfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

const (
	// userinfoTimeout bounds one userinfo lookup.
	userinfoTimeout = 10 * time.Second

	// maxUserinfoBytes caps the userinfo response read.
	maxUserinfoBytes = 64 * 1024
)

// GoogleResolver turns a Google OAuth access token into the account's
// stable subject ID by asking the userinfo endpoint. Concurrent lookups
// of the same token share one request.
type GoogleResolver struct {
	httpClient  *http.Client
	userinfoURL string
	group       singleflight.Group
}

// NewGoogleResolver returns a resolver for userinfoURL. A nil client
// gets a default one with a short timeout.
func NewGoogleResolver(httpClient *http.Client, userinfoURL string) *GoogleResolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: userinfoTimeout}
	}

	if userinfoURL == "" {
		userinfoURL = DefaultGoogleUserinfoURL
	}

	return &GoogleResolver{httpClient: httpClient, userinfoURL: userinfoURL}
}

// Subject returns the Google account subject for accessToken. The shared
// lookup is detached from any one caller, so a caller that goes away
// only abandons its own wait.
func (g *GoogleResolver) Subject(ctx context.Context, accessToken string) (string, error) {
	h := sha256.Sum256([]byte(accessToken))

	ch := g.group.DoChan(hex.EncodeToString(h[:]), func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), userinfoTimeout)
		defer cancel()

		return g.lookup(lookupCtx, accessToken)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}

		return res.Val.(string), nil
	}
}

func (g *GoogleResolver) lookup(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userinfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating userinfo request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: userinfo request: %w", apperr.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserinfoBytes))
	if err != nil {
		return "", fmt.Errorf("%w: reading userinfo response: %w", apperr.ErrAPIRequest, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: google rejected access token", apperr.ErrInvalidToken)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: userinfo returned status %d", apperr.ErrAPIResponse, resp.StatusCode)
	}

	sub := gjson.GetBytes(body, "sub").Str
	if sub == "" {
		return "", fmt.Errorf("%w: userinfo response has no subject", apperr.ErrAPIResponse)
	}

	return sub, nil
}

// Resolver resolves the identity of an incoming request. A valid bearer
// token resolves to Primary; otherwise a Google access token header
// resolves to Secondary; otherwise the request is unauthenticated.
type Resolver struct {
	tokens *TokenIssuer
	google *GoogleResolver
	logger *slog.Logger
}

// NewResolver returns a resolver. google may be nil to disable the
// secondary scheme.
func NewResolver(tokens *TokenIssuer, google *GoogleResolver, logger *slog.Logger) *Resolver {
	return &Resolver{tokens: tokens, google: google, logger: logger}
}

// Resolve returns the request's identity or an error wrapping
// ErrUnauthenticated.
func (r *Resolver) Resolve(req *http.Request) (Identity, error) {
	if authHeader := req.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		sub, err := r.tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err == nil {
			return Primary(sub), nil
		}

		r.logger.Debug("resolver: bearer token rejected",
			slog.String("path", req.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	if googleToken := req.Header.Get(HeaderGoogleToken); googleToken != "" && r.google != nil {
		sub, err := r.google.Subject(req.Context(), googleToken)
		if err == nil {
			return Secondary(sub), nil
		}

		r.logger.Debug("resolver: google token rejected",
			slog.String("path", req.URL.Path),
			slog.String("error", err.Error()),
		)

		if !errors.Is(err, apperr.ErrInvalidToken) {
			return Identity{}, fmt.Errorf("%w: %w", apperr.ErrUnauthenticated, err)
		}
	}

	return Identity{}, apperr.ErrUnauthenticated
}
