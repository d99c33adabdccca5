package syncengine

import (
	"errors"

	"github.com/alexjbarnes/focus-sync/internal/client"
	apperr "github.com/alexjbarnes/focus-sync/internal/errors"
)

// UserMessage turns an error from a foreground operation (Upload, Pull)
// into a message fit for the person who clicked the button.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, apperr.ErrUnauthenticated), errors.Is(err, apperr.ErrInvalidToken):
		return "Sign in to sync your data."
	case errors.Is(err, apperr.ErrUploadInFlight):
		return "A sync is already in progress. Try again in a moment."
	case errors.Is(err, apperr.ErrStorageUnavailable):
		return "Local storage is unavailable, so your data could not be read or saved."
	case errors.Is(err, apperr.ErrNotFound):
		return "No synced data was found for this account."
	case client.IsTransient(err):
		return "Could not reach the sync server. Check your connection and try again."
	case errors.Is(err, apperr.ErrAPIResponse):
		return "The sync server rejected the request. Try again later."
	default:
		return "Sync failed. Try again later."
	}
}
