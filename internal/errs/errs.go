// Package errs defines the error taxonomy shared by the work-item and image
// ingestion services and maps it onto HTTP status codes.
package errs

import (
	"errors"
	"net/http"
)

var (
	// ErrValidation marks a missing or malformed request field, including an
	// attempt to pass inline image data where a reference is expected.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an unknown work item id.
	ErrNotFound = errors.New("record not found")

	// ErrMalformedID marks a path id that cannot name any work item. It is
	// answered like ErrNotFound.
	ErrMalformedID = errors.New("malformed work item id")

	// ErrPayloadTooLarge marks an upload or JSON body above its configured cap.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrUnsupportedMedia marks an upload whose content type is not an image.
	ErrUnsupportedMedia = errors.New("unsupported media type")

	// ErrUpstreamStorage marks a failure talking to the object store.
	ErrUpstreamStorage = errors.New("image upload failed")

	// ErrPersistence marks a failure of the relational store.
	ErrPersistence = errors.New("database error")
)

// MapHTTPStatus converts an error produced by the services into an HTTP status code.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrMalformedID):
		return http.StatusNotFound
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show to a client. Validation-class
// errors carry their full text; server-side failures collapse to the sentinel text.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrUpstreamStorage):
		return ErrUpstreamStorage.Error()
	case errors.Is(err, ErrPersistence):
		return ErrPersistence.Error()
	case MapHTTPStatus(err) == http.StatusInternalServerError:
		return "internal error"
	default:
		return err.Error()
	}
}
