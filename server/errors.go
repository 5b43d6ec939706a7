package server

import (
	"net/http"

	"github.com/teranos/wakeup/errors"
)

// ErrServerStarted is returned by Start on a server that is already listening
var ErrServerStarted = errors.New("server already started")

// statusFor maps an error kind to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.IsValidationError(err):
		return http.StatusBadRequest
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.IsTransitionError(err):
		return http.StatusConflict
	case errors.Is(err, errors.ErrUnauthorized):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
