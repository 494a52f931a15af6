package respond

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/alteration-tracker/internal/errs"
)

// Error represents the body of every failed response.
type Error struct {
	Message string `json:"error"`
}

// JSON sends a JSON response with the specified HTTP status code and data.
func JSON(c *ginext.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// OK sends a 200 OK JSON response.
func OK(c *ginext.Context, result interface{}) {
	JSON(c, http.StatusOK, result)
}

// Created sends a 201 Created JSON response.
func Created(c *ginext.Context, result interface{}) {
	JSON(c, http.StatusCreated, result)
}

// Fail sends an error JSON response with the specified HTTP status code.
func Fail(c *ginext.Context, status int, err error) {
	JSON(c, status, Error{Message: err.Error()})
}

// FromError maps a service error onto its status code and a client-safe
// message. Server-side failures are logged with the underlying cause.
func FromError(c *ginext.Context, err error) {
	status := errs.MapHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		zlog.Logger.Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("request failed")
	}

	JSON(c, status, Error{Message: errs.PublicMessage(err)})
}
