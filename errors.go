package main

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	errNotFound     = errors.New("not found")
	errForbidden    = errors.New("forbidden")
	errConflict     = errors.New("conflict")
	errUnauthorized = errors.New("unauthorized")
)

// validationError carries a message that is safe to show to the client.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func invalidf(format string, args ...interface{}) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// notFoundf wraps errNotFound with a client-facing message.
func notFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errNotFound)
}

func forbiddenf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errForbidden)
}

func unauthorizedf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errUnauthorized)
}

func conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errConflict)
}

// publicMessage strips the sentinel suffix added by the *f helpers.
func publicMessage(err error, sentinel error) string {
	return strings.TrimSuffix(err.Error(), ": "+sentinel.Error())
}

// statusFor maps domain errors onto HTTP status codes and client messages.
func statusFor(err error) (int, string) {
	var verr *validationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.msg
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, publicMessage(err, errUnauthorized)
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, publicMessage(err, errForbidden)
	case errors.Is(err, errNotFound), errors.Is(err, sql.ErrNoRows):
		if errors.Is(err, sql.ErrNoRows) {
			return http.StatusNotFound, "Resource not found"
		}
		return http.StatusNotFound, publicMessage(err, errNotFound)
	case errors.Is(err, errConflict):
		return http.StatusConflict, publicMessage(err, errConflict)
	default:
		return http.StatusInternalServerError, "Database error"
	}
}

func respondError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": msg})
}

func respondMessage(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": msg})
}

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// respondWith writes a success envelope with extra top-level fields.
func respondWith(c *gin.Context, status int, fields gin.H) {
	body := gin.H{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(status, body)
}
