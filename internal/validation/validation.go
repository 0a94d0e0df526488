// Package validation provides input validation helpers and middleware for
// the scoring API.
package validation

import (
	"net/http"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// MaxEmailLength is the RFC 5321 path limit.
const MaxEmailLength = 320

var (
	// emailRegex is a pragmatic shape check; net/mail does the real parse.
	emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	// orderIDRegex allows the ID formats upstream shops use.
	orderIDRegex = regexp.MustCompile(`^[A-Za-z0-9._:\-]{1,200}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidEmail checks if a string is a plausible email address
func IsValidEmail(s string) bool {
	if len(s) > MaxEmailLength || !emailRegex.MatchString(s) {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// IsValidOrderID checks if a string is usable as an order ID
func IsValidOrderID(s string) bool {
	return orderIDRegex.MatchString(s)
}

// SanitizeString trims s, drops NUL bytes and cuts it to at most maxLen
// bytes without splitting a UTF-8 sequence.
func SanitizeString(s string, maxLen int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\x00", "")
	if len(s) <= maxLen {
		return s
	}
	s = s[:maxLen]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// SanitizeEmail normalizes an email for lookups: trimmed and lowercased.
func SanitizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// ValidOrderID checks that a non-empty field could be used in the
// assessments read route.
func ValidOrderID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" || IsValidOrderID(value) {
			return nil
		}
		return &ValidationError{Field: field, Message: "may contain letters, digits, '.', '_', ':' and '-' only"}
	}
}

// ValidEmail checks if a field is a valid email address
func ValidEmail(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidEmail(value) {
			return &ValidationError{Field: field, Message: "must be a valid email address"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// EmailParamMiddleware validates the :email URL parameter on routes that use it.
func EmailParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param("email")
		email, err := url.PathUnescape(raw)
		if err != nil || !IsValidEmail(email) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_email",
				"message": "email must be a valid email address",
			})
			return
		}
		c.Next()
	}
}

// OrderIDParamMiddleware validates the :order_id URL parameter.
func OrderIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsValidOrderID(c.Param("order_id")) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_order_id",
				"message": "order_id may contain letters, digits, '.', '_', ':' and '-' only",
			})
			return
		}
		c.Next()
	}
}
