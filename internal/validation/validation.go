// Package validation provides request validation helpers for the scoring API.
package validation

import (
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/fraudswarm/internal/fraud"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for identifier fields
const MaxStringLength = 256

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)

	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
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

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidAmount checks that an amount is a finite, non-negative number.
func ValidAmount(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return &ValidationError{Field: field, Message: "must be a finite number"}
		}
		if value < 0 {
			return &ValidationError{Field: field, Message: "must not be negative"}
		}
		return nil
	}
}

// ValidCoordinates checks latitude and longitude ranges.
func ValidCoordinates(field string, loc fraud.Location) func() *ValidationError {
	return func() *ValidationError {
		if loc.Lat < -90 || loc.Lat > 90 || loc.Lon < -180 || loc.Lon > 180 {
			return &ValidationError{Field: field, Message: "coordinates out of range"}
		}
		return nil
	}
}

// TransactionRequest trims the request's identifiers in place and reports
// every problem with it.
func TransactionRequest(req *fraud.TransactionRequest) ValidationErrors {
	req.UserID = SanitizeString(req.UserID, MaxStringLength)
	req.Merchant = SanitizeString(req.Merchant, MaxStringLength)
	req.MerchantCategory = SanitizeString(req.MerchantCategory, MaxStringLength)
	req.PaymentMethod = SanitizeString(req.PaymentMethod, MaxStringLength)
	req.DeviceFingerprint = SanitizeString(req.DeviceFingerprint, MaxStringLength)

	return Validate(
		Required("user_id", req.UserID),
		Required("merchant", req.Merchant),
		ValidAmount("amount", req.Amount),
		ValidCoordinates("location", req.Location),
	)
}

// UserIDParamMiddleware rejects an empty or oversized :user_id URL parameter.
func UserIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("user_id")
		if strings.TrimSpace(id) == "" || len(id) > MaxStringLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_user_id",
				"message": "user_id must be 1-256 characters",
			})
			return
		}
		c.Next()
	}
}
