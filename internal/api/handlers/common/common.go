package common

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/capkernel/kernel/internal/domain/entities"
)

// ErrorResponse is the JSON body sent for every non-2xx admin API response.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// GetPrincipal extracts the calling principal set by the auth middleware.
func GetPrincipal(c *gin.Context) (entities.Principal, error) {
	v, exists := c.Get("principal")
	if !exists {
		return "", fmt.Errorf("principal not found in context")
	}
	switch p := v.(type) {
	case entities.Principal:
		return p, nil
	case string:
		return entities.Principal(p), nil
	default:
		return "", fmt.Errorf("invalid principal type in context")
	}
}

// GetRequestID extracts the request ID set by routes.go's requestIDMiddleware.
func GetRequestID(c *gin.Context) string {
	if v, exists := c.Get("request_id"); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

func RespondError(c *gin.Context, status int, code, message string, details map[string]any) {
	c.JSON(status, ErrorResponse{Code: code, Message: message, Details: details})
}

func RespondUnauthorized(c *gin.Context, message string) {
	RespondError(c, http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

func RespondBadRequest(c *gin.Context, message string, details ...map[string]any) {
	var det map[string]any
	if len(details) > 0 {
		det = details[0]
	}
	RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", message, det)
}

func RespondInternalError(c *gin.Context, message string) {
	RespondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", message, nil)
}

func RespondNotFound(c *gin.Context, message string) {
	RespondError(c, http.StatusNotFound, "NOT_FOUND", message, nil)
}

func RespondForbidden(c *gin.Context, message string) {
	RespondError(c, http.StatusForbidden, "FORBIDDEN", message, nil)
}

func RespondConflict(c *gin.Context, message string) {
	RespondError(c, http.StatusConflict, "CONFLICT", message, nil)
}

func RespondSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

func RespondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, data)
}

func RespondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// ParseTime parses a string in RFC3339 form, used for audit query since/until bounds.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}
	return time.Parse(time.RFC3339, s)
}

func ParseIntParam(c *gin.Context, param string, defaultVal int) int {
	if val := c.Query(param); val != "" {
		if parsed, err := ParseInt(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func ParseInt(s string) (int, error) {
	var i int
	_, err := fmt.Sscanf(s, "%d", &i)
	return i, err
}

// PaginationParams holds limit/offset parsed from query parameters.
type PaginationParams struct {
	Limit  int
	Offset int
}

func ExtractPagination(c *gin.Context, defaultLimit, maxLimit int) PaginationParams {
	limit := ParseIntParam(c, "limit", defaultLimit)
	if limit > maxLimit {
		limit = maxLimit
	}
	if limit < 1 {
		limit = defaultLimit
	}
	offset := ParseIntParam(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return PaginationParams{Limit: limit, Offset: offset}
}

// BindAndValidate binds a JSON body into req. Returns false and writes the
// error response itself if binding fails.
func BindAndValidate(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		RespondBadRequest(c, "Invalid request format", map[string]any{"error": err.Error()})
		return false
	}
	return true
}

// HandleServiceError maps a domain error to the appropriate HTTP response.
// Returns true if an error was handled (response already written).
func HandleServiceError(c *gin.Context, err error, resourceName string) bool {
	if err == nil {
		return false
	}

	switch {
	case containsCI(err.Error(), "not found"):
		RespondNotFound(c, fmt.Sprintf("%s not found", resourceName))
	case containsCI(err.Error(), "denied") || containsCI(err.Error(), "forbidden"):
		RespondForbidden(c, err.Error())
	case containsCI(err.Error(), "not active") || containsCI(err.Error(), "invalid"):
		RespondBadRequest(c, err.Error(), nil)
	default:
		RespondInternalError(c, "An unexpected error occurred")
	}
	return true
}

func containsCI(s, substr string) bool {
	return containsLowerStr(toLowerStr(s), toLowerStr(substr))
}

func containsLowerStr(s, substr string) bool {
	if len(substr) == 0 {
		return true
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func toLowerStr(s string) string {
	b := make([]byte, len(s))
	for i := range s {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 32
		}
		b[i] = c
	}
	return string(b)
}
