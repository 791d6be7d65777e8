// Package validation wraps go-playground/validator the way the teacher
// does, swapping its fintech-specific rules (password strength, phone
// numbers, blockchain addresses, monetary amounts) for the kernel's own:
// operation-pattern syntax, workflow source size, and safe-string injection
// checks for anything that ends up in an audit log or a script source.
package validation

import (
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/capkernel/kernel/internal/api/handlers/common"
	kernelerrors "github.com/capkernel/kernel/pkg/errors"
)

// Validator wraps the validator library with the kernel's custom rules.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	v.RegisterValidation("operation_pattern", validateOperationPattern)
	v.RegisterValidation("safe_string", validateSafeString)
	v.RegisterValidation("kernel_version", validateKernelVersion)
	return &Validator{validate: v}
}

func (v *Validator) Validate(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		return kernelerrors.ValidationFailure(err.Error())
	}
	return nil
}

func (v *Validator) ValidateJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		common.RespondBadRequest(c, "Invalid JSON format", nil)
		return false
	}
	if err := v.Validate(obj); err != nil {
		common.RespondBadRequest(c, err.Error(), nil)
		return false
	}
	return true
}

func (v *Validator) ValidateURI(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindUri(obj); err != nil {
		common.RespondBadRequest(c, "Invalid URI parameters", nil)
		return false
	}
	if err := v.Validate(obj); err != nil {
		common.RespondBadRequest(c, err.Error(), nil)
		return false
	}
	return true
}

func (v *Validator) ValidateQuery(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		common.RespondBadRequest(c, "Invalid query parameters", nil)
		return false
	}
	if err := v.Validate(obj); err != nil {
		common.RespondBadRequest(c, err.Error(), nil)
		return false
	}
	return true
}

// validateOperationPattern allows a dotted operation name, "*", a
// "prefix.*" wildcard, an exact "prefix:id" resource, or a "prefix:*"
// namespaced wildcard — the well-formed forms of the patterns
// capability.Capability.Matches accepts.
func validateOperationPattern(fl validator.FieldLevel) bool {
	pattern := fl.Field().String()
	if pattern == "" || pattern == "*" {
		return true
	}
	opPattern := regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*(\.\*)?$`)
	nsPattern := regexp.MustCompile(`^[a-zA-Z0-9_\-]+:(\*|[a-zA-Z0-9_\-]+)$`)
	return opPattern.MatchString(pattern) || nsPattern.MatchString(pattern)
}

// validateSafeString rejects payloads that look like script-injection
// attempts before they reach an audit log entry or object field.
func validateSafeString(fl validator.FieldLevel) bool {
	str := strings.ToLower(fl.Field().String())
	dangerous := []string{
		"<script", "</script>", "javascript:", "vbscript:",
		"onload=", "onerror=", "onclick=",
		"SELECT ", "INSERT ", "UPDATE ", "DELETE ", "DROP ",
	}
	for _, pattern := range dangerous {
		if strings.Contains(str, strings.ToLower(pattern)) {
			return false
		}
	}
	return true
}

// validateKernelVersion checks a dotted major.minor.patch semver string,
// the same shape runtime.CheckVersionCompatible parses.
func validateKernelVersion(fl validator.FieldLevel) bool {
	return regexp.MustCompile(`^\d+\.\d+\.\d+$`).MatchString(fl.Field().String())
}

func ValidationMiddleware() gin.HandlerFunc {
	v := NewValidator()
	return func(c *gin.Context) {
		c.Set("validator", v)
		c.Next()
	}
}

func GetValidator(c *gin.Context) *Validator {
	if v, exists := c.Get("validator"); exists {
		return v.(*Validator)
	}
	return NewValidator()
}

// Common request structures for the admin/inspection API.

type PaginationRequest struct {
	Limit  int `form:"limit" validate:"omitempty,min=1,max=500" json:"limit"`
	Offset int `form:"offset" validate:"omitempty,min=0" json:"offset"`
}

type DateRangeRequest struct {
	Since string `form:"since" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00" json:"since"`
	Until string `form:"until" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00" json:"until"`
}

// GrantRequest validates a C3 capability-grant request submitted to the
// admin API.
type GrantRequest struct {
	Principal string `json:"principal" validate:"required"`
	Operation string `json:"operation" validate:"required,operation_pattern"`
	Resource  string `json:"resource" validate:"required,operation_pattern"`
	Risk      string `json:"risk" validate:"required,oneof=read stateful irreversible"`
	TTLSeconds int   `json:"ttl_seconds" validate:"omitempty,min=1"`
}

// ExecuteRequest validates a C6 workflow-execution submission.
type ExecuteRequest struct {
	Principal string `json:"principal" validate:"required"`
	Source    string `json:"source" validate:"required,max=1048576"`
}
