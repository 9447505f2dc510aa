package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeConnection represents connection-related errors
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeAuthRequired means the user has no usable credential and must log in again
	ErrTypeAuthRequired ErrorType = "authentication_required"
	// ErrTypeOAuthState means an authorization callback carried an unknown, expired or reused state
	ErrTypeOAuthState ErrorType = "oauth_state"
	// ErrTypeDecryption means a stored ciphertext failed authentication or decoding
	ErrTypeDecryption ErrorType = "decryption"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
	// ErrTypeTimeout represents timeout errors
	ErrTypeTimeout ErrorType = "timeout"
	// ErrTypeRateLimit represents rate limit errors
	ErrTypeRateLimit ErrorType = "rate_limit"
	// ErrTypeServiceUnavailable means the service's circuit breaker rejected the call
	ErrTypeServiceUnavailable ErrorType = "service_unavailable"
	// ErrTypeUpstream represents a downstream failure attributed to a pipeline stage
	ErrTypeUpstream ErrorType = "upstream"
	// ErrTypeDuplicate means the content was already posted inside the dedup window
	ErrTypeDuplicate ErrorType = "duplicate_content"
)

// Context keys with a fixed meaning.
const (
	ContextStage      = "stage"
	ContextService    = "service"
	ContextRetryAfter = "retry_after"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// ConnectionError creates a new connection error
func ConnectionError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeConnection,
		Message: msg,
		Cause:   cause,
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// AuthRequiredError signals that the user must go through the login flow again
func AuthRequiredError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeAuthRequired,
		Message: msg,
	}
}

// OAuthStateError creates an error for a rejected authorization callback state
func OAuthStateError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeOAuthState,
		Message: msg,
	}
}

// DecryptionError creates an error for ciphertext that could not be opened
func DecryptionError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeDecryption,
		Message: msg,
		Cause:   cause,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string) *AppError {
	return &AppError{
		Type:    ErrTypeTimeout,
		Message: fmt.Sprintf("timeout during %s", operation),
	}
}

// RateLimitError creates a new rate limit error
func RateLimitError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeRateLimit,
		Message: fmt.Sprintf("rate limit exceeded for %s", resource),
	}
}

// RateLimitedError creates a rate limit error that carries the upstream retry-after hint.
func RateLimitedError(service string, retryAfter time.Duration, cause error) *AppError {
	e := &AppError{
		Type:    ErrTypeRateLimit,
		Message: fmt.Sprintf("rate limit exceeded for %s", service),
		Cause:   cause,
	}
	e.WithContext(ContextService, service)
	if retryAfter > 0 {
		e.WithContext(ContextRetryAfter, retryAfter)
	}
	return e
}

// ServiceUnavailableError reports a call rejected by an open circuit
func ServiceUnavailableError(service string) *AppError {
	e := &AppError{
		Type:    ErrTypeServiceUnavailable,
		Message: fmt.Sprintf("%s is temporarily unavailable", service),
	}
	return e.WithContext(ContextService, service)
}

// UpstreamError wraps a downstream failure and tags it with the stage it happened in
func UpstreamError(stage string, cause error) *AppError {
	e := &AppError{
		Type:    ErrTypeUpstream,
		Message: fmt.Sprintf("%s failed", stage),
		Cause:   cause,
	}
	return e.WithContext(ContextStage, stage)
}

// ServiceError reports a downstream call that failed after retries. It has no
// stage yet; WithStage adds one.
func ServiceError(service string, cause error) *AppError {
	e := &AppError{
		Type:    ErrTypeUpstream,
		Message: fmt.Sprintf("%s call failed", service),
		Cause:   cause,
	}
	return e.WithContext(ContextService, service)
}

// DuplicateError reports content that was already posted recently
func DuplicateError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeDuplicate,
		Message: msg,
	}
}

// As finds the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if err == nil || !stderrors.As(err, &appErr) {
		return nil, false
	}
	return appErr, true
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}

	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	appErr, ok := As(err)
	if !ok {
		return ErrTypeInternal
	}

	return appErr.Type
}

// WithStage tags err with a pipeline stage. AppErrors keep their type and are
// copied, never modified, since the same error value may be shared by several
// callers; anything else becomes an upstream error for that stage.
func WithStage(err error, stage string) error {
	if err == nil {
		return nil
	}
	appErr, ok := As(err)
	if !ok {
		return UpstreamError(stage, err)
	}
	if _, tagged := appErr.Context[ContextStage]; tagged {
		return err
	}

	tagged := *appErr
	tagged.Context = make(map[string]interface{}, len(appErr.Context)+1)
	for k, v := range appErr.Context {
		tagged.Context[k] = v
	}
	tagged.Context[ContextStage] = stage
	return &tagged
}

// Stage returns the pipeline stage recorded on err, if any.
func Stage(err error) string {
	appErr, ok := As(err)
	if !ok {
		return ""
	}
	stage, _ := appErr.Context[ContextStage].(string)
	return stage
}

// RetryAfter returns the retry-after hint recorded on a rate limit error.
func RetryAfter(err error) time.Duration {
	appErr, ok := As(err)
	if !ok {
		return 0
	}
	d, _ := appErr.Context[ContextRetryAfter].(time.Duration)
	return d
}

// PublicError is the caller-facing rendering of an error: a stable code and a
// message that never contains token material or internal detail.
type PublicError struct {
	Status     int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Stage      string `json:"stage,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// Public maps err onto its caller-facing form.
func Public(err error) PublicError {
	pub := PublicError{
		Status:  http.StatusInternalServerError,
		Code:    string(ErrTypeInternal),
		Message: "internal error",
	}

	appErr, ok := As(err)
	if !ok {
		return pub
	}

	pub.Code = string(appErr.Type)
	pub.Stage = Stage(err)

	switch appErr.Type {
	case ErrTypeValidation:
		pub.Status, pub.Message = http.StatusBadRequest, appErr.Message
	case ErrTypeAuthRequired:
		pub.Status, pub.Message = http.StatusUnauthorized, "login required"
	case ErrTypeOAuthState:
		pub.Status, pub.Message = http.StatusBadRequest, "invalid or expired login state"
	case ErrTypeDuplicate:
		pub.Status, pub.Message = http.StatusConflict, "content was already posted recently"
	case ErrTypeRateLimit:
		pub.Status, pub.Message = http.StatusTooManyRequests, "rate limited by upstream service"
		if d := RetryAfter(err); d > 0 {
			pub.RetryAfter = int((d + time.Second - 1) / time.Second)
		}
	case ErrTypeServiceUnavailable:
		pub.Status, pub.Message = http.StatusServiceUnavailable, "service temporarily unavailable"
	case ErrTypeUpstream, ErrTypeTimeout, ErrTypeConnection:
		pub.Status, pub.Message = http.StatusBadGateway, "upstream service failed"
	case ErrTypeNotFound:
		pub.Status, pub.Message = http.StatusNotFound, appErr.Message
	case ErrTypeDecryption:
		// stored credential is unusable; surfaced as a re-login
		pub.Status, pub.Code, pub.Message = http.StatusUnauthorized, string(ErrTypeAuthRequired), "login required"
	default:
		pub.Code = string(ErrTypeInternal)
	}

	return pub
}
