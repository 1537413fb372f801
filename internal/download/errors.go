package download

import (
	"fmt"
	"net/http"
	"time"
)

// Code identifies one failure class in the closed download taxonomy.
type Code string

const (
	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
	CodePolicyNotFound       Code = "POLICY_NOT_FOUND"
	CodePhotoNotFound        Code = "PHOTO_NOT_FOUND"
	CodeFileNotFound         Code = "FILE_NOT_FOUND"
	CodeInvalidToken         Code = "INVALID_TOKEN"
	CodePaymentRequired      Code = "PAYMENT_REQUIRED"
	CodeQuotaExceeded        Code = "QUOTA_EXCEEDED"
	CodeEntitlementDenied    Code = "ENTITLEMENT_DENIED"
	CodeValidationError      Code = "VALIDATION_ERROR"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"
	CodeDatabaseError        Code = "DATABASE_ERROR"
	CodeStorageError         Code = "STORAGE_ERROR"
	CodeProcessingError      Code = "PROCESSING_ERROR"
	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	CodeTimeoutError         Code = "TIMEOUT_ERROR"
)

// Stage names the pipeline phase that raised a failure.
type Stage string

const (
	StageAuthenticating      Stage = "authenticating"
	StagePolicyResolving     Stage = "policy_resolving"
	StageEntitlementChecking Stage = "entitlement_checking"
	StageFileResolving       Stage = "file_resolving"
	StageDelivering          Stage = "delivering"
	StageTransport           Stage = "transport"
)

var httpStatusByCode = map[Code]int{
	CodeSessionNotFound:      http.StatusNotFound,
	CodePolicyNotFound:       http.StatusNotFound,
	CodePhotoNotFound:        http.StatusNotFound,
	CodeFileNotFound:         http.StatusNotFound,
	CodeInvalidToken:         http.StatusUnauthorized,
	CodePaymentRequired:      http.StatusPaymentRequired,
	CodeQuotaExceeded:        http.StatusPaymentRequired,
	CodeEntitlementDenied:    http.StatusForbidden,
	CodeValidationError:      http.StatusBadRequest,
	CodeRateLimitExceeded:    http.StatusTooManyRequests,
	CodeDatabaseError:        http.StatusInternalServerError,
	CodeStorageError:         http.StatusInternalServerError,
	CodeProcessingError:      http.StatusInternalServerError,
	CodeExternalServiceError: http.StatusBadGateway,
	CodeTimeoutError:         http.StatusGatewayTimeout,
}

var retryableCodes = map[Code]bool{
	CodeDatabaseError:        true,
	CodeStorageError:         true,
	CodeExternalServiceError: true,
	CodeTimeoutError:         true,
}

var alertingCodes = map[Code]bool{
	CodeDatabaseError:        true,
	CodeStorageError:         true,
	CodeProcessingError:      true,
	CodeExternalServiceError: true,
	CodeTimeoutError:         true,
}

var recoverySuggestions = map[Code][]string{
	CodeInvalidToken:    {"refresh_token", "reauthenticate"},
	CodePaymentRequired: {"make_payment"},
	CodeQuotaExceeded:   {"make_payment", "contact_photographer"},
}

// ErrorContext carries the request identifiers attached to a failure. All
// fields are optional; empty ones are omitted from serialization and logs.
type ErrorContext struct {
	SessionID     string `json:"sessionId,omitempty"`
	UserID        string `json:"userId,omitempty"`
	PhotoID       string `json:"photoId,omitempty"`
	Filename      string `json:"filename,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// Error is the only failure type that crosses the pipeline boundary. Stages
// construct it through the factory functions below so call sites cannot
// hand-roll inconsistent code/status combinations.
type Error struct {
	Code    Code
	Message string
	Stage   Stage
	Context ErrorContext

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Code, e.Stage, e.Message, e.cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Stage, e.Message)
}

// Unwrap exposes the underlying infrastructure error, if any.
func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the single response status mapped to the error code.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatusByCode[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the failure is transient infrastructure trouble
// that a client may retry.
func (e *Error) Retryable() bool { return retryableCodes[e.Code] }

// ShouldAlert reports whether the failure should page operations.
// Client-caused codes never alert.
func (e *Error) ShouldAlert() bool { return alertingCodes[e.Code] }

// RecoverySuggestions returns the client-facing remediation hints for
// client-caused codes, nil otherwise.
func (e *Error) RecoverySuggestions() []string { return recoverySuggestions[e.Code] }

// WithContext returns a copy of the error with non-empty fields of ctx
// merged into its context.
func (e *Error) WithContext(ctx ErrorContext) *Error {
	merged := *e
	if ctx.SessionID != "" {
		merged.Context.SessionID = ctx.SessionID
	}
	if ctx.UserID != "" {
		merged.Context.UserID = ctx.UserID
	}
	if ctx.PhotoID != "" {
		merged.Context.PhotoID = ctx.PhotoID
	}
	if ctx.Filename != "" {
		merged.Context.Filename = ctx.Filename
	}
	if ctx.CorrelationID != "" {
		merged.Context.CorrelationID = ctx.CorrelationID
	}
	return &merged
}

// ErrorBody is the wire form of a pipeline failure.
type ErrorBody struct {
	Code                Code     `json:"code"`
	Message             string   `json:"message"`
	Timestamp           string   `json:"timestamp"`
	CorrelationID       string   `json:"correlationId,omitempty"`
	Stage               Stage    `json:"stage,omitempty"`
	RecoverySuggestions []string `json:"recoverySuggestions,omitempty"`
	Retryable           bool     `json:"retryable"`

	// Debug is attached outside production builds only.
	Debug *ErrorDebug `json:"debug,omitempty"`
}

// ErrorDebug exposes internal context for non-production responses.
type ErrorDebug struct {
	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	PhotoID   string `json:"photoId,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Cause     string `json:"cause,omitempty"`
}

// ErrorEnvelope is the stable failure response shape.
type ErrorEnvelope struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// Envelope serializes the error for a response. Debug context is included
// only when includeDebug is set (non-production environments).
func (e *Error) Envelope(now time.Time, includeDebug bool) ErrorEnvelope {
	body := ErrorBody{
		Code:                e.Code,
		Message:             e.Message,
		Timestamp:           now.UTC().Format(time.RFC3339),
		CorrelationID:       e.Context.CorrelationID,
		Stage:               e.Stage,
		RecoverySuggestions: e.RecoverySuggestions(),
		Retryable:           e.Retryable(),
	}
	if includeDebug {
		debug := &ErrorDebug{
			SessionID: e.Context.SessionID,
			UserID:    e.Context.UserID,
			PhotoID:   e.Context.PhotoID,
			Filename:  e.Context.Filename,
		}
		if e.cause != nil {
			debug.Cause = e.cause.Error()
		}
		body.Debug = debug
	}
	return ErrorEnvelope{Success: false, Error: body}
}

// Factory constructors, one per failure site.

// SessionNotFound reports that the gallery session does not exist.
func SessionNotFound(sessionID string) *Error {
	return &Error{
		Code:    CodeSessionNotFound,
		Message: "gallery session not found",
		Stage:   StageAuthenticating,
		Context: ErrorContext{SessionID: sessionID},
	}
}

// InvalidToken reports a missing, mismatched, or expired gallery token.
func InvalidToken(sessionID string) *Error {
	return &Error{
		Code:    CodeInvalidToken,
		Message: "gallery token is invalid or expired",
		Stage:   StageAuthenticating,
		Context: ErrorContext{SessionID: sessionID},
	}
}

// InvalidAccessToken reports a missing or expired owner bearer token.
func InvalidAccessToken() *Error {
	return &Error{
		Code:    CodeInvalidToken,
		Message: "access token is invalid or expired",
		Stage:   StageAuthenticating,
	}
}

// EntitlementDenied reports an authenticated user without rights to the
// session.
func EntitlementDenied(sessionID, userID string) *Error {
	return &Error{
		Code:    CodeEntitlementDenied,
		Message: "you do not have access to this gallery",
		Stage:   StageAuthenticating,
		Context: ErrorContext{SessionID: sessionID, UserID: userID},
	}
}

// PaymentRequired reports that the pricing policy demands a purchase the
// accessor has not made.
func PaymentRequired(sessionID, photoID, filename string) *Error {
	return &Error{
		Code:    CodePaymentRequired,
		Message: "payment is required to download this photo",
		Stage:   StageEntitlementChecking,
		Context: ErrorContext{SessionID: sessionID, PhotoID: photoID, Filename: filename},
	}
}

// QuotaExceeded reports an exhausted entitlement or free allowance.
func QuotaExceeded(sessionID, photoID, filename string) *Error {
	return &Error{
		Code:    CodeQuotaExceeded,
		Message: "download allowance for this gallery has been used up",
		Stage:   StageEntitlementChecking,
		Context: ErrorContext{SessionID: sessionID, PhotoID: photoID, Filename: filename},
	}
}

// PhotoNotFound reports a photo-id lookup miss.
func PhotoNotFound(sessionID, photoID string) *Error {
	return &Error{
		Code:    CodePhotoNotFound,
		Message: "photo not found in this gallery",
		Stage:   StageFileResolving,
		Context: ErrorContext{SessionID: sessionID, PhotoID: photoID},
	}
}

// FileNotFound reports a filename lookup miss.
func FileNotFound(sessionID, filename string) *Error {
	return &Error{
		Code:    CodeFileNotFound,
		Message: "file not found in this gallery",
		Stage:   StageFileResolving,
		Context: ErrorContext{SessionID: sessionID, Filename: filename},
	}
}

// ValidationError reports malformed request input.
func ValidationError(message string) *Error {
	return &Error{
		Code:    CodeValidationError,
		Message: message,
		Stage:   StageTransport,
	}
}

// RateLimitExceeded reports transport-boundary throttling.
func RateLimitExceeded() *Error {
	return &Error{
		Code:    CodeRateLimitExceeded,
		Message: "too many requests, slow down",
		Stage:   StageTransport,
	}
}

// DatabaseError wraps persistence failures surfaced by a stage.
func DatabaseError(stage Stage, cause error) *Error {
	return &Error{
		Code:    CodeDatabaseError,
		Message: "a storage backend error occurred",
		Stage:   stage,
		cause:   cause,
	}
}

// StorageError wraps object-storage failures during delivery.
func StorageError(cause error) *Error {
	return &Error{
		Code:    CodeStorageError,
		Message: "the file store is temporarily unavailable",
		Stage:   StageDelivering,
		cause:   cause,
	}
}

// ProcessingError wraps derivative-rendering failures during delivery.
func ProcessingError(cause error) *Error {
	return &Error{
		Code:    CodeProcessingError,
		Message: "the file could not be prepared for delivery",
		Stage:   StageDelivering,
		cause:   cause,
	}
}

// ExternalServiceError wraps collaborator failures outside storage and the
// database.
func ExternalServiceError(stage Stage, cause error) *Error {
	return &Error{
		Code:    CodeExternalServiceError,
		Message: "an upstream service failed",
		Stage:   stage,
		cause:   cause,
	}
}

// TimeoutError reports an external call exceeding its deadline.
func TimeoutError(stage Stage, cause error) *Error {
	return &Error{
		Code:    CodeTimeoutError,
		Message: "the operation timed out",
		Stage:   stage,
		cause:   cause,
	}
}
