package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"math"
	"net/http"
	"strconv"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nmtlab/nmtgate/internal/gateway"
	"github.com/nmtlab/nmtgate/internal/metrics"
	"github.com/nmtlab/nmtgate/internal/observability"
	"github.com/nmtlab/nmtgate/internal/server/middleware"
)

// Error codes
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeUpstreamFailed     = "UPSTREAM_FAILED"
	CodeUpstreamTimeout    = "UPSTREAM_TIMEOUT"
	CodeInternal           = "INTERNAL_ERROR"
)

// Error types reported to API clients, OpenAI style.
const (
	TypeAuthentication = "authentication_error"
	TypeRateLimit      = "rate_limit_error"
	TypeInvalidRequest = "invalid_request_error"
	TypeServer         = "server_error"
)

// retryAfterDetail carries the retry hint from envelope to response header.
const retryAfterDetail = "retry_after_seconds"

// kindDetail reports the gateway failure kind in details.
const kindDetail = "kind"

func NewInvalidInputError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInvalidInput, message)
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeNotFound, message)
}

func NewUnauthorizedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeUnauthorized, message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeMethodNotAllowed, message)
}

func NewPayloadTooLargeError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodePayloadTooLarge, message)
}

func NewServiceUnavailableError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeServiceUnavailable, message)
}

func NewInternalError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInternal, message)
}

// Wrap functions attach correlation and trace IDs from the request context.

func WrapInvalidInput(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeInvalidInput, err, message)
}

func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	envelope := wrap(ctx, CodeInternal, err, message)
	if updated, sevErr := envelope.WithSeverity(errors.SeverityHigh); sevErr == nil {
		envelope = updated
	}
	return envelope
}

func WrapUpstream(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	envelope := wrap(ctx, CodeUpstreamFailed, err, message)
	if updated, sevErr := envelope.WithSeverity(errors.SeverityMedium); sevErr == nil {
		envelope = updated
	}
	return envelope
}

func wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(code, message)
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	envelope = envelope.WithTraceID(extractTraceID(ctx))
	return withWrappedError(envelope, err)
}

// FromGateway converts a classified gateway failure into an envelope.
// Per-candidate detail is kept as wrapped_error for operators.
func FromGateway(ctx context.Context, err *gateway.Error) *errors.ErrorEnvelope {
	var envelope *errors.ErrorEnvelope
	severity, escalate := errors.SeverityMedium, false
	details := map[string]interface{}{kindDetail: string(err.Kind)}

	switch err.Kind {
	case gateway.KindUnauthenticated, gateway.KindInvalidCredential:
		envelope = errors.NewErrorEnvelope(CodeUnauthorized, err.Message)
	case gateway.KindRateLimited:
		envelope = errors.NewErrorEnvelope(CodeRateLimited, err.Message)
		if seconds := int(math.Ceil(err.RetryAfter.Seconds())); seconds > 0 {
			details[retryAfterDetail] = seconds
		}
	case gateway.KindMalformedRequest:
		envelope = errors.NewErrorEnvelope(CodeInvalidInput, err.Message)
	case gateway.KindBackendJobFailed:
		envelope = errors.NewErrorEnvelope(CodeUpstreamFailed, err.Message)
		escalate = true
	case gateway.KindBackendTimeout:
		envelope = errors.NewErrorEnvelope(CodeUpstreamTimeout, err.Message)
		escalate = true
	case gateway.KindBackendUnconfigured:
		envelope = errors.NewErrorEnvelope(CodeServiceUnavailable, "Service temporarily unavailable")
		escalate = true
	case gateway.KindAllBackendsExhausted:
		message := "Service temporarily unavailable"
		if !stderrors.Is(err, gateway.ErrBackendUnconfigured) && err.Err != nil {
			message = err.Message
		}
		envelope = errors.NewErrorEnvelope(CodeServiceUnavailable, message)
		severity, escalate = errors.SeverityHigh, true
	default:
		envelope = errors.NewErrorEnvelope(CodeInternal, err.Error())
		severity, escalate = errors.SeverityHigh, true
	}

	if err.Kind != "" {
		envelope = envelope.WithDetails(details)
	}
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	envelope = envelope.WithTraceID(extractTraceID(ctx))
	envelope = withWrappedError(envelope, err.Err)
	if escalate {
		if updated, sevErr := envelope.WithSeverity(severity); sevErr == nil {
			envelope = updated
		}
	}
	return envelope
}

// extractCorrelationID gets correlation ID from context, falls back to generating new UUID
func extractCorrelationID(ctx context.Context) string {
	if ctx != nil {
		if requestID := middleware.GetRequestID(ctx); requestID != "" {
			return requestID
		}
	}
	return uuid.New().String()
}

// extractTraceID mirrors the correlation ID until a tracing system is wired.
func extractTraceID(ctx context.Context) string {
	return extractCorrelationID(ctx)
}

// EnsureEnvelope normalizes any error into a gofulmen ErrorEnvelope.
func EnsureEnvelope(ctx context.Context, err error) *errors.ErrorEnvelope {
	if err == nil {
		env := errors.NewErrorEnvelope(CodeInternal, "unexpected nil error")
		env, _ = env.WithSeverity(errors.SeverityCritical)
		return env
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		return envelope
	}

	var gerr *gateway.Error
	if stderrors.As(err, &gerr) {
		return FromGateway(ctx, gerr)
	}

	if stderrors.Is(err, context.Canceled) {
		env := errors.NewErrorEnvelope(CodeUpstreamFailed, "request canceled")
		return env
	}

	env := errors.NewErrorEnvelope(CodeInternal, "unexpected error")
	env, _ = env.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	env, _ = env.WithSeverity(errors.SeverityHigh)
	return env
}

// EnsureCorrelationID attaches a correlation ID to the envelope using the context when available.
func EnsureCorrelationID(envelope *errors.ErrorEnvelope, ctx context.Context) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	if envelope.CorrelationID != "" {
		return envelope
	}

	var correlationID string
	if ctx != nil {
		correlationID = middleware.GetRequestID(ctx)
	}

	if correlationID == "" {
		correlationID = "fallback-" + errors.GenerateCorrelationID()
	}

	return envelope.WithCorrelationID(correlationID)
}

// HTTPStatusFromEnvelope resolves the HTTP status code corresponding to an error envelope.
func HTTPStatusFromEnvelope(envelope *errors.ErrorEnvelope) int {
	if envelope == nil {
		return http.StatusInternalServerError
	}
	return HTTPStatusFromCode(envelope.Code)
}

// HTTPStatusFromCode resolves the HTTP status code corresponding to an error code.
func HTTPStatusFromCode(code string) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUpstreamFailed, CodeUpstreamTimeout:
		return http.StatusBadGateway
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// TypeFromCode resolves the client-facing error type for an error code.
func TypeFromCode(code string) string {
	switch code {
	case CodeUnauthorized:
		return TypeAuthentication
	case CodeRateLimited:
		return TypeRateLimit
	case CodeInvalidInput, CodeNotFound, CodeMethodNotAllowed, CodePayloadTooLarge:
		return TypeInvalidRequest
	default:
		return TypeServer
	}
}

func withWrappedError(envelope *errors.ErrorEnvelope, err error) *errors.ErrorEnvelope {
	if envelope == nil || err == nil {
		return envelope
	}

	updated, updateErr := envelope.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	if updateErr != nil {
		return envelope
	}
	return updated
}

// ResponseDetails constructs API-safe details map by merging envelope details and context.
func ResponseDetails(envelope *errors.ErrorEnvelope) map[string]interface{} {
	if envelope == nil {
		return nil
	}

	details := make(map[string]interface{})

	for key, value := range envelope.Details {
		details[key] = value
	}

	for key, value := range envelope.Context {
		if _, exists := details[key]; !exists {
			details[key] = value
		}
	}

	if len(details) == 0 {
		return nil
	}

	return details
}

// HTTPErrorDetail captures the error body returned to callers.
type HTTPErrorDetail struct {
	Message   string                 `json:"message"`
	Type      string                 `json:"type"`
	Code      string                 `json:"code"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPErrorDetail in the standard envelope structure.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// RespondWithError normalizes the supplied error and writes a JSON response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var ctx context.Context
	if r != nil {
		ctx = r.Context()
	}
	RespondWithEnvelope(w, r, EnsureEnvelope(ctx, err))
}

// RespondWithEnvelope finalizes the provided envelope, logging and emitting metrics.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	if w == nil {
		return
	}

	if r != nil {
		envelope = EnsureCorrelationID(envelope, r.Context())
	} else {
		envelope = EnsureCorrelationID(envelope, nil)
	}

	statusCode := HTTPStatusFromEnvelope(envelope)

	response := HTTPErrorResponse{
		Error: HTTPErrorDetail{
			Message:   envelope.Message,
			Type:      TypeFromCode(envelope.Code),
			Code:      envelope.Code,
			Details:   ResponseDetails(envelope),
			RequestID: envelope.CorrelationID,
		},
	}

	logHTTPError(envelope, statusCode)
	emitErrorMetrics(r, envelope, statusCode)

	if seconds, ok := retryAfterSeconds(envelope); ok {
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

func retryAfterSeconds(envelope *errors.ErrorEnvelope) (int, bool) {
	if envelope == nil || envelope.Details == nil {
		return 0, false
	}
	switch v := envelope.Details[retryAfterDetail].(type) {
	case int:
		return v, v > 0
	case float64:
		return int(v), v > 0
	}
	return 0, false
}

func logHTTPError(envelope *errors.ErrorEnvelope, statusCode int) {
	if observability.ServerLogger == nil || envelope == nil {
		return
	}

	fields := []zap.Field{
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", statusCode),
	}

	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}

	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}

	if envelope.CorrelationID != "" {
		fields = append(fields, zap.String("request_id", envelope.CorrelationID))
	}

	switch envelope.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		observability.ServerLogger.Error(envelope.Message, fields...)
	case errors.SeverityMedium:
		observability.ServerLogger.Warn(envelope.Message, fields...)
	default:
		observability.ServerLogger.Info(envelope.Message, fields...)
	}
}

func emitErrorMetrics(r *http.Request, envelope *errors.ErrorEnvelope, statusCode int) {
	if envelope == nil {
		return
	}

	kind, _ := envelope.Details[kindDetail].(string)
	metrics.RecordError(envelope.Code, statusCode, kind)
	if r != nil {
		metrics.RecordErrorByEndpoint(middleware.EndpointPattern(r), envelope.Code)
	}
}
