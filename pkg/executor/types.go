package executor

import (
	"time"

	"github.com/gatehouse-io/gatehouse/pkg/catalog"
	"github.com/gatehouse-io/gatehouse/pkg/protocol"
)

// Caller identifies the user a turn is running on behalf of
type Caller struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}

// ToolCall is an agent-emitted intent to invoke an endpoint. Parsed from
// model output: everything in here is untrusted.
type ToolCall struct {
	CallID         string             `json:"call_id"`
	ConversationID string             `json:"conversation_id"`
	EndpointID     string             `json:"endpoint_id"`
	ToolName       string             `json:"tool_name,omitempty"`
	Arguments      protocol.Arguments `json:"arguments"`
}

// Status of a tool result
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"

	// StatusPending marks a call suspended behind the confirmation gate.
	// The final success/error result arrives when the approve or reject
	// event resumes the call.
	StatusPending Status = "pending"
)

// ErrorKind is the typed failure taxonomy surfaced to the agent
type ErrorKind string

const (
	ErrKindNone            ErrorKind = ""
	ErrKindTimeout         ErrorKind = "timeout"
	ErrKindConnection      ErrorKind = "connection_error"
	ErrKindHTTP4xx         ErrorKind = "http_4xx"
	ErrKindHTTP5xx         ErrorKind = "http_5xx"
	ErrKindUnsafeURL       ErrorKind = "unsafe_url"
	ErrKindAuthFailure     ErrorKind = "auth_failure"
	ErrKindRejected        ErrorKind = "rejected_by_user"
	ErrKindExpired         ErrorKind = "confirmation_expired"
	ErrKindTooManyPending  ErrorKind = "too_many_pending_confirmations"
	ErrKindConfiguration   ErrorKind = "configuration_error"
	ErrKindInvalidArgument ErrorKind = "invalid_arguments"
	ErrKindRateLimited     ErrorKind = "rate_limited"
	ErrKindCancelled       ErrorKind = "cancelled"
)

// retryable reports whether a failure kind is worth another attempt.
// Auth and guard failures are terminal by definition; 4xx means the request
// itself is wrong and will not improve with repetition.
func (k ErrorKind) retryable() bool {
	switch k {
	case ErrKindTimeout, ErrKindConnection, ErrKindHTTP5xx:
		return true
	}
	return false
}

// ToolResult is what the agent gets back for every call, success or typed
// failure. Execute never throws past this shape.
type ToolResult struct {
	CallID     string    `json:"call_id"`
	Status     Status    `json:"status"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Body       string    `json:"body,omitempty"`
	LatencyMS  int64     `json:"latency_ms"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	Message    string    `json:"message,omitempty"`
}

func errorResult(callID string, kind ErrorKind, message string) ToolResult {
	return ToolResult{
		CallID:    callID,
		Status:    StatusError,
		ErrorKind: kind,
		Message:   message,
	}
}

// AuditRecord is the write-only record handed to the audit collaborator.
// Arguments are redacted by the sink before persistence.
type AuditRecord struct {
	CallID       string             `json:"call_id"`
	UserID       string             `json:"user_id"`
	EndpointID   string             `json:"endpoint_id"`
	Risk         catalog.RiskLevel  `json:"risk_level"`
	Arguments    protocol.Arguments `json:"arguments"`
	ResultStatus Status             `json:"result_status"`
	ErrorKind    ErrorKind          `json:"error_kind,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

// AuditSink receives audit records. Fire-and-forget from the engine's view:
// a failing sink never fails a call.
type AuditSink interface {
	Record(rec AuditRecord)
}

// NopAuditSink discards audit records
type NopAuditSink struct{}

// Record implements AuditSink
func (NopAuditSink) Record(AuditRecord) {}
