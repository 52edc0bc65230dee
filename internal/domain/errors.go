package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrProviderNotFound = fmt.Errorf("llm provider not found")
	ErrToolNotFound     = fmt.Errorf("tool not found")
	ErrMaxIterations    = fmt.Errorf("agent reached max iterations")
	ErrSessionNotFound  = fmt.Errorf("session not found")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")

	// Document store errors.
	ErrInvalidPath        = fmt.Errorf("invalid document path")
	ErrStorageUnavailable = fmt.Errorf("storage unavailable")

	// Multi-agent errors.
	ErrAgentNotFound      = fmt.Errorf("agent not found")
	ErrAgentDuplicate     = fmt.Errorf("agent already exists")
	ErrAlreadyInitialized = fmt.Errorf("agent already initialized")
	ErrNoExecutingAgent   = fmt.Errorf("no executing agent in context")
	ErrToolCallNotPending = fmt.Errorf("tool call is not awaiting confirmation")

	// Gateway / RPC errors.
	ErrGatewayAuthFailed = fmt.Errorf("gateway: %w", ErrAuthInvalid)
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")

	// Resilience errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrCircuitOpen     = fmt.Errorf("circuit breaker open")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Tool.Execute")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "docstore"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring and RPC replies.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeProviderNotFound   ErrorCode = "PROVIDER_NOT_FOUND"
	CodeToolNotFound       ErrorCode = "TOOL_NOT_FOUND"
	CodeMaxIterations      ErrorCode = "MAX_ITERATIONS"
	CodeSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeInvalidPath        ErrorCode = "INVALID_PATH"
	CodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	CodeAgentNotFound      ErrorCode = "AGENT_NOT_FOUND"
	CodeAgentDuplicate     ErrorCode = "AGENT_DUPLICATE"
	CodeAlreadyInitialized ErrorCode = "ALREADY_INITIALIZED"
	CodeNoExecutingAgent   ErrorCode = "NO_EXECUTING_AGENT"
	CodeToolCallNotPending ErrorCode = "TOOL_CALL_NOT_PENDING"
	CodeGatewayAuth        ErrorCode = "GATEWAY_AUTH"
	CodeRPCMethodNotFound  ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidPayload  ErrorCode = "RPC_INVALID_PAYLOAD"
	CodeContextOverflow    ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
	CodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeDocumentNotFound ErrorCode = "DOCUMENT_NOT_FOUND"
	CodeStateNotFound    ErrorCode = "STATE_NOT_FOUND"
	CodeLockTimeout      ErrorCode = "LOCK_TIMEOUT"

	// Category error codes; fallback when no subsystem-specific code matches.
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeDuplicate     ErrorCode = "DUPLICATE"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeProviderError ErrorCode = "PROVIDER_ERROR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:      CodeNotFound,
	ErrDuplicate:     CodeDuplicate,
	ErrTimeout:       CodeTimeout,
	ErrInvalidInput:  CodeInvalidInput,
	ErrProviderError: CodeProviderError,

	ErrProviderNotFound:   CodeProviderNotFound,
	ErrToolNotFound:       CodeToolNotFound,
	ErrMaxIterations:      CodeMaxIterations,
	ErrSessionNotFound:    CodeSessionNotFound,
	ErrConfigLoad:         CodeConfigLoad,
	ErrInvalidPath:        CodeInvalidPath,
	ErrStorageUnavailable: CodeStorageUnavailable,
	ErrAgentNotFound:      CodeAgentNotFound,
	ErrAgentDuplicate:     CodeAgentDuplicate,
	ErrAlreadyInitialized: CodeAlreadyInitialized,
	ErrNoExecutingAgent:   CodeNoExecutingAgent,
	ErrToolCallNotPending: CodeToolCallNotPending,
	ErrGatewayAuthFailed:  CodeGatewayAuth,
	ErrRPCMethodNotFound:  CodeRPCMethodNotFound,
	ErrRPCInvalidPayload:  CodeRPCInvalidPayload,
	ErrContextOverflow:    CodeContextOverflow,
	ErrRateLimit:          CodeRateLimit,
	ErrAuthInvalid:        CodeAuthInvalid,
	ErrCircuitOpen:        CodeCircuitOpen,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"docstore": CodeDocumentNotFound,
		"state":    CodeStateNotFound,
		"agent":    CodeAgentNotFound,
	},
	ErrDuplicate: {
		"agent": CodeAgentDuplicate,
	},
	ErrTimeout: {
		"lock": CodeLockTimeout,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Subsystem-tagged DomainErrors resolve through subSystemCodeMap first.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	// Specific sentinels win over categories when both are in the chain.
	best := CodeUnknown
	for sentinel, code := range errorCodeMap {
		if !errors.Is(err, sentinel) {
			continue
		}
		if !isCategory(sentinel) {
			return code
		}
		best = code
	}
	return best
}

func isCategory(err error) bool {
	switch err {
	case ErrNotFound, ErrDuplicate, ErrTimeout, ErrInvalidInput, ErrProviderError:
		return true
	}
	return false
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
