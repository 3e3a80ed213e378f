package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrLimitReached     = fmt.Errorf("limit reached")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrDisabled         = fmt.Errorf("disabled")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrConfiguration    = fmt.Errorf("configuration error")
	ErrUnavailable      = fmt.Errorf("dependency unavailable")
)

// Sentinel errors for the domain layer.
var (
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrDecryption       = fmt.Errorf("decryption failed")
	ErrEncryption       = fmt.Errorf("encryption operation failed")
	ErrRegistryLoad     = fmt.Errorf("registry load failed")
	ErrSchemaInvalid    = fmt.Errorf("record failed schema validation")
	ErrNoEnabledAgents  = fmt.Errorf("no enabled agents")
	ErrCacheUnavailable = fmt.Errorf("cache store unavailable")
	ErrAuditWrite       = fmt.Errorf("audit log write failed")
	ErrRateLimit        = fmt.Errorf("rate limit exceeded")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Engine.Route")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "registry", "cache"); used for ErrorCode dispatch
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

// IsClientError reports whether err was caused by the caller's input
// rather than by the router or one of its dependencies.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeLimitReached     ErrorCode = "LIMIT_REACHED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeDisabled         ErrorCode = "DISABLED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeConfiguration    ErrorCode = "CONFIGURATION"
	CodeUnavailable      ErrorCode = "UNAVAILABLE"

	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	CodeDecryption       ErrorCode = "DECRYPTION"
	CodeEncryption       ErrorCode = "ENCRYPTION"
	CodeRegistryLoad     ErrorCode = "REGISTRY_LOAD"
	CodeSchemaInvalid    ErrorCode = "SCHEMA_INVALID"
	CodeNoEnabledAgents  ErrorCode = "NO_ENABLED_AGENTS"
	CodeCacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"
	CodeAuditWrite       ErrorCode = "AUDIT_WRITE"
	CodeRateLimit        ErrorCode = "RATE_LIMIT"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeAgentNotFound    ErrorCode = "AGENT_NOT_FOUND"
	CodeAgentDuplicate   ErrorCode = "AGENT_DUPLICATE"
	CodeAgentDisabled    ErrorCode = "AGENT_DISABLED"
	CodeSkillNotFound    ErrorCode = "SKILL_NOT_FOUND"
	CodeCacheTimeout     ErrorCode = "CACHE_TIMEOUT"
	CodeAuditTimeout     ErrorCode = "AUDIT_TIMEOUT"
	CodeRegistryTimeout  ErrorCode = "REGISTRY_TIMEOUT"
	CodeScheduleInvalid  ErrorCode = "SCHEDULE_INVALID"
	CodeCacheUnreachable ErrorCode = "CACHE_UNREACHABLE"
	CodeAuditUnreachable ErrorCode = "AUDIT_UNREACHABLE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrTimeout:          CodeTimeout,
	ErrLimitReached:     CodeLimitReached,
	ErrPermissionDenied: CodePermissionDenied,
	ErrDisabled:         CodeDisabled,
	ErrInvalidInput:     CodeInvalidInput,
	ErrConfiguration:    CodeConfiguration,
	ErrUnavailable:      CodeUnavailable,

	ErrConfigLoad:       CodeConfigLoad,
	ErrDecryption:       CodeDecryption,
	ErrEncryption:       CodeEncryption,
	ErrRegistryLoad:     CodeRegistryLoad,
	ErrSchemaInvalid:    CodeSchemaInvalid,
	ErrNoEnabledAgents:  CodeNoEnabledAgents,
	ErrCacheUnavailable: CodeCacheUnavailable,
	ErrAuditWrite:       CodeAuditWrite,
	ErrRateLimit:        CodeRateLimit,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"agent": CodeAgentNotFound,
		"skill": CodeSkillNotFound,
	},
	ErrDuplicate: {
		"agent": CodeAgentDuplicate,
	},
	ErrDisabled: {
		"agent": CodeAgentDisabled,
	},
	ErrTimeout: {
		"cache":    CodeCacheTimeout,
		"audit":    CodeAuditTimeout,
		"registry": CodeRegistryTimeout,
	},
	ErrUnavailable: {
		"cache": CodeCacheUnreachable,
		"audit": CodeAuditUnreachable,
	},
	ErrInvalidInput: {
		"scheduling": CodeScheduleInvalid,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// For DomainErrors with a SubSystem, it also checks the subSystemCodeMap
// to resolve category sentinels to specific codes.
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

	// Category sentinels are checked last so that a specific sentinel
	// wrapped inside ErrConfiguration still resolves to its own code.
	for sentinel, code := range errorCodeMap {
		if isCategory(sentinel) {
			continue
		}
		if errors.Is(err, sentinel) {
			return code
		}
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

func isCategory(err error) bool {
	switch err {
	case ErrNotFound, ErrDuplicate, ErrTimeout, ErrLimitReached, ErrPermissionDenied,
		ErrDisabled, ErrInvalidInput, ErrConfiguration, ErrUnavailable:
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
