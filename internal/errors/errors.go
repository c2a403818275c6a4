package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误对本次运行的严重程度。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message  string
	Severity Severity
	// Fatal 标记会中止整次运行的错误码。非致命错误只记录日志，
	// 并隔离受影响的组件。
	Fatal bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:  "unknown error",
			Severity: SeverityCritical,
			Fatal:    true,
		},
		CodeInvalidArgument: {
			Message:  "invalid argument",
			Severity: SeverityInfo,
		},
		CodeNotFound: {
			Message:  "resource not found",
			Severity: SeverityInfo,
		},
		CodeConflict: {
			Message:  "resource conflict",
			Severity: SeverityWarning,
		},
		CodeInitializationFailure: {
			Message:  "harness not initialized",
			Severity: SeverityCritical,
			Fatal:    true,
		},
		CodeNotReady: {
			Message:  "extension discovery is not ready",
			Severity: SeverityWarning,
		},
		CodeCatalog: {
			Message:  "plugin catalog error",
			Severity: SeverityCritical,
			Fatal:    true,
		},
		CodeCyclicDependency: {
			Message:  "cyclic dependency",
			Severity: SeverityCritical,
			Fatal:    true,
		},
		CodeTaskFailure: {
			Message:  "initialization task failed",
			Severity: SeverityCritical,
			Fatal:    true,
		},
		CodeUnattributedComponent: {
			Message:  "component cannot be attributed to a plugin",
			Severity: SeverityInfo,
		},
		CodeUnresolvedDelegate: {
			Message:  "delegate member cannot be resolved",
			Severity: SeverityWarning,
		},
	}
)

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeNotReady              Code = "NOT_READY"
	CodeCatalog               Code = "CATALOG_ERROR"
	CodeCyclicDependency      Code = "CYCLIC_DEPENDENCY"
	CodeTaskFailure           Code = "TASK_FAILURE"
	CodeUnattributedComponent Code = "UNATTRIBUTED_COMPONENT"
	CodeUnresolvedDelegate    Code = "UNRESOLVED_DELEGATE"
)

// Register 注册或替换错误码的属性。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是各个包共用的统一错误类型。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
	fatal    *bool
	severity *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加用于诊断的键值对。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithFatal 覆盖错误是否中止运行。
func WithFatal(fatal bool) Option {
	return func(e *Error) {
		e.fatal = &fatal
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。消息为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含底层原因的错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Fatal 判断错误是否中止运行。
func (e *Error) Fatal() bool {
	if e == nil {
		return false
	}
	if e.fatal != nil {
		return *e.fatal
	}
	return AttributesOf(e.code).Fatal
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 链中解析第一个统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码，无法识别时返回 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// IsFatal 判断任意 error 是否应中止运行。未编码的错误视为致命。
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := From(err); ok {
		return e.Fatal()
	}
	return true
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
