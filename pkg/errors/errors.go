package errors

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes errors
type ErrorCode string

const (
	ErrCodeInvalidFormat ErrorCode = "INVALID_FORMAT"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeDevice        ErrorCode = "DEVICE_ERROR"
	ErrCodeModelLoad     ErrorCode = "MODEL_LOAD_ERROR"
	ErrCodeInference     ErrorCode = "INFERENCE_ERROR"
	ErrCodePartialResult ErrorCode = "PARTIAL_RESULT"
	ErrCodeExec          ErrorCode = "EXEC_ERROR"
	ErrCodeIO            ErrorCode = "IO_ERROR"
)

// Sentinels for errors.Is. Any *EnhanceError with the same code matches.
var (
	ErrInvalidFormat = &EnhanceError{Code: ErrCodeInvalidFormat, Message: "invalid audio format"}
	ErrNotFound      = &EnhanceError{Code: ErrCodeNotFound, Message: "not found"}
	ErrInvalidConfig = &EnhanceError{Code: ErrCodeInvalidConfig, Message: "invalid configuration"}
	ErrDevice        = &EnhanceError{Code: ErrCodeDevice, Message: "device unavailable"}
	ErrModelLoad     = &EnhanceError{Code: ErrCodeModelLoad, Message: "model load failed"}
	ErrInference     = &EnhanceError{Code: ErrCodeInference, Message: "inference failed"}
	ErrPartialResult = &EnhanceError{Code: ErrCodePartialResult, Message: "partial result"}
	ErrIO            = &EnhanceError{Code: ErrCodeIO, Message: "i/o failure"}
)

// EnhanceError is the base structured error
type EnhanceError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Fields  map[string]interface{}
}

func (e *EnhanceError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if path, ok := e.Fields["path"]; ok {
		msg = fmt.Sprintf("%s (path=%v)", msg, path)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *EnhanceError) Unwrap() error {
	return e.Cause
}

// Is matches on the error code so callers can compare against the sentinels.
func (e *EnhanceError) Is(target error) bool {
	var t *EnhanceError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// With returns a copy of e carrying an additional field.
func (e *EnhanceError) With(key string, value interface{}) *EnhanceError {
	fields := make(map[string]interface{}, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	cp := *e
	cp.Fields = fields
	return &cp
}

func newError(code ErrorCode, message string, cause error) *EnhanceError {
	return &EnhanceError{Code: code, Message: message, Cause: cause}
}

func NewInvalidFormatError(path, message string) *EnhanceError {
	return newError(ErrCodeInvalidFormat, message, nil).With("path", path)
}

func NewNotFoundError(path, message string, cause error) *EnhanceError {
	return newError(ErrCodeNotFound, message, cause).With("path", path)
}

// NewInvalidConfigError reports a rejected configuration value.
func NewInvalidConfigError(field string, value interface{}, message string) *EnhanceError {
	return newError(ErrCodeInvalidConfig, fmt.Sprintf("field=%s value=%v: %s", field, value, message), nil).
		With("field", field)
}

func NewDeviceError(message string, cause error) *EnhanceError {
	return newError(ErrCodeDevice, message, cause)
}

func NewModelLoadError(model string, stage int, message string) *EnhanceError {
	return newError(ErrCodeModelLoad, fmt.Sprintf("model=%s stage=%d: %s", model, stage, message), nil)
}

func NewInferenceError(message string, cause error) *EnhanceError {
	return newError(ErrCodeInference, message, cause)
}

func NewPartialResultError(path string, failed []int, cause error) *EnhanceError {
	return newError(ErrCodePartialResult,
		fmt.Sprintf("%d chunk(s) without result %v, refusing to write partial output", len(failed), failed),
		cause).With("path", path)
}

func NewIOError(path, message string, cause error) *EnhanceError {
	return newError(ErrCodeIO, message, cause).With("path", path)
}

// ExecError represents a failed external process invocation
type ExecError struct {
	EnhanceError
	Args     []string
	ExitCode int
	Stderr   string
}

func NewExecError(message string, args []string, exitCode int, stderr string, cause error) *ExecError {
	return &ExecError{
		EnhanceError: EnhanceError{
			Code:    ErrCodeExec,
			Message: message,
			Cause:   cause,
		},
		Args:     args,
		ExitCode: exitCode,
		Stderr:   stderr,
	}
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("[%s] %s (exit=%d, stderr=%q): %v",
		e.Code, e.Message, e.ExitCode, truncate(e.Stderr, 200), e.Cause)
}

// CodeOf returns the code of the outermost *EnhanceError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var ee *EnhanceError
	if errors.As(err, &ee) {
		return ee.Code
	}
	var xe *ExecError
	if errors.As(err, &xe) {
		return xe.Code
	}
	return ""
}

// As enables errors.As checks
func As[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
