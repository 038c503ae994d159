package runtime

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores for unknown flows or instances.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned by InstanceStore.Update when another
	// writer committed the instance first.
	ErrVersionConflict = errors.New("instance version conflict")
)

// FlowErrorType classifies how the interpreter reacts to an error.
type FlowErrorType string

const (
	// ErrorTypeDefinition covers missing or malformed flow definitions.
	ErrorTypeDefinition FlowErrorType = "definition"
	// ErrorTypeInternal covers unexpected failures during node execution.
	ErrorTypeInternal FlowErrorType = "internal"
	// ErrorTypeConflict signals a concurrent writer won the instance.
	ErrorTypeConflict FlowErrorType = "conflict"
)

// FlowErrorCode identifies known engine error codes.
type FlowErrorCode string

const (
	ErrorCodeDefinitionNotFound FlowErrorCode = "DEFINITION_NOT_FOUND"
	ErrorCodeDefinitionDisabled FlowErrorCode = "DEFINITION_DISABLED"
	ErrorCodeStartNodeMissing   FlowErrorCode = "START_NODE_MISSING"
	ErrorCodeNodeNotFound       FlowErrorCode = "NODE_NOT_FOUND"
	ErrorCodeVersionConflict    FlowErrorCode = "VERSION_CONFLICT"
	ErrorCodeAutoStepLimit      FlowErrorCode = "AUTO_STEP_LIMIT"
	ErrorCodeRuntimeError       FlowErrorCode = "RUNTIME_ERROR"
	ErrorCodeStoreError         FlowErrorCode = "STORE_ERROR"
)

// FlowError is the canonical error produced while driving an instance. The
// interpreter never returns it to callers of StartFlow/ResumeFlow; it is
// logged, written to history and turned into a failed Result.
type FlowError struct {
	Type    FlowErrorType `json:"type"`
	Code    FlowErrorCode `json:"code"`
	Message string        `json:"message"`
	Flow    string        `json:"flow,omitempty"`
	Node    string        `json:"node,omitempty"`
	Cause   error         `json:"-"`
}

func (e *FlowError) Error() string {
	msg := fmt.Sprintf("[%s/%s] %s", e.Type, e.Code, e.Message)
	if e.Node != "" {
		msg += fmt.Sprintf(" (node: %s)", e.Node)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

func definitionError(code FlowErrorCode, flowID, msg string) *FlowError {
	return &FlowError{Type: ErrorTypeDefinition, Code: code, Message: msg, Flow: flowID}
}

func internalError(code FlowErrorCode, node string, cause error) *FlowError {
	t := ErrorTypeInternal
	if errors.Is(cause, ErrVersionConflict) {
		t, code = ErrorTypeConflict, ErrorCodeVersionConflict
	}
	return &FlowError{Type: t, Code: code, Message: "node execution failed", Node: node, Cause: cause}
}

// codeOf extracts the FlowErrorCode carried by err, if any.
func codeOf(err error) FlowErrorCode {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ErrorCodeRuntimeError
}
