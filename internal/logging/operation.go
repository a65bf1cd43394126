package logging

import (
	"errors"
	"strings"

	"go.uber.org/zap"
)

// OperationError records the operation an error happened in and, for batch
// work, the batch id it belongs to.
type OperationError struct {
	Operation string
	RequestID string
	Err       error
}

// NewOperationError wraps err with its operation and batch. A nil err yields
// nil, and an error already scoped to the same operation and batch is returned
// as is.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	var scoped *OperationError
	if errors.As(err, &scoped) && scoped.Operation == operation && scoped.RequestID == requestID {
		return err
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Operation)
	if e.RequestID != "" {
		b.WriteString(" [")
		b.WriteString(e.RequestID)
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func operationFields(operation, requestID string) []zap.Field {
	fields := []zap.Field{zap.String("operation", operation)}
	if requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	return fields
}

// WithOperation scopes logger to an operation and batch.
func WithOperation(logger *zap.Logger, operation, requestID string) *zap.Logger {
	return logger.With(operationFields(operation, requestID)...)
}

// ErrorFields returns the zap fields for logging err. When err carries an
// OperationError its operation and batch are logged as separate fields.
func ErrorFields(err error) []zap.Field {
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		return []zap.Field{zap.Error(err)}
	}
	return append(operationFields(opErr.Operation, opErr.RequestID), zap.Error(err))
}
