package workflows

import (
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/musoukun/policyScope/internal/research"
)

// Application error types carried across the activity boundary.
const (
	ErrorTypeSchema  = "SchemaError"
	ErrorTypeBackend = "BackendError"
	ErrorTypeStage   = "StageError"
)

// Failure kinds recorded on stage.failed and run.failed events.
const (
	KindSchema  = "schema"
	KindBackend = "backend"
	KindTimeout = "timeout"
	KindMerge   = "merge"
	KindError   = "error"
)

// toApplicationError converts a stage error into a non-retryable application
// error whose details decode back into the typed error.
func toApplicationError(err error) error {
	var schemaErr *research.SchemaError
	if errors.As(err, &schemaErr) {
		return temporal.NewNonRetryableApplicationError(schemaErr.Error(), ErrorTypeSchema, nil, *schemaErr)
	}
	var backendErr *research.BackendError
	if errors.As(err, &backendErr) {
		return temporal.NewNonRetryableApplicationError(backendErr.Error(), ErrorTypeBackend, nil, *backendErr)
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), ErrorTypeStage, nil)
}

// fromActivityError recovers the typed stage error from an activity failure.
// Activity timeouts surface as backend timeouts.
func fromActivityError(stageID string, err error) error {
	if err == nil {
		return nil
	}
	if temporal.IsCanceledError(err) {
		return err
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		switch appErr.Type() {
		case ErrorTypeSchema:
			var schemaErr research.SchemaError
			if appErr.HasDetails() && appErr.Details(&schemaErr) == nil {
				return &schemaErr
			}
			return &research.SchemaError{Stage: stageID, Reason: appErr.Message()}
		case ErrorTypeBackend:
			var backendErr research.BackendError
			if appErr.HasDetails() && appErr.Details(&backendErr) == nil {
				return &backendErr
			}
			return &research.BackendError{Stage: stageID, Message: appErr.Message()}
		default:
			return errors.New(appErr.Message())
		}
	}
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return &research.BackendError{Stage: stageID, Timeout: true, Message: timeoutErr.Error()}
	}
	return &research.BackendError{Stage: stageID, Message: err.Error()}
}

func errorKind(err error) string {
	var schemaErr *research.SchemaError
	if errors.As(err, &schemaErr) {
		return KindSchema
	}
	var backendErr *research.BackendError
	if errors.As(err, &backendErr) {
		if backendErr.Timeout {
			return KindTimeout
		}
		return KindBackend
	}
	var conflict *research.MergeConflict
	if errors.As(err, &conflict) {
		return KindMerge
	}
	return KindError
}

func schemaPath(err error) string {
	var schemaErr *research.SchemaError
	if errors.As(err, &schemaErr) {
		return schemaErr.Path
	}
	return ""
}
