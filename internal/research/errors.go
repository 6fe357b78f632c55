package research

import (
	"fmt"
	"strings"
)

// SchemaError reports the first field of a backend response that does not
// satisfy its contract.
type SchemaError struct {
	Stage  string `json:"stage"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("stage %s: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("stage %s: %s: %s", e.Stage, e.Path, e.Reason)
}

// BackendError reports a backend call that did not return a response.
type BackendError struct {
	Stage   string `json:"stage"`
	Timeout bool   `json:"timeout"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func newBackendError(stage string, timeout bool, err error) *BackendError {
	return &BackendError{Stage: stage, Timeout: timeout, Message: err.Error(), Err: err}
}

func (e *BackendError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("stage %s: backend call timed out: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("stage %s: backend call failed: %s", e.Stage, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// MergeConflict means two stage outputs claimed the same report key. It
// indicates a broken stage table, not bad backend output.
type MergeConflict struct {
	Key    string   `json:"key"`
	Stages []string `json:"stages"`
}

func (e *MergeConflict) Error() string {
	return fmt.Sprintf("merge conflict: key %s produced by stages %s", e.Key, strings.Join(e.Stages, ", "))
}
