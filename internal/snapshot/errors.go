package snapshot

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates that no snapshot exists under the requested id in
// either backend.
var ErrNotFound = errors.New("snapshot not found")

// BackendOp identifies the operation a backend was performing when it failed.
type BackendOp string

const (
	OpRead   BackendOp = "read"
	OpWrite  BackendOp = "write"
	OpList   BackendOp = "list"
	OpDelete BackendOp = "delete"
)

// BackendError wraps a failure of a single backend with enough detail for a
// caller-level retry policy: which backend, and whether it was a read or a
// write.
type BackendError struct {
	Backend string
	Op      BackendOp
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// DualWriteError reports the outcome of a dual-backend Put. There is no
// cross-backend transaction: one side may have succeeded while the other
// failed, and the caller decides whether to retry the failed side.
type DualWriteError struct {
	Cache   *BackendError // nil when the cache write succeeded
	Durable *BackendError // nil when the durable write succeeded
}

func (e *DualWriteError) Error() string {
	var parts []string
	if e.Cache != nil {
		parts = append(parts, e.Cache.Error())
	}
	if e.Durable != nil {
		parts = append(parts, e.Durable.Error())
	}
	return "partial save: " + strings.Join(parts, "; ")
}

// CacheFailed reports whether the cache side of the write failed.
func (e *DualWriteError) CacheFailed() bool { return e.Cache != nil }

// DurableFailed reports whether the durable side of the write failed.
func (e *DualWriteError) DurableFailed() bool { return e.Durable != nil }

// SchemaError indicates a stored record that could not be decoded against the
// current schema even after the legacy-field compatibility rewrite.
type SchemaError struct {
	ID  string
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("snapshot %q cannot be normalized to the current schema: %v", e.ID, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }
