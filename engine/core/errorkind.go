package core

// ErrorKind is the engine's error taxonomy. Every *Error returned across
// an engine/* package boundary carries one of these in its Code field.
type ErrorKind string

const (
	// ErrInvalidDefinition: structural problems caught at build time.
	// Fatal at registration; never raised at runtime.
	ErrInvalidDefinition ErrorKind = "invalid_definition"
	// ErrSchemaMismatch: payload rejected by a task's declared schema.
	ErrSchemaMismatch ErrorKind = "schema_mismatch"
	// ErrAuthzDenied: actor lacks required scope or claim policy rejects.
	ErrAuthzDenied ErrorKind = "authz_denied"
	// ErrWrongState: transition not allowed from the current state.
	ErrWrongState ErrorKind = "wrong_state"
	// ErrNotEnabled: action attempted on a task whose enablement is false.
	ErrNotEnabled ErrorKind = "not_enabled"
	// ErrCallbackFailed: a user-supplied Initialize/OnStart/OnComplete
	// callback returned an error.
	ErrCallbackFailed ErrorKind = "callback_failed"
	// ErrPendingOrJoin: an or-join that cannot be decided yet. No engine
	// code raises it or records it in span attributes; such a task
	// simply stays unenabled until its join is satisfied.
	ErrPendingOrJoin ErrorKind = "pending_or_join"
)

// NewKindError builds an *Error tagged with kind, wrapping cause.
func NewKindError(kind ErrorKind, message string, cause error) *Error {
	e := NewError(cause, string(kind), nil)
	if message != "" {
		e.Message = message
	}
	return e
}

// WithDetails attaches details to an existing *Error and returns it.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e == nil {
		return nil
	}
	e.Details = details
	return e
}

// Is reports whether err carries the given ErrorKind anywhere in its chain.
func Is(err error, kind ErrorKind) bool {
	for err != nil {
		if ce, ok := err.(*Error); ok && ce.Code == string(kind) {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
