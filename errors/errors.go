package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"go.starlark.net/starlark"
)

// Phase indicates where in a boundary crossing the error occurred
type Phase string

const (
	PhaseEncode  Phase = "encode"  // host to guest
	PhaseDecode  Phase = "decode"  // guest to host
	PhaseHandle  Phase = "handle"  // handle table operations
	PhaseMember  Phase = "member"  // attribute access on a proxy
	PhaseCall    Phase = "call"    // calling a guest callable
	PhaseIterate Phase = "iterate" // iteration adapter
	PhaseScope   Phase = "scope"   // scoped-resource adapter
	PhaseLoad    Phase = "load"    // module loading and import
	PhaseEval    Phase = "eval"    // source execution and evaluation
	PhaseHost    Phase = "host"    // host callbacks invoked from the guest
	PhaseRuntime Phase = "runtime" // runtime lifecycle
	PhaseConfig  Phase = "config"  // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindDeadReference      Kind = "dead_reference"
	KindAttributeNotFound  Kind = "attribute_not_found"
	KindNotCallable        Kind = "not_callable"
	KindConversion         Kind = "conversion"
	KindGuestRuntime       Kind = "guest_runtime"
	KindTypeMismatch       Kind = "type_mismatch"
	KindOverflow           Kind = "overflow"
	KindUnsupported        Kind = "unsupported"
	KindInvalidInput       Kind = "invalid_input"
	KindNotFound           Kind = "not_found"
	KindNotInitialized     Kind = "not_initialized"
	KindAlreadyInitialized Kind = "already_initialized"
	KindHostCallback       Kind = "host_callback"
	KindInvalidData        Kind = "invalid_data"
)

// Origin tells which side of the boundary raised the failure.
type Origin string

const (
	OriginHost  Origin = "host"
	OriginGuest Origin = "guest"
)

// Sentinels for errors.Is. They match on Kind only.
var (
	ErrDeadReference      = &Error{Kind: KindDeadReference}
	ErrAttributeNotFound  = &Error{Kind: KindAttributeNotFound}
	ErrNotCallable        = &Error{Kind: KindNotCallable}
	ErrConversion         = &Error{Kind: KindConversion}
	ErrGuestRuntime       = &Error{Kind: KindGuestRuntime}
	ErrNotInitialized     = &Error{Kind: KindNotInitialized}
	ErrAlreadyInitialized = &Error{Kind: KindAlreadyInitialized}
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value        any
	Cause        error
	Phase        Phase
	Kind         Kind
	Origin       Origin
	GoType       string
	GuestType    string
	Detail       string
	GuestMessage string
	Traceback    string
	Path         []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.GuestType != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.GuestType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", guest type ")
			b.WriteString(e.GuestType)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("guest type ")
			b.WriteString(e.GuestType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.GuestType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil && e.Kind != KindGuestRuntime {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a Phase matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// FromHost reports whether the failure originated in host code.
func (e *Error) FromHost() bool {
	return e.Origin == OriginHost
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase:  phase,
			Kind:   kind,
			Origin: OriginHost,
		},
	}
}

// Path sets the member path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// GuestType sets the guest type name
func (b *Builder) GuestType(t string) *Builder {
	b.err.GuestType = t
	return b
}

// Origin sets the side that raised the failure
func (b *Builder) Origin(o Origin) *Builder {
	b.err.Origin = o
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for the bridge taxonomy

// DeadReference creates an error for an operation on a released handle
func DeadReference(phase Phase, id uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDeadReference,
		Origin: OriginHost,
		Detail: fmt.Sprintf("handle %d has been released", id),
		Value:  id,
	}
}

// AttributeNotFound creates a missing member error
func AttributeNotFound(guestType, name string) *Error {
	return &Error{
		Phase:     PhaseMember,
		Kind:      KindAttributeNotFound,
		Origin:    OriginGuest,
		GuestType: guestType,
		Path:      []string{name},
		Detail:    fmt.Sprintf("%s has no attribute %q", guestType, name),
	}
}

// NotCallable creates an error for calling a non-callable guest value
func NotCallable(guestType string) *Error {
	return &Error{
		Phase:     PhaseCall,
		Kind:      KindNotCallable,
		Origin:    OriginHost,
		GuestType: guestType,
		Detail:    fmt.Sprintf("%s value is not callable", guestType),
	}
}

// Conversion creates a conversion failure error
func Conversion(phase Phase, goType, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindConversion,
		Origin: OriginHost,
		GoType: goType,
		Detail: detail,
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, guestType string) *Error {
	return &Error{
		Phase:     phase,
		Kind:      KindTypeMismatch,
		Origin:    OriginHost,
		Path:      path,
		GoType:    goType,
		GuestType: guestType,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, targetType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Origin: OriginHost,
		Path:   path,
		GoType: targetType,
		Detail: fmt.Sprintf("value %v overflows %s", value, targetType),
		Value:  value,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Origin: OriginHost,
		Detail: what,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Origin: OriginHost,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Origin: OriginHost,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Origin: OriginHost,
		Detail: detail,
	}
}

// HostCallback wraps a failure raised by host code that the guest called into.
func HostCallback(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindHostCallback,
		Origin: OriginHost,
		Path:   []string{name},
		Detail: cause.Error(),
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Origin: OriginHost,
		Detail: detail,
		Cause:  cause,
	}
}

// FromGuest converts a failure observed at a boundary crossing into a
// guest_runtime error. The guest message is kept verbatim. Bridge errors
// that did not pass through the guest are returned unchanged.
func FromGuest(phase Phase, err error) error {
	if err == nil {
		return nil
	}

	var evalErr *starlark.EvalError
	if !stderrors.As(err, &evalErr) {
		var be *Error
		if stderrors.As(err, &be) {
			return err
		}
		return &Error{
			Phase:        phase,
			Kind:         KindGuestRuntime,
			Origin:       OriginGuest,
			Detail:       err.Error(),
			GuestMessage: err.Error(),
			Cause:        err,
		}
	}

	out := &Error{
		Phase:        phase,
		Kind:         KindGuestRuntime,
		Origin:       OriginGuest,
		Detail:       evalErr.Msg,
		GuestMessage: evalErr.Error(),
		Traceback:    evalErr.Backtrace(),
		Cause:        err,
	}

	// A host callback failure keeps its origin even after travelling
	// through guest frames.
	var inner *Error
	if stderrors.As(evalErr.Unwrap(), &inner) && inner.Origin == OriginHost {
		out.Origin = OriginHost
	}
	return out
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Origin: OriginHost,
		Detail: detail,
		Cause:  cause,
	}
}
