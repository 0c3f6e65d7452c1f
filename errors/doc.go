// Package errors provides structured error types for the bridge.
//
// Errors are categorized by Phase (which crossing step failed), Kind (the
// taxonomy entry) and Origin (host or guest side). Guest failures keep the
// guest message and traceback verbatim so host code can render them.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseEncode, errors.KindTypeMismatch).
//		Path("args", "0").
//		GoType("chan int").
//		Detail("channels cannot cross the boundary").
//		Build()
//
// Or use convenience constructors for the taxonomy:
//
//	err := errors.DeadReference(errors.PhaseMember, 7)
//	err := errors.AttributeNotFound("module", "missing")
//	err := errors.FromGuest(errors.PhaseCall, evalErr)
//
// Sentinels match on Kind regardless of phase:
//
//	if errors.Is(err, bridgeerrors.ErrDeadReference) { ... }
package errors
