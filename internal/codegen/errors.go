package codegen

import "fmt"

// Error kinds per spec.md §7. These are concrete types, not sentinel
// strings, so callers can switch on kind with errors.As.

// InvariantViolationError marks a programming error in a pass: a state
// that should be unreachable if every earlier phase did its job. It is
// never expected in production use; Run recovers the panic that
// raises it and converts it to this error (spec.md §7 "not recoverable"
// within the phase, but convertible at the top level so callers get an
// error value rather than a crashed process).
type InvariantViolationError struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation (%s): %s", e.Invariant, e.Detail)
}

// UnresolvedReferenceError reports a symbol an IR construction looked up
// that is not present in the module (spec.md §7).
type UnresolvedReferenceError struct {
	Name string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved reference: %s", e.Name)
}

// UnsupportedConstructError reports a reachable-but-unimplemented path,
// e.g. a calling convention corner this pipeline does not lower (spec.md
// §7).
type UnsupportedConstructError struct {
	Construct string
	Detail    string
}

func (e *UnsupportedConstructError) Error() string {
	return fmt.Sprintf("unsupported construct %q: %s", e.Construct, e.Detail)
}

// EncoderLimitError reports a displacement or immediate that does not fit
// its field width. Per spec.md §7 this is always a programming error
// upstream: the allocator or selector should never have produced an
// unrepresentable operand.
type EncoderLimitError struct {
	Field string
	Value int64
}

func (e *EncoderLimitError) Error() string {
	return fmt.Sprintf("encoder limit exceeded: field %s cannot hold %d", e.Field, e.Value)
}
