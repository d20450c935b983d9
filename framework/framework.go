// Package framework provides the in-memory representation of PaddlePaddle programs and the
// migration of operator attributes between schema versions.
//
//   - ProgramDesc: an ordered list of blocks, block 0 being the root (global) block.
//   - BlockDesc: an ordered list of operators (OpDesc) and the variables (VarDesc) they use.
//   - OpDesc: an operator type, its input/output bindings and its attributes.
//   - ConvertToScalarEncoding and ConvertToArrayEncoding: migrate the attributes of `set_value`,
//     `assign_value` and `fill_constant` between the legacy per-type-array encoding and the
//     generic Scalar encoding.
//
// Blocks and ops are owned by their program: any relation between them (a block's parent,
// a sub-block attribute) is expressed as an index, never as a pointer.
package framework

import "github.com/pkg/errors"

// Error kinds. Every error returned by this module wraps one of them, so callers can use errors.Is.
var (
	// ErrUnsupportedDtype is returned when a value carries a dtype the conversion doesn't handle.
	ErrUnsupportedDtype = errors.New("unsupported dtype")

	// ErrMissingAttribute is returned when a required attribute is absent.
	ErrMissingAttribute = errors.New("missing attribute")

	// ErrTypeMismatch is returned when a value is extracted as a type different from its stored type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrUnimplementedExecution is raised (as a panic) when the runtime body of a primitive operator is invoked.
	ErrUnimplementedExecution = errors.New("unimplemented execution")

	// ErrMissingVar is returned when an operator references a variable not declared in its block (or parents).
	ErrMissingVar = errors.New("missing variable")

	// ErrInvalidAttribute is returned when an attribute value violates the operator's schema.
	ErrInvalidAttribute = errors.New("invalid attribute")

	// ErrNoVJPRule is returned when no backward rule is registered for an operator type.
	ErrNoVJPRule = errors.New("no VJP rule registered")

	// ErrInvalidArgument is returned for malformed arguments, e.g. a short stop-gradient vector.
	ErrInvalidArgument = errors.New("invalid argument")
)
