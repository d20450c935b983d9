// Package prim declares the primitive operators of a program: minimal operators (`reshape_p`,
// `broadcast_p`, `tanh_p`, ...) that only exist as an intermediate representation, to be consumed by
// lowering or differentiation passes before a program is executed.
//
// It provides:
//
//   - A registry of primitive operator definitions (OpDef), populated at init.
//   - Shape and var-type inference passes (InferShape, InferVarType, InferProgram), and the deferred
//     verification pass (Verify, VerifyProgram).
//   - VJP (vector-Jacobian product) dispatch: backward rules keyed by operator type, see VJP.
//   - The CompositeContext, the per-task configuration consulted by decomposition passes.
//   - DescBackend, a Backend that materializes backward operators into a block of the program.
package prim

import (
	"maps"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/paddle-gomlx/framework"
	"github.com/pkg/errors"
)

// AttrSpec declares one attribute of a primitive operator.
type AttrSpec struct {
	Name     string
	Type     framework.AttrType
	Optional bool
}

// InferFn infers some property (shape or var type) of the outputs of the operator in ctx,
// updating the output VarDescs in place.
type InferFn func(ctx *OpContext) error

// OpDef is the static contract of a primitive operator.
type OpDef struct {
	// Name is the operator type, e.g.: "reshape_p".
	Name string

	// Inputs and Outputs list the slot names. Each slot binds exactly one variable.
	Inputs, Outputs []string

	Attrs []AttrSpec

	InferShape   InferFn
	InferVarType InferFn

	// Verify implements checks deferred from shape inference. Optional.
	Verify InferFn
}

// registry maps operator types to their definitions.
var registry = make(map[string]*OpDef)

// Register adds a primitive operator definition. It panics if the definition is malformed or if an
// operator with the same name is already registered.
func Register(def *OpDef) {
	if def == nil || def.Name == "" {
		exceptions.Panicf("prim.Register: definition must have a name")
	}
	if def.InferShape == nil || def.InferVarType == nil {
		exceptions.Panicf("prim.Register(%q): InferShape and InferVarType must be defined", def.Name)
	}
	if _, found := registry[def.Name]; found {
		exceptions.Panicf("prim.Register(%q): operator already registered", def.Name)
	}
	registry[def.Name] = def
}

// Lookup returns the definition of the primitive operator.
func Lookup(opType string) (def *OpDef, found bool) {
	def, found = registry[opType]
	return
}

// IsPrimitive returns whether opType is a registered primitive operator.
func IsPrimitive(opType string) bool {
	_, found := registry[opType]
	return found
}

// RegisteredOps returns the sorted names of all registered primitive operators.
func RegisteredOps() []string {
	return slices.Sorted(maps.Keys(registry))
}

// Run is the execution body of every primitive operator: primitives must be eliminated by a lowering
// pass before a program is executed, so reaching it always panics with an error wrapping
// framework.ErrUnimplementedExecution.
func (def *OpDef) Run(op *framework.OpDesc) {
	panic(errors.Wrapf(framework.ErrUnimplementedExecution,
		"primitive operator %q (%s) should have been lowered before execution", def.Name, op))
}

// checkAttrs validates op's attributes against the definition.
func (def *OpDef) checkAttrs(op *framework.OpDesc) error {
	for _, spec := range def.Attrs {
		attr, found := op.SoftAttr(spec.Name)
		if !found {
			if spec.Optional {
				continue
			}
			return errors.Wrapf(framework.ErrMissingAttribute, "primitive %q requires attribute %q (%s)",
				def.Name, spec.Name, spec.Type)
		}
		if attr.Type() != spec.Type {
			return errors.Wrapf(framework.ErrInvalidAttribute, "attribute %q of primitive %q must be %s, got %s",
				spec.Name, def.Name, spec.Type, attr.Type())
		}
	}
	return nil
}

// checkSlots validates that every slot of the definition binds exactly one variable.
func (def *OpDef) checkSlots(op *framework.OpDesc) error {
	for _, slot := range def.Inputs {
		if n := len(op.Input(slot)); n != 1 {
			return errors.Wrapf(framework.ErrMissingVar, "input slot %q of primitive %q must bind exactly one variable, got %d",
				slot, def.Name, n)
		}
	}
	for _, slot := range def.Outputs {
		if n := len(op.Output(slot)); n != 1 {
			return errors.Wrapf(framework.ErrMissingVar, "output slot %q of primitive %q must bind exactly one variable, got %d",
				slot, def.Name, n)
		}
	}
	return nil
}
