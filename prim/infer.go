package prim

import (
	"slices"

	"github.com/gomlx/paddle-gomlx/framework"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// OpContext addresses one operator of a program, by block and op index.
type OpContext struct {
	Program *framework.ProgramDesc
	Block   int
	Op      int
}

// newOpContext checks that (blockIdx, opIdx) addresses an operator of program.
func newOpContext(program *framework.ProgramDesc, blockIdx, opIdx int) (*OpContext, error) {
	if blockIdx < 0 || blockIdx >= program.NumBlocks() {
		return nil, errors.Wrapf(framework.ErrInvalidArgument, "block #%d out of range, program has %d blocks",
			blockIdx, program.NumBlocks())
	}
	if numOps := program.Block(blockIdx).NumOps(); opIdx < 0 || opIdx >= numOps {
		return nil, errors.Wrapf(framework.ErrInvalidArgument, "op #%d out of range, block #%d has %d ops",
			opIdx, blockIdx, numOps)
	}
	return &OpContext{Program: program, Block: blockIdx, Op: opIdx}, nil
}

// OpDesc returns the operator addressed by the context.
func (c *OpContext) OpDesc() *framework.OpDesc {
	return c.Program.Block(c.Block).Op(c.Op)
}

// InputVar returns the VarDesc bound to the input slot, searching the op's block and its parents.
func (c *OpContext) InputVar(slot string) (*framework.VarDesc, error) {
	return c.slotVar(slot, c.OpDesc().Input(slot), "input")
}

// OutputVar returns the VarDesc bound to the output slot, searching the op's block and its parents.
func (c *OpContext) OutputVar(slot string) (*framework.VarDesc, error) {
	return c.slotVar(slot, c.OpDesc().Output(slot), "output")
}

func (c *OpContext) slotVar(slot string, names []string, kind string) (*framework.VarDesc, error) {
	if len(names) != 1 {
		return nil, errors.Wrapf(framework.ErrMissingVar, "%s slot %q of op %q binds %d variables, wanted 1",
			kind, slot, c.OpDesc().Type(), len(names))
	}
	return c.Program.FindVarRecursive(c.Block, names[0])
}

// Attr is a shortcut to framework.GetAttr for the operator addressed by ctx.
func Attr[T framework.Attribute](ctx *OpContext, name string) (T, error) {
	return framework.GetAttr[T](ctx.OpDesc(), name)
}

// primitiveOf returns the definition of the op addressed by ctx, after checking its slots and attributes.
func primitiveOf(ctx *OpContext) (*OpDef, error) {
	op := ctx.OpDesc()
	def, found := Lookup(op.Type())
	if !found {
		return nil, errors.Wrapf(framework.ErrInvalidArgument, "op %q is not a registered primitive", op.Type())
	}
	if err := def.checkSlots(op); err != nil {
		return nil, err
	}
	if err := def.checkAttrs(op); err != nil {
		return nil, err
	}
	return def, nil
}

// InferShape sets the shape of the outputs of the primitive operator at (blockIdx, opIdx).
func InferShape(program *framework.ProgramDesc, blockIdx, opIdx int) error {
	ctx, err := newOpContext(program, blockIdx, opIdx)
	if err != nil {
		return errors.WithMessagef(err, "while inferring shape")
	}
	def, err := primitiveOf(ctx)
	if err == nil {
		err = def.InferShape(ctx)
	}
	if err != nil {
		return errors.WithMessagef(err, "while inferring shape of op #%d (%q) of block #%d", opIdx, ctx.OpDesc().Type(), blockIdx)
	}
	return nil
}

// InferVarType sets the var type and dtype of the outputs of the primitive operator at (blockIdx, opIdx).
func InferVarType(program *framework.ProgramDesc, blockIdx, opIdx int) error {
	ctx, err := newOpContext(program, blockIdx, opIdx)
	if err != nil {
		return errors.WithMessagef(err, "while inferring var type")
	}
	def, err := primitiveOf(ctx)
	if err == nil {
		err = def.InferVarType(ctx)
	}
	if err != nil {
		return errors.WithMessagef(err, "while inferring var type of op #%d (%q) of block #%d", opIdx, ctx.OpDesc().Type(), blockIdx)
	}
	return nil
}

// InferProgram runs InferVarType and InferShape on every primitive operator of the program, in block and
// op order. Non-primitive operators are skipped. It returns the number of primitive operators visited.
//
// It stops at the first error, leaving the outputs of the earlier operators updated.
func InferProgram(program *framework.ProgramDesc) (int, error) {
	var count int
	for blockIdx := range program.NumBlocks() {
		block := program.Block(blockIdx)
		for opIdx := range block.NumOps() {
			if !IsPrimitive(block.Op(opIdx).Type()) {
				continue
			}
			if err := InferVarType(program, blockIdx, opIdx); err != nil {
				return count, err
			}
			if err := InferShape(program, blockIdx, opIdx); err != nil {
				return count, err
			}
			count++
			if klog.V(2).Enabled() {
				y := block.Op(opIdx).OutputArgumentNames()
				klog.Infof("inferred op #%d (%q) of block #%d: outputs %v", opIdx, block.Op(opIdx).Type(), blockIdx, y)
			}
		}
	}
	klog.V(1).Infof("inferred %d primitive ops in %d blocks", count, program.NumBlocks())
	return count, nil
}

// unaryVars returns the X input and Y output variables of a single-input/single-output primitive.
func unaryVars(ctx *OpContext) (x, y *framework.VarDesc, err error) {
	x, err = ctx.InputVar("X")
	if err != nil {
		return
	}
	y, err = ctx.OutputVar("Y")
	return
}

// copyVarType is the var-type inference shared by all primitives: the output takes the input's
// container type and dtype.
func copyVarType(ctx *OpContext) error {
	x, y, err := unaryVars(ctx)
	if err != nil {
		return err
	}
	y.Type = x.Type
	y.DType = x.DType
	return nil
}

// sameShape is the shape inference of element-wise primitives.
func sameShape(ctx *OpContext) error {
	x, y, err := unaryVars(ctx)
	if err != nil {
		return err
	}
	y.Shape = slices.Clone(x.Shape)
	return nil
}

// shapeFromAttr sets the output shape to the `shape` attribute, without any check against the input.
func shapeFromAttr(ctx *OpContext) error {
	shape, err := Attr[framework.Int64sAttr](ctx, "shape")
	if err != nil {
		return err
	}
	y, err := ctx.OutputVar("Y")
	if err != nil {
		return err
	}
	y.Shape = slices.Clone([]int64(shape))
	return nil
}
