package prim

import (
	"github.com/gomlx/paddle-gomlx/framework"
	"github.com/gomlx/paddle-gomlx/internal/togomlx"
	"github.com/pkg/errors"
)

// Verify runs the checks deferred by shape inference on the primitive operator at (blockIdx, opIdx):
// its input and output must hold a tensor dtype, and the operator's own checks (reshape element count,
// broadcast compatibility, transpose permutation) must hold. Dynamic dimensions are not checked.
func Verify(program *framework.ProgramDesc, blockIdx, opIdx int) error {
	ctx, err := newOpContext(program, blockIdx, opIdx)
	if err != nil {
		return errors.WithMessage(err, "while verifying")
	}
	err = verify(ctx)
	if err != nil {
		return errors.WithMessagef(err, "while verifying op #%d (%q) of block #%d", opIdx, ctx.OpDesc().Type(), blockIdx)
	}
	return nil
}

func verify(ctx *OpContext) error {
	def, err := primitiveOf(ctx)
	if err != nil {
		return err
	}
	x, y, err := unaryVars(ctx)
	if err != nil {
		return err
	}
	for _, v := range []*framework.VarDesc{x, y} {
		if _, err := togomlx.DType(v.DType); err != nil {
			return errors.WithMessagef(err, "variable %q", v.Name)
		}
	}
	if x.DType != y.DType {
		return errors.Wrapf(framework.ErrTypeMismatch, "primitive %q changes dtype from %s (%q) to %s (%q)",
			def.Name, x.DType, x.Name, y.DType, y.Name)
	}
	if def.Verify == nil {
		return nil
	}
	return def.Verify(ctx)
}

// VerifyProgram runs Verify on every primitive operator of the program, stopping at the first error.
func VerifyProgram(program *framework.ProgramDesc) error {
	for blockIdx := range program.NumBlocks() {
		block := program.Block(blockIdx)
		for opIdx := range block.NumOps() {
			if !IsPrimitive(block.Op(opIdx).Type()) {
				continue
			}
			if err := Verify(program, blockIdx, opIdx); err != nil {
				return err
			}
		}
	}
	return nil
}

// verifyReshape checks that the element count is preserved, when both shapes are static.
func verifyReshape(ctx *OpContext) error {
	x, y, err := unaryVars(ctx)
	if err != nil {
		return err
	}
	if !togomlx.IsStatic(x.Shape) || !togomlx.IsStatic(y.Shape) {
		return nil
	}
	xShape, err := togomlx.Shape(x)
	if err != nil {
		return err
	}
	yShape, err := togomlx.Shape(y)
	if err != nil {
		return err
	}
	if xShape.Size() != yShape.Size() {
		return errors.Wrapf(framework.ErrInvalidAttribute, "cannot reshape %q %v (%d elements) to %v (%d elements)",
			x.Name, x.Shape, xShape.Size(), y.Shape, yShape.Size())
	}
	return nil
}

// verifyBroadcast checks that X broadcasts to Y: dimensions are aligned on the right, and each
// dimension of X must either match Y's or be 1.
func verifyBroadcast(ctx *OpContext) error {
	x, y, err := unaryVars(ctx)
	if err != nil {
		return err
	}
	if x.Shape == nil || y.Shape == nil {
		return nil
	}
	if len(x.Shape) > len(y.Shape) {
		return errors.Wrapf(framework.ErrInvalidAttribute, "cannot broadcast %q %v to lower rank shape %v",
			x.Name, x.Shape, y.Shape)
	}
	offset := len(y.Shape) - len(x.Shape)
	for ii, xDim := range x.Shape {
		yDim := y.Shape[offset+ii]
		if xDim < 0 || yDim < 0 || xDim == 1 || xDim == yDim {
			continue
		}
		return errors.Wrapf(framework.ErrInvalidAttribute, "cannot broadcast %q %v to %v: dimension %d of X is %d, wanted 1 or %d",
			x.Name, x.Shape, y.Shape, ii, xDim, yDim)
	}
	return nil
}

// verifyTranspose checks that `axis` is a permutation.
func verifyTranspose(ctx *OpContext) error {
	axis, err := Attr[framework.Int64sAttr](ctx, "axis")
	if err != nil {
		return err
	}
	seen := make([]bool, len(axis))
	for _, a := range axis {
		if a < 0 || int(a) >= len(axis) || seen[a] {
			return errors.Wrapf(framework.ErrInvalidAttribute, "transpose_p axis %v is not a permutation", axis)
		}
		seen[a] = true
	}
	return nil
}
