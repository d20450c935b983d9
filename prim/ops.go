package prim

import (
	"slices"

	"github.com/gomlx/paddle-gomlx/framework"
	"github.com/pkg/errors"
)

func init() {
	// Shape primitives trust the `shape` attribute: compatibility with X is checked by Verify.
	Register(&OpDef{
		Name:         "reshape_p",
		Inputs:       []string{"X"},
		Outputs:      []string{"Y"},
		Attrs:        []AttrSpec{{Name: "shape", Type: framework.AttrTypeInt64s}},
		InferShape:   shapeFromAttr,
		InferVarType: copyVarType,
		Verify:       verifyReshape,
	})
	Register(&OpDef{
		Name:         "broadcast_p",
		Inputs:       []string{"X"},
		Outputs:      []string{"Y"},
		Attrs:        []AttrSpec{{Name: "shape", Type: framework.AttrTypeInt64s}},
		InferShape:   shapeFromAttr,
		InferVarType: copyVarType,
		Verify:       verifyBroadcast,
	})
	Register(&OpDef{
		Name:         "transpose_p",
		Inputs:       []string{"X"},
		Outputs:      []string{"Y"},
		Attrs:        []AttrSpec{{Name: "axis", Type: framework.AttrTypeInt64s}},
		InferShape:   transposeShape,
		InferVarType: copyVarType,
		Verify:       verifyTranspose,
	})
	Register(&OpDef{
		Name:    "reduce_sum_p",
		Inputs:  []string{"X"},
		Outputs: []string{"Y"},
		Attrs: []AttrSpec{
			{Name: "axis", Type: framework.AttrTypeInt64s},
			{Name: "keepdim", Type: framework.AttrTypeBool, Optional: true},
		},
		InferShape:   reduceSumShape,
		InferVarType: copyVarType,
	})
	for _, name := range []string{"tanh_p", "exp_p", "log_p", "sqrt_p"} {
		Register(&OpDef{
			Name:         name,
			Inputs:       []string{"X"},
			Outputs:      []string{"Y"},
			InferShape:   sameShape,
			InferVarType: copyVarType,
		})
	}
}

// transposeShape permutes X's shape: Y.shape[i] = X.shape[axis[i]].
func transposeShape(ctx *OpContext) error {
	axis, err := Attr[framework.Int64sAttr](ctx, "axis")
	if err != nil {
		return err
	}
	x, y, err := unaryVars(ctx)
	if err != nil {
		return err
	}
	if x.Shape == nil {
		y.Shape = nil
		return nil
	}
	if len(axis) != len(x.Shape) {
		return errors.Wrapf(framework.ErrInvalidAttribute, "transpose_p of %q with rank %d got %d axes %v",
			x.Name, len(x.Shape), len(axis), axis)
	}
	shape := make([]int64, len(axis))
	for ii, from := range axis {
		if from < 0 || int(from) >= len(x.Shape) {
			return errors.Wrapf(framework.ErrInvalidAttribute, "transpose_p axis %v out of range for %q with rank %d",
				axis, x.Name, len(x.Shape))
		}
		shape[ii] = x.Shape[from]
	}
	y.Shape = shape
	return nil
}

// reduceSumShape removes (or sets to 1, if keepdim) the reduced axes. Negative axes count from the end.
func reduceSumShape(ctx *OpContext) error {
	axis, err := Attr[framework.Int64sAttr](ctx, "axis")
	if err != nil {
		return err
	}
	keepDim, err := framework.GetAttrOr(ctx.OpDesc(), "keepdim", framework.BoolAttr(false))
	if err != nil {
		return err
	}
	x, y, err := unaryVars(ctx)
	if err != nil {
		return err
	}
	if x.Shape == nil {
		y.Shape = nil
		return nil
	}
	reduced, err := normalizeAxes(axis, len(x.Shape))
	if err != nil {
		return errors.WithMessagef(err, "reduce_sum_p of %q", x.Name)
	}
	shape := make([]int64, 0, len(x.Shape))
	for ii, dim := range x.Shape {
		switch {
		case !slices.Contains(reduced, ii):
			shape = append(shape, dim)
		case bool(keepDim):
			shape = append(shape, 1)
		}
	}
	y.Shape = shape
	return nil
}

// normalizeAxes converts negative axes to positive ones and checks they are in range.
func normalizeAxes(axes []int64, rank int) ([]int, error) {
	normalized := make([]int, len(axes))
	for ii, axis := range axes {
		a := int(axis)
		if a < 0 {
			a += rank
		}
		if a < 0 || a >= rank {
			return nil, errors.Wrapf(framework.ErrInvalidAttribute, "axis %d out of range for rank %d", axis, rank)
		}
		normalized[ii] = a
	}
	return normalized, nil
}
