package togomlx

import (
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/paddle-gomlx/framework"
	"github.com/pkg/errors"
)

// IsStatic returns whether all dimensions are known (non-negative). A nil shape (unknown rank) is not static.
func IsStatic(dims []int64) bool {
	if dims == nil {
		return false
	}
	for _, dim := range dims {
		if dim < 0 {
			return false
		}
	}
	return true
}

// Shape converts the variable's data type and shape to a GoMLX shapes.Shape (it includes the dtype).
//
// Only static shapes can be converted: unknown ranks or dynamic (-1) dimensions return an error
// wrapping framework.ErrInvalidArgument.
func Shape(v *framework.VarDesc) (shape shapes.Shape, err error) {
	if v == nil {
		err = errors.Wrap(framework.ErrInvalidArgument, "VarDesc is nil")
		return
	}
	shape.DType, err = DType(v.DType)
	if err != nil {
		err = errors.WithMessagef(err, "variable %q", v.Name)
		return
	}
	if !IsStatic(v.Shape) {
		err = errors.Wrapf(framework.ErrInvalidArgument, "variable %q has a dynamic or unknown shape %v", v.Name, v.Shape)
		return
	}
	// Built directly (not with shapes.Make), so zero-sized dimensions are accepted.
	shape.Dimensions = make([]int, len(v.Shape))
	for axis, dim := range v.Shape {
		shape.Dimensions[axis] = int(dim)
	}
	return
}
