// Package togomlx contains conversion utilities from program descriptions to GoMLX types.
package togomlx

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/paddle-gomlx/framework"
	"github.com/pkg/errors"
)

// DType converts a program data type to a GoMLX data type.
// PSTRING and UNDEFINED have no GoMLX counterpart and return an error wrapping framework.ErrUnsupportedDtype.
func DType(dtype framework.DataType) (dtypes.DType, error) {
	switch dtype {
	case framework.Bool:
		return dtypes.Bool, nil
	case framework.Uint8:
		return dtypes.Uint8, nil
	case framework.Int8:
		return dtypes.Int8, nil
	case framework.Int16:
		return dtypes.Int16, nil
	case framework.Int32:
		return dtypes.Int32, nil
	case framework.Int64:
		return dtypes.Int64, nil
	case framework.Float16:
		return dtypes.Float16, nil
	case framework.BFloat16:
		return dtypes.BFloat16, nil
	case framework.Float32:
		return dtypes.Float32, nil
	case framework.Float64:
		return dtypes.Float64, nil
	case framework.Complex64:
		return dtypes.Complex64, nil
	case framework.Complex128:
		return dtypes.Complex128, nil
	default:
		return dtypes.InvalidDType, errors.Wrapf(framework.ErrUnsupportedDtype, "data type %s has no GoMLX equivalent", dtype)
	}
}
