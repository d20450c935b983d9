package prim

import (
	"testing"

	"github.com/gomlx/paddle-gomlx/framework"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	testCases := []struct {
		name    string
		opType  string
		xShape  []int64
		attrs   framework.AttributeMap
		wantErr bool
	}{
		{"reshape-ok", "reshape_p", []int64{2, 3, 4}, framework.AttributeMap{"shape": framework.Int64sAttr{6, 4}}, false},
		{"reshape-count", "reshape_p", []int64{2, 3, 4}, framework.AttributeMap{"shape": framework.Int64sAttr{5, 5}}, true},
		{"reshape-dynamic", "reshape_p", []int64{-1, 4}, framework.AttributeMap{"shape": framework.Int64sAttr{5, 5}}, false},
		{"broadcast-ok", "broadcast_p", []int64{3, 1}, framework.AttributeMap{"shape": framework.Int64sAttr{2, 3, 4}}, false},
		{"broadcast-dims", "broadcast_p", []int64{3, 2}, framework.AttributeMap{"shape": framework.Int64sAttr{2, 3, 4}}, true},
		{"broadcast-rank", "broadcast_p", []int64{1, 3, 4}, framework.AttributeMap{"shape": framework.Int64sAttr{3, 4}}, true},
		{"broadcast-dynamic", "broadcast_p", []int64{-1, 2}, framework.AttributeMap{"shape": framework.Int64sAttr{5, 2}}, false},
		{"transpose-ok", "transpose_p", []int64{2, 3}, framework.AttributeMap{"axis": framework.Int64sAttr{1, 0}}, false},
		{"transpose-repeated", "transpose_p", []int64{2, 2}, framework.AttributeMap{"axis": framework.Int64sAttr{1, 1}}, true},
		{"unary", "log_p", []int64{7}, nil, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			program := buildUnary(tc.opType, tc.xShape, tc.attrs)
			_, err := InferProgram(program)
			require.NoError(t, err)
			err = VerifyProgram(program)
			if tc.wantErr {
				require.ErrorIs(t, err, framework.ErrInvalidAttribute)
				require.Contains(t, err.Error(), "while verifying op #0")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestVerifyDTypes(t *testing.T) {
	program := buildUnary("exp_p", []int64{2}, nil)
	require.NoError(t, InferVarType(program, 0, 0))
	program.GlobalBlock().Var("y").DType = framework.Float64
	require.ErrorIs(t, Verify(program, 0, 0), framework.ErrTypeMismatch)

	program = buildUnary("exp_p", []int64{2}, nil)
	program.GlobalBlock().Var("x").DType = framework.PString
	require.NoError(t, InferVarType(program, 0, 0))
	require.ErrorIs(t, Verify(program, 0, 0), framework.ErrUnsupportedDtype)
}
