package framework

import (
	"bytes"
	"os"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// legacySetValue appends a `set_value` op in the legacy encoding, with all six typed arrays set
// (empty unless given in values).
func legacySetValue(block *BlockDesc, values AttributeMap) *OpDesc {
	op := block.AppendOp("set_value")
	op.SetInput("Input", "x")
	op.SetOutput("Out", "x")
	op.SetAttr("axes", Int64sAttr{0})
	for name, attr := range emptyTypedArrays(setValueSlots) {
		op.SetAttr(name, attr)
	}
	for name, attr := range values {
		op.SetAttr(name, attr)
	}
	return op
}

func legacyAssignValue(block *BlockDesc, values AttributeMap) *OpDesc {
	op := block.AppendOp("assign_value")
	op.SetOutput("Out", "y")
	op.SetAttr("shape", Int32sAttr{2})
	for name, attr := range emptyTypedArrays(assignValueSlots) {
		op.SetAttr(name, attr)
	}
	for name, attr := range values {
		op.SetAttr(name, attr)
	}
	return op
}

func legacyFillConstant(block *BlockDesc, value float32, strValue string) *OpDesc {
	op := block.AppendOp("fill_constant")
	op.SetOutput("Out", "c")
	op.SetAttr("value", Float32Attr(value))
	op.SetAttr("str_value", StringAttr(strValue))
	return op
}

func requireNoTypedArrays(t *testing.T, op *OpDesc) {
	for _, slot := range setValueSlots {
		require.False(t, op.HasAttr(slot.name), "op %s should not have attribute %q", op, slot.name)
	}
}

func TestConvertSetValueDTypeDispatch(t *testing.T) {
	program := NewProgramDesc()
	op := legacySetValue(program.GlobalBlock(), AttributeMap{"int64_values": Int64sAttr{5, -3}})

	n, err := ConvertToScalarEncoding(program)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	values, err := GetAttr[ScalarsAttr](op, "values")
	require.NoError(t, err)
	require.Equal(t, ScalarsAttr{NewScalar(int64(5)), NewScalar(int64(-3))}, values)
	requireNoTypedArrays(t, op)

	// Other attributes are preserved.
	axes, err := GetAttr[Int64sAttr](op, "axes")
	require.NoError(t, err)
	require.Equal(t, Int64sAttr{0}, axes)
}

func TestConvertRoundTrip(t *testing.T) {
	program := NewProgramDesc()
	root := program.GlobalBlock()
	sub := program.AppendBlock(0)
	cond := root.AppendOp("conditional_block")
	cond.SetAttr("sub_block", BlockAttr(sub.Index()))

	var ops []*OpDesc
	setValueCases := []AttributeMap{
		{"bool_values": BoolsAttr{true, false, true}},
		{"fp32_values": Float32sAttr{1.5, -0.1, 3e38}},
		{"int32_values": Int32sAttr{1, -2, 2147483647}},
		{"int64_values": Int64sAttr{-9223372036854775808, 42}},
		{"fp64_values": Float64sAttr{0.1, -1e-300}},
		{"fp16_values": Float16sAttr{float16.Fromfloat32(0.5), float16.Fromfloat32(-1.25), float16.Fromfloat32(65504)}},
		{},
	}
	for ii, values := range setValueCases {
		// Alternate blocks, to check every block is visited.
		block := root
		if ii%2 == 1 {
			block = sub
		}
		ops = append(ops, legacySetValue(block, values))
	}
	assignValueCases := []AttributeMap{
		{"bool_values": BoolsAttr{false}},
		{"fp32_values": Float32sAttr{2.25}},
		{"int32_values": Int32sAttr{-7, 7}},
		{"int64_values": Int64sAttr{1 << 40}},
		{},
	}
	for _, values := range assignValueCases {
		ops = append(ops, legacyAssignValue(sub, values))
	}
	for _, strValue := range []string{"3.5", "-2", "1e-08", "0"} {
		v := ScalarFromString(strValue)
		f := must.M1(ScalarTo[float32](v))
		ops = append(ops, legacyFillConstant(root, f, strValue))
	}

	originals := make([]AttributeMap, len(ops))
	for ii, op := range ops {
		originals[ii] = op.Attrs()
	}

	n, err := ConvertToScalarEncoding(program)
	require.NoError(t, err)
	require.Equal(t, len(ops), n)
	for _, op := range ops {
		requireNoTypedArrays(t, op)
		require.False(t, op.HasAttr("str_value"))
	}
	require.Equal(t, AttributeMap{"sub_block": BlockAttr(1)}, cond.Attrs())

	n, err = ConvertToArrayEncoding(program)
	require.NoError(t, err)
	require.Equal(t, len(ops), n)
	for ii, op := range ops {
		require.Equal(t, originals[ii], op.Attrs(), "op #%d %s", ii, op)
	}
}

func TestConvertScalarToArrayToScalar(t *testing.T) {
	program := NewProgramDesc()
	block := program.GlobalBlock()
	values := []ScalarsAttr{
		{NewScalar(true)},
		{NewScalar(float32(1.5)), NewScalar(float32(2))},
		{NewScalar(int32(-1))},
		{NewScalar(int64(1) << 50)},
		{NewScalar(0.1), NewScalar(0.2)},
		{NewScalar(float16.Fromfloat32(0.125))},
		{},
	}
	var ops []*OpDesc
	for _, v := range values {
		op := block.AppendOp("set_value")
		op.SetAttr("values", v)
		ops = append(ops, op)
	}

	must.M1(ConvertToArrayEncoding(program))
	for _, op := range ops {
		require.False(t, op.HasAttr("values"))
		for _, slot := range setValueSlots {
			require.True(t, op.HasAttr(slot.name))
		}
	}
	fp16, err := GetAttr[Float16sAttr](ops[5], "fp16_values")
	require.NoError(t, err)
	require.Equal(t, Float16sAttr{float16.Fromfloat32(0.125)}, fp16)
	fp32, err := GetAttr[Float32sAttr](ops[5], "fp32_values")
	require.NoError(t, err)
	require.Empty(t, fp32)

	must.M1(ConvertToScalarEncoding(program))
	for ii, op := range ops {
		got, err := GetAttr[ScalarsAttr](op, "values")
		require.NoError(t, err)
		require.Equal(t, values[ii], got)
	}
}

func TestConvertIdempotence(t *testing.T) {
	program := NewProgramDesc()
	block := program.GlobalBlock()
	legacySetValue(block, AttributeMap{"fp32_values": Float32sAttr{1}})
	legacyAssignValue(block, AttributeMap{"int32_values": Int32sAttr{2}})
	legacyFillConstant(block, 1, "")

	n, err := ConvertToScalarEncoding(program)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	converted := make([]AttributeMap, block.NumOps())
	for ii := range block.NumOps() {
		converted[ii] = block.Op(ii).Attrs()
	}

	n, err = ConvertToScalarEncoding(program)
	require.NoError(t, err)
	require.Zero(t, n)
	for ii := range block.NumOps() {
		require.Equal(t, converted[ii], block.Op(ii).Attrs())
	}

	// Same in the other direction.
	must.M1(ConvertToArrayEncoding(program))
	n, err = ConvertToArrayEncoding(program)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestConvertFillConstant(t *testing.T) {
	t.Run("StringPrecedence", func(t *testing.T) {
		program := NewProgramDesc()
		op := legacyFillConstant(program.GlobalBlock(), 3.0, "hello")
		must.M1(ConvertToScalarEncoding(program))
		value, err := GetAttr[Scalar](op, "value")
		require.NoError(t, err)
		require.Equal(t, ScalarFromString("hello"), value)
		require.Equal(t, PString, value.DType())
		require.False(t, op.HasAttr("str_value"))
	})

	t.Run("NumericStringWins", func(t *testing.T) {
		program := NewProgramDesc()
		op := legacyFillConstant(program.GlobalBlock(), 3.0, "7")
		must.M1(ConvertToScalarEncoding(program))
		value := must.M1(GetAttr[Scalar](op, "value"))
		require.Equal(t, NewScalar(7.0), value)
	})

	t.Run("EmptyString", func(t *testing.T) {
		program := NewProgramDesc()
		op := legacyFillConstant(program.GlobalBlock(), 3.0, "")
		must.M1(ConvertToScalarEncoding(program))
		value := must.M1(GetAttr[Scalar](op, "value"))
		require.Equal(t, NewScalar(float32(3)), value)
	})

	t.Run("MissingStrValue", func(t *testing.T) {
		program := NewProgramDesc()
		op := program.GlobalBlock().AppendOp("fill_constant")
		op.SetAttr("value", Float32Attr(-1))
		must.M1(ConvertToScalarEncoding(program))
		require.Equal(t, NewScalar(float32(-1)), must.M1(GetAttr[Scalar](op, "value")))
	})

	t.Run("ToFloat", func(t *testing.T) {
		testCases := []struct {
			value     Scalar
			wantFloat float32
			wantStr   string
		}{
			{NewScalar(true), 1, "true"},
			{NewScalar(int32(-4)), -4, "-4"},
			{NewScalar(int64(12)), 12, "12"},
			{NewScalar(float32(0.5)), 0.5, "0.5"},
			{NewScalar(2.5), 2.5, "2.5"},
			{NewScalar(float16.Fromfloat32(0.75)), 0.75, "0.75"},
		}
		for _, tc := range testCases {
			program := NewProgramDesc()
			op := program.GlobalBlock().AppendOp("fill_constant")
			op.SetAttr("value", tc.value)
			must.M1(ConvertToArrayEncoding(program))
			require.Equal(t, Float32Attr(tc.wantFloat), must.M1(GetAttr[Float32Attr](op, "value")), "value for %s", tc.value)
			require.Equal(t, StringAttr(tc.wantStr), must.M1(GetAttr[StringAttr](op, "str_value")), "str_value for %s", tc.value)
		}
	})
}

func TestConvertAssignValueNarrowsFloat64(t *testing.T) {
	program := NewProgramDesc()
	op := program.GlobalBlock().AppendOp("assign_value")
	op.SetAttr("values", ScalarsAttr{NewScalar(0.5), NewScalar(-2.0)})
	must.M1(ConvertToArrayEncoding(program))
	require.Equal(t, Float32sAttr{0.5, -2}, must.M1(GetAttr[Float32sAttr](op, "fp32_values")))
	require.False(t, op.HasAttr("fp64_values"))
	require.False(t, op.HasAttr("fp16_values"))
}

func TestConvertLegacyVariants(t *testing.T) {
	program := NewProgramDesc()
	block := program.GlobalBlock()
	boolOp := block.AppendOp("set_value")
	boolOp.SetAttr("bool_values", Int32sAttr{1, 0})
	fp16Op := block.AppendOp("set_value")
	fp16Op.SetAttr("fp16_values", Float32sAttr{0.5})

	must.M1(ConvertToScalarEncoding(program))
	require.Equal(t, ScalarsAttr{NewScalar(true), NewScalar(false)}, must.M1(GetAttr[ScalarsAttr](boolOp, "values")))
	require.Equal(t, ScalarsAttr{NewScalar(float16.Fromfloat32(0.5))}, must.M1(GetAttr[ScalarsAttr](fp16Op, "values")))
}

func TestConvertErrors(t *testing.T) {
	t.Run("UnsupportedDtypeSetValue", func(t *testing.T) {
		program := NewProgramDesc()
		block := program.GlobalBlock()
		good := block.AppendOp("set_value")
		good.SetAttr("values", ScalarsAttr{NewScalar(int32(1))})
		bad := block.AppendOp("set_value")
		bad.SetAttr("values", ScalarsAttr{NewScalar("a"), NewScalar("b")})
		bad.SetAttr("axes", Int64sAttr{1})
		badAttrs := bad.Attrs()
		skipped := block.AppendOp("set_value")
		skipped.SetAttr("values", ScalarsAttr{NewScalar(int32(2))})

		n, err := ConvertToArrayEncoding(program)
		require.ErrorIs(t, err, ErrUnsupportedDtype)
		require.Contains(t, err.Error(), "PSTRING")
		require.Contains(t, err.Error(), "set_value")
		require.Contains(t, err.Error(), "op #1")
		require.Equal(t, 1, n)

		// The failing op is left untouched, and the traversal stops there.
		require.Equal(t, badAttrs, bad.Attrs())
		require.True(t, good.HasAttr("int32_values"))
		require.True(t, skipped.HasAttr("values"))
	})

	t.Run("UnsupportedDtypeAssignValue", func(t *testing.T) {
		program := NewProgramDesc()
		op := program.GlobalBlock().AppendOp("assign_value")
		op.SetAttr("values", ScalarsAttr{NewScalar(float16.Fromfloat32(1))})
		_, err := ConvertToArrayEncoding(program)
		require.ErrorIs(t, err, ErrUnsupportedDtype)
		require.Contains(t, err.Error(), "FLOAT16")
		require.Contains(t, err.Error(), "assign_value")
		require.True(t, op.HasAttr("values"))
	})

	t.Run("UnsupportedDtypeFillConstant", func(t *testing.T) {
		program := NewProgramDesc()
		op := program.GlobalBlock().AppendOp("fill_constant")
		op.SetAttr("value", NewScalar("hello"))
		_, err := ConvertToArrayEncoding(program)
		require.ErrorIs(t, err, ErrUnsupportedDtype)
		require.Contains(t, err.Error(), "fill_constant")
	})

	t.Run("UnsupportedDtypeAfterFirst", func(t *testing.T) {
		program := NewProgramDesc()
		op := program.GlobalBlock().AppendOp("set_value")
		op.SetAttr("values", ScalarsAttr{NewScalar(int64(1)), NewScalar("x")})
		_, err := ConvertToArrayEncoding(program)
		require.ErrorIs(t, err, ErrUnsupportedDtype)
		require.NotErrorIs(t, err, ErrTypeMismatch)
		require.Contains(t, err.Error(), "PSTRING")
		require.Contains(t, err.Error(), "values[1]")
		require.Contains(t, err.Error(), "set_value")
		require.True(t, op.HasAttr("values"))

		program = NewProgramDesc()
		op = program.GlobalBlock().AppendOp("assign_value")
		op.SetAttr("values", ScalarsAttr{NewScalar(int32(1)), NewScalar(float16.Fromfloat32(2))})
		_, err = ConvertToArrayEncoding(program)
		require.ErrorIs(t, err, ErrUnsupportedDtype)
		require.Contains(t, err.Error(), "FLOAT16")
		require.Contains(t, err.Error(), "assign_value")
		require.True(t, op.HasAttr("values"))
	})

	t.Run("MissingAttribute", func(t *testing.T) {
		program := NewProgramDesc()
		program.GlobalBlock().AppendOp("set_value")
		_, err := ConvertToScalarEncoding(program)
		require.ErrorIs(t, err, ErrMissingAttribute)
		_, err = ConvertToArrayEncoding(program)
		require.ErrorIs(t, err, ErrMissingAttribute)

		program = NewProgramDesc()
		program.GlobalBlock().AppendOp("fill_constant")
		_, err = ConvertToScalarEncoding(program)
		require.ErrorIs(t, err, ErrMissingAttribute)
	})

	t.Run("WrongLegacyType", func(t *testing.T) {
		program := NewProgramDesc()
		program.GlobalBlock().AppendOp("set_value").SetAttr("int64_values", Float64sAttr{1})
		_, err := ConvertToScalarEncoding(program)
		require.ErrorIs(t, err, ErrTypeMismatch)
	})
}

// captureLog returns what klog writes while fn runs.
func captureLog(fn func()) string {
	var buf bytes.Buffer
	klog.LogToStderr(false)
	klog.SetOutput(&buf)
	defer func() {
		klog.SetOutput(os.Stderr)
		klog.LogToStderr(true)
	}()
	fn()
	klog.Flush()
	return buf.String()
}

func TestConvertMixedValuesWarns(t *testing.T) {
	program := NewProgramDesc()
	op := program.GlobalBlock().AppendOp("set_value")
	op.SetAttr("values", ScalarsAttr{NewScalar(int32(1)), NewScalar(1.5)})
	logs := captureLog(func() {
		must.M1(ConvertToArrayEncoding(program))
	})
	// Values are cast to the dtype of the first one.
	require.Equal(t, Int32sAttr{1, 1}, must.M1(GetAttr[Int32sAttr](op, "int32_values")))
	require.Contains(t, logs, "values[1] of dtype FLOAT64 is cast to INT32")

	// Same dtype everywhere: nothing to report.
	program = NewProgramDesc()
	program.GlobalBlock().AppendOp("set_value").SetAttr("values", ScalarsAttr{NewScalar(int32(1)), NewScalar(int32(2))})
	logs = captureLog(func() {
		must.M1(ConvertToArrayEncoding(program))
	})
	require.NotContains(t, logs, "is cast to")
}

func TestConvertLegacyFloat16Rounding(t *testing.T) {
	program := NewProgramDesc()
	block := program.GlobalBlock()
	exact := block.AppendOp("set_value")
	exact.SetAttr("fp16_values", Float32sAttr{0.5})
	rounded := block.AppendOp("set_value")
	rounded.SetAttr("fp16_values", Float32sAttr{0.1})

	logs := captureLog(func() {
		must.M1(ConvertToScalarEncoding(program))
	})
	require.Contains(t, logs, "fp16_values[0]=0.1 rounded to float16")
	require.NotContains(t, logs, "=0.5 rounded")

	// The way back writes the float16 container.
	must.M1(ConvertToArrayEncoding(program))
	want := float16.Fromfloat32(0.1)
	require.Equal(t, Float16sAttr{want}, must.M1(GetAttr[Float16sAttr](rounded, "fp16_values")))
	require.NotEqual(t, float32(0.1), want.Float32())
}
