package framework

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// This file implements the migration of operator attributes between the two schema versions:
//
//   - Array encoding (legacy): one typed list attribute per dtype (`bool_values`, `fp32_values`, ...) for
//     `set_value`/`assign_value`, and a float `value` plus a `str_value` string for `fill_constant`.
//   - Scalar encoding: a single `values` ScalarsAttr, or a single Scalar `value` for `fill_constant`.
//
// Each op is converted atomically: the new attributes are fully computed before the op is touched.
// A failure still aborts the traversal, leaving the ops already visited converted: the program
// must be discarded on error.

// opConverter converts one operator in place. It returns false if there was nothing to convert
// (the op is already in the target encoding).
type opConverter func(op *OpDesc) (converted bool, err error)

// legacySlot is one typed-array attribute of the legacy encoding.
type legacySlot struct {
	name  string
	dtype DataType
}

// setValueSlots are listed in priority order: the first non-empty one wins.
var setValueSlots = []legacySlot{
	{"bool_values", Bool},
	{"fp32_values", Float32},
	{"int32_values", Int32},
	{"int64_values", Int64},
	{"fp64_values", Float64},
	{"fp16_values", Float16},
}

// assignValueSlots is the subset of slots used by `assign_value`.
var assignValueSlots = setValueSlots[:4]

var (
	setValueDTypes    = []DataType{Bool, Float32, Int32, Int64, Float64, Float16}
	assignValueDTypes = []DataType{Bool, Float32, Int32, Int64, Float64}
)

var (
	scalarEncoders = map[string]opConverter{
		"set_value":     func(op *OpDesc) (bool, error) { return typedArraysToScalars(op, setValueSlots) },
		"assign_value":  func(op *OpDesc) (bool, error) { return typedArraysToScalars(op, assignValueSlots) },
		"fill_constant": fillConstantToScalar,
	}

	arrayEncoders = map[string]opConverter{
		"set_value":     setValueToTypedArrays,
		"assign_value":  assignValueToTypedArrays,
		"fill_constant": fillConstantToFloat,
	}
)

// ConvertToScalarEncoding replaces, in place, the legacy typed-array attributes of every
// `set_value`, `assign_value` and `fill_constant` op in the program by the Scalar encoding.
//
// Ops already in the Scalar encoding are left untouched. It returns the number of ops converted.
// On error the program is left partially converted and must be discarded.
func ConvertToScalarEncoding(program *ProgramDesc) (int, error) {
	return convertProgram(program, scalarEncoders, "scalar")
}

// ConvertToArrayEncoding is the inverse of ConvertToScalarEncoding: it re-expands the Scalar
// encoding into the legacy typed-array attributes, for programs to be read by older runtimes.
//
// Ops already in the legacy encoding are left untouched. It returns the number of ops converted.
// On error the program is left partially converted and must be discarded.
func ConvertToArrayEncoding(program *ProgramDesc) (int, error) {
	return convertProgram(program, arrayEncoders, "array")
}

// convertProgram visits blocks in order, and ops in order within each block.
func convertProgram(program *ProgramDesc, converters map[string]opConverter, encoding string) (int, error) {
	var numConverted int
	for blockIdx := range program.NumBlocks() {
		block := program.Block(blockIdx)
		for opIdx := range block.NumOps() {
			op := block.Op(opIdx)
			convertFn, found := converters[op.Type()]
			if !found {
				continue
			}
			converted, err := convertFn(op)
			if err != nil {
				return numConverted, errors.WithMessagef(err, "while converting op #%d (%q) of block #%d to %s encoding",
					opIdx, op.Type(), blockIdx, encoding)
			}
			if converted {
				numConverted++
				klog.V(2).Infof("converted op #%d (%q) of block #%d to %s encoding", opIdx, op.Type(), blockIdx, encoding)
			}
		}
	}
	klog.V(1).Infof("converted %d ops in %d blocks to %s encoding", numConverted, program.NumBlocks(), encoding)
	return numConverted, nil
}

// requireEncoding is called when an op has none of the attributes of the source encoding:
// it checks that the op is in the target encoding, in which case there is nothing to do.
func requireEncoding(op *OpDesc, name string, attrType AttrType) error {
	attr, err := op.Attr(name)
	if err != nil {
		return err
	}
	if attr.Type() != attrType {
		return errors.Wrapf(ErrTypeMismatch, "attribute %q of op %q is %s, wanted %s", name, op.Type(), attr.Type(), attrType)
	}
	return nil
}

////////////////////////////////////////////////////////////////////
//
// Array -> Scalar encoding.
//
////////////////////////////////////////////////////////////////////

// typedArraysToScalars converts the legacy typed-array attributes of `set_value`/`assign_value` to a single `values` attribute.
func typedArraysToScalars(op *OpDesc, slots []legacySlot) (bool, error) {
	var (
		present bool
		chosen  string
	)
	values := ScalarsAttr{}
	for _, slot := range slots {
		attr, found := op.SoftAttr(slot.name)
		if !found {
			continue
		}
		present = true
		scalars, err := wrapAsScalars(op, slot, attr)
		if err != nil {
			return false, err
		}
		if len(scalars) == 0 {
			continue
		}
		if chosen != "" {
			klog.Warningf("op %q has values in both %q and %q, only %q is kept", op.Type(), chosen, slot.name, chosen)
			continue
		}
		chosen = slot.name
		values = scalars
	}
	if !present {
		return false, requireEncoding(op, "values", AttrTypeScalars)
	}
	for _, slot := range slots {
		op.RemoveAttr(slot.name)
	}
	op.SetAttr("values", values)
	return true, nil
}

// wrapAsScalars wraps each element of a legacy typed array as a Scalar tagged with the slot's dtype.
func wrapAsScalars(op *OpDesc, slot legacySlot, attr Attribute) (ScalarsAttr, error) {
	switch values := attr.(type) {
	case BoolsAttr:
		if slot.dtype == Bool {
			return wrapEach(values), nil
		}
	case Int32sAttr:
		if slot.dtype == Int32 {
			return wrapEach(values), nil
		}
		if slot.dtype == Bool {
			// Older programs stored `bool_values` as a list of 0/1 integers.
			scalars := make(ScalarsAttr, len(values))
			for ii, v := range values {
				scalars[ii] = NewScalar(v != 0)
			}
			return scalars, nil
		}
	case Int64sAttr:
		if slot.dtype == Int64 {
			return wrapEach(values), nil
		}
	case Float32sAttr:
		if slot.dtype == Float32 {
			return wrapEach(values), nil
		}
		if slot.dtype == Float16 {
			// Older programs stored `fp16_values` as a list of float32.
			scalars := make(ScalarsAttr, len(values))
			for ii, v := range values {
				f16 := float16.Fromfloat32(v)
				if f16.Float32() != v {
					klog.Warningf("op %q: %s[%d]=%g rounded to float16 %g", op.Type(), slot.name, ii, v, f16.Float32())
				}
				scalars[ii] = NewScalar(f16)
			}
			return scalars, nil
		}
	case Float64sAttr:
		if slot.dtype == Float64 {
			return wrapEach(values), nil
		}
	case Float16sAttr:
		if slot.dtype == Float16 {
			return wrapEach(values), nil
		}
	}
	return nil, errors.Wrapf(ErrTypeMismatch, "attribute %q of op %q is %s, which doesn't hold %s values",
		slot.name, op.Type(), attr.Type(), slot.dtype)
}

func wrapEach[S ~[]T, T ScalarType](values S) ScalarsAttr {
	scalars := make(ScalarsAttr, len(values))
	for ii, v := range values {
		scalars[ii] = NewScalar(v)
	}
	return scalars
}

// fillConstantToScalar converts the float `value` and `str_value` attributes into a single Scalar `value`.
//
// A non-empty `str_value` takes precedence over `value`, even for numeric constants.
func fillConstantToScalar(op *OpDesc) (bool, error) {
	attr, err := op.Attr("value")
	if err != nil {
		return false, err
	}
	var floatValue float32
	switch v := attr.(type) {
	case Scalar:
		return false, nil
	case Float32Attr:
		floatValue = float32(v)
	default:
		return false, errors.Wrapf(ErrTypeMismatch, "attribute \"value\" of op %q is %s, wanted FLOAT or SCALAR", op.Type(), attr.Type())
	}
	strValue, err := GetAttrOr(op, "str_value", StringAttr(""))
	if err != nil {
		return false, err
	}

	var value Scalar
	if strValue != "" {
		value = ScalarFromString(string(strValue))
		if f, err := ScalarTo[float32](value); err == nil && f != floatValue {
			klog.Warningf("op %q: str_value=%q takes precedence over value=%g", op.Type(), strValue, floatValue)
		}
	} else {
		value = NewScalar(floatValue)
	}
	op.RemoveAttr("value")
	op.RemoveAttr("str_value")
	op.SetAttr("value", value)
	return true, nil
}

////////////////////////////////////////////////////////////////////
//
// Scalar -> Array encoding.
//
////////////////////////////////////////////////////////////////////

// scalarsToConvert returns the `values` attribute, or ok=false if the op is already in the legacy encoding.
func scalarsToConvert(op *OpDesc, slots []legacySlot) (values ScalarsAttr, ok bool, err error) {
	if !op.HasAttr("values") {
		for _, slot := range slots {
			if op.HasAttr(slot.name) {
				return nil, false, nil
			}
		}
	}
	values, err = GetAttr[ScalarsAttr](op, "values")
	if err != nil {
		return nil, false, err
	}
	return values, true, nil
}

// valuesDType checks that every value has one of the supported dtypes, and returns the dtype of
// the first value (FLOAT32 for an empty list). Values of another dtype are cast to it.
func valuesDType(op *OpDesc, values ScalarsAttr, supported []DataType) (DataType, error) {
	if len(values) == 0 {
		return Float32, nil
	}
	dtype := values[0].DType()
	for ii, s := range values {
		if !slices.Contains(supported, s.DType()) {
			return Undefined, errors.Wrapf(ErrUnsupportedDtype, "op %q cannot store values of dtype %s (values[%d]) as a typed array",
				op.Type(), s.DType(), ii)
		}
		if s.DType() != dtype {
			klog.Warningf("op %q: values[%d] of dtype %s is cast to %s", op.Type(), ii, s.DType(), dtype)
		}
	}
	return dtype, nil
}

// emptyTypedArrays returns all the slots set to empty lists.
func emptyTypedArrays(slots []legacySlot) AttributeMap {
	attrs := make(AttributeMap, len(slots))
	for _, slot := range slots {
		switch slot.dtype {
		case Bool:
			attrs[slot.name] = BoolsAttr{}
		case Int32:
			attrs[slot.name] = Int32sAttr{}
		case Int64:
			attrs[slot.name] = Int64sAttr{}
		case Float32:
			attrs[slot.name] = Float32sAttr{}
		case Float64:
			attrs[slot.name] = Float64sAttr{}
		case Float16:
			attrs[slot.name] = Float16sAttr{}
		}
	}
	return attrs
}

// extractPlain converts each value to T.
func extractPlain[T Convertible](values ScalarsAttr) ([]T, error) {
	results := make([]T, len(values))
	for ii, s := range values {
		v, err := ScalarTo[T](s)
		if err != nil {
			return nil, errors.WithMessagef(err, "values[%d]", ii)
		}
		results[ii] = v
	}
	return results, nil
}

// setTypedArrays replaces `values` with the given typed-array attributes.
func setTypedArrays(op *OpDesc, attrs AttributeMap) {
	op.RemoveAttr("values")
	for _, name := range attrs.Names() {
		op.SetAttr(name, attrs[name])
	}
}

func setValueToTypedArrays(op *OpDesc) (bool, error) {
	values, ok, err := scalarsToConvert(op, setValueSlots)
	if !ok {
		return false, err
	}
	dtype, err := valuesDType(op, values, setValueDTypes)
	if err != nil {
		return false, err
	}
	attrs := emptyTypedArrays(setValueSlots)
	switch dtype {
	case Bool:
		var plain []bool
		plain, err = extractPlain[bool](values)
		attrs["bool_values"] = BoolsAttr(plain)
	case Float32:
		var plain []float32
		plain, err = extractPlain[float32](values)
		attrs["fp32_values"] = Float32sAttr(plain)
	case Int32:
		var plain []int32
		plain, err = extractPlain[int32](values)
		attrs["int32_values"] = Int32sAttr(plain)
	case Int64:
		var plain []int64
		plain, err = extractPlain[int64](values)
		attrs["int64_values"] = Int64sAttr(plain)
	case Float64:
		var plain []float64
		plain, err = extractPlain[float64](values)
		attrs["fp64_values"] = Float64sAttr(plain)
	case Float16:
		var plain []float16.Float16
		plain, err = extractPlain[float16.Float16](values)
		attrs["fp16_values"] = Float16sAttr(plain)
	}
	if err != nil {
		return false, err
	}
	setTypedArrays(op, attrs)
	return true, nil
}

// assignValueToTypedArrays only supports BOOL, INT32, INT64 and FLOAT32; FLOAT64 values are narrowed to `fp32_values`.
func assignValueToTypedArrays(op *OpDesc) (bool, error) {
	values, ok, err := scalarsToConvert(op, assignValueSlots)
	if !ok {
		return false, err
	}
	dtype, err := valuesDType(op, values, assignValueDTypes)
	if err != nil {
		return false, err
	}
	attrs := emptyTypedArrays(assignValueSlots)
	switch dtype {
	case Bool:
		var plain []bool
		plain, err = extractPlain[bool](values)
		attrs["bool_values"] = BoolsAttr(plain)
	case Float32, Float64:
		var plain []float32
		plain, err = extractPlain[float32](values)
		attrs["fp32_values"] = Float32sAttr(plain)
	case Int32:
		var plain []int32
		plain, err = extractPlain[int32](values)
		attrs["int32_values"] = Int32sAttr(plain)
	case Int64:
		var plain []int64
		plain, err = extractPlain[int64](values)
		attrs["int64_values"] = Int64sAttr(plain)
	}
	if err != nil {
		return false, err
	}
	setTypedArrays(op, attrs)
	return true, nil
}

// fillConstantToFloat converts the Scalar `value` into a float `value` plus its raw string rendering in `str_value`.
func fillConstantToFloat(op *OpDesc) (bool, error) {
	attr, err := op.Attr("value")
	if err != nil {
		return false, err
	}
	var value Scalar
	switch v := attr.(type) {
	case Float32Attr:
		return false, nil
	case Scalar:
		value = v
	default:
		return false, errors.Wrapf(ErrTypeMismatch, "attribute \"value\" of op %q is %s, wanted SCALAR or FLOAT", op.Type(), attr.Type())
	}
	switch value.DType() {
	case Bool, Int32, Int64, Float32, Float64, Float16:
	default:
		return false, errors.Wrapf(ErrUnsupportedDtype, "op %q cannot convert a value of dtype %s back to float", op.Type(), value.DType())
	}
	floatValue, err := ScalarTo[float32](value)
	if err != nil {
		return false, err
	}
	op.SetAttr("value", Float32Attr(floatValue))
	op.SetAttr("str_value", StringAttr(value.RawString()))
	return true, nil
}
