package framework

import "fmt"

// DataType of a tensor element or of a Scalar.
type DataType int

const (
	Undefined DataType = iota
	Bool
	Uint8
	Int8
	Int16
	Int32
	Int64
	Float16
	BFloat16
	Float32
	Float64
	Complex64
	Complex128
	PString
)

var dataTypeNames = map[DataType]string{
	Undefined:  "UNDEFINED",
	Bool:       "BOOL",
	Uint8:      "UINT8",
	Int8:       "INT8",
	Int16:      "INT16",
	Int32:      "INT32",
	Int64:      "INT64",
	Float16:    "FLOAT16",
	BFloat16:   "BFLOAT16",
	Float32:    "FLOAT32",
	Float64:    "FLOAT64",
	Complex64:  "COMPLEX64",
	Complex128: "COMPLEX128",
	PString:    "PSTRING",
}

// String implements fmt.Stringer.
func (dt DataType) String() string {
	if name, found := dataTypeNames[dt]; found {
		return name
	}
	return fmt.Sprintf("DataType(%d)", int(dt))
}

// IsFloat returns whether the dtype is a floating point type.
func (dt DataType) IsFloat() bool {
	return dt == Float16 || dt == BFloat16 || dt == Float32 || dt == Float64
}

// VarType is the container kind of a variable.
type VarType int

const (
	VarTypeUnknown VarType = iota
	VarTypeDenseTensor
	VarTypeSelectedRows
	VarTypeDenseTensorArray
)

// String implements fmt.Stringer.
func (vt VarType) String() string {
	switch vt {
	case VarTypeDenseTensor:
		return "DENSE_TENSOR"
	case VarTypeSelectedRows:
		return "SELECTED_ROWS"
	case VarTypeDenseTensorArray:
		return "DENSE_TENSOR_ARRAY"
	default:
		return "UNKNOWN"
	}
}
