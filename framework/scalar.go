package framework

import (
	"fmt"
	"math"
	"strconv"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// ScalarType is the set of Go types a Scalar can hold.
type ScalarType interface {
	bool | int32 | int64 | float32 | float64 | float16.Float16 | string
}

// Convertible is the set of Go types a numeric Scalar can be converted to with ScalarTo.
type Convertible interface {
	bool | int32 | int64 | float32 | float64 | float16.Float16
}

// Scalar holds one value tagged with its DataType. It is immutable.
//
// The zero value is an invalid (Undefined) scalar.
type Scalar struct {
	dtype DataType
	b     bool
	i     int64
	f     float64
	f16   float16.Float16
	s     string
}

// NewScalar creates a Scalar tagged with the DataType corresponding to T.
func NewScalar[T ScalarType](value T) Scalar {
	switch v := any(value).(type) {
	case bool:
		return Scalar{dtype: Bool, b: v}
	case int32:
		return Scalar{dtype: Int32, i: int64(v)}
	case int64:
		return Scalar{dtype: Int64, i: v}
	case float32:
		return Scalar{dtype: Float32, f: float64(v)}
	case float64:
		return Scalar{dtype: Float64, f: v}
	case float16.Float16:
		return Scalar{dtype: Float16, f16: v}
	case string:
		return Scalar{dtype: PString, s: v}
	}
	exceptions.Panicf("unreachable: unsupported scalar type %T", value)
	return Scalar{}
}

// ScalarFromString parses a string into a Scalar:
//
//   - "true" and "false" become BOOL scalars.
//   - Anything strconv.ParseFloat accepts (including "inf", "-inf" and "nan") becomes a FLOAT64 scalar.
//   - Anything else is kept as a PSTRING scalar holding the raw string.
func ScalarFromString(str string) Scalar {
	switch str {
	case "true":
		return NewScalar(true)
	case "false":
		return NewScalar(false)
	}
	if v, err := strconv.ParseFloat(str, 64); err == nil {
		return NewScalar(v)
	}
	return NewScalar(str)
}

// DType returns the data type the scalar is tagged with.
func (s Scalar) DType() DataType { return s.dtype }

// Ok returns whether the scalar holds a value.
func (s Scalar) Ok() bool { return s.dtype != Undefined }

// ScalarAs extracts the value of the scalar as T.
// It returns an error wrapping ErrTypeMismatch if T doesn't correspond to the scalar's dtype.
func ScalarAs[T ScalarType](s Scalar) (T, error) {
	var zero T
	var value any
	switch any(zero).(type) {
	case bool:
		if s.dtype == Bool {
			value = s.b
		}
	case int32:
		if s.dtype == Int32 {
			value = int32(s.i)
		}
	case int64:
		if s.dtype == Int64 {
			value = s.i
		}
	case float32:
		if s.dtype == Float32 {
			value = float32(s.f)
		}
	case float64:
		if s.dtype == Float64 {
			value = s.f
		}
	case float16.Float16:
		if s.dtype == Float16 {
			value = s.f16
		}
	case string:
		if s.dtype == PString {
			value = s.s
		}
	}
	if value == nil {
		return zero, errors.Wrapf(ErrTypeMismatch, "cannot extract %T from scalar of dtype %s", zero, s.dtype)
	}
	return value.(T), nil
}

// ScalarTo converts the value of a numeric (or boolean) scalar to T, with the usual cast semantics:
// floats are truncated when converted to integers, booleans convert to 0 or 1, and any non-zero
// value converts to true.
//
// It returns an error wrapping ErrTypeMismatch for string or undefined scalars.
func ScalarTo[T Convertible](s Scalar) (T, error) {
	var zero T
	if s.dtype == PString || s.dtype == Undefined {
		return zero, errors.Wrapf(ErrTypeMismatch, "cannot convert scalar of dtype %s to %T", s.dtype, zero)
	}
	var value any
	switch any(zero).(type) {
	case bool:
		value = s.asFloat64() != 0
	case int32:
		value = int32(s.asInt64())
	case int64:
		value = s.asInt64()
	case float32:
		value = float32(s.asFloat64())
	case float64:
		value = s.asFloat64()
	case float16.Float16:
		if s.dtype == Float16 {
			value = s.f16
		} else {
			value = float16.Fromfloat32(float32(s.asFloat64()))
		}
	}
	return value.(T), nil
}

func (s Scalar) asFloat64() float64 {
	switch s.dtype {
	case Bool:
		if s.b {
			return 1
		}
		return 0
	case Int32, Int64:
		return float64(s.i)
	case Float16:
		return float64(s.f16.Float32())
	default:
		return s.f
	}
}

func (s Scalar) asInt64() int64 {
	switch s.dtype {
	case Bool:
		if s.b {
			return 1
		}
		return 0
	case Int32, Int64:
		return s.i
	default:
		f := s.asFloat64()
		if math.IsNaN(f) {
			return 0
		}
		return int64(f)
	}
}

// RawString renders the value without any type decoration, such that ScalarFromString reads it back
// as the same number (floats use the shortest representation that round-trips at the scalar's precision).
func (s Scalar) RawString() string {
	switch s.dtype {
	case Bool:
		return strconv.FormatBool(s.b)
	case Int32, Int64:
		return strconv.FormatInt(s.i, 10)
	case Float16:
		return strconv.FormatFloat(float64(s.f16.Float32()), 'g', -1, 32)
	case Float32:
		return strconv.FormatFloat(s.f, 'g', -1, 32)
	case Float64:
		return strconv.FormatFloat(s.f, 'g', -1, 64)
	case PString:
		return s.s
	default:
		return ""
	}
}

// String implements fmt.Stringer.
func (s Scalar) String() string {
	if s.dtype == PString {
		return fmt.Sprintf("Scalar(%s, %q)", s.dtype, s.s)
	}
	return fmt.Sprintf("Scalar(%s, %s)", s.dtype, s.RawString())
}
