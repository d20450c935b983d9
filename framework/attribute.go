package framework

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// AttrType enumerates the attribute variants.
type AttrType int

const (
	AttrTypeInvalid AttrType = iota
	AttrTypeBool
	AttrTypeInt32
	AttrTypeInt64
	AttrTypeFloat32
	AttrTypeFloat64
	AttrTypeString
	AttrTypeBools
	AttrTypeInt32s
	AttrTypeInt64s
	AttrTypeFloat32s
	AttrTypeFloat64s
	AttrTypeFloat16s
	AttrTypeStrings
	AttrTypeScalar
	AttrTypeScalars
	AttrTypeBlock
)

var attrTypeNames = []string{
	"INVALID", "BOOLEAN", "INT", "LONG", "FLOAT", "FLOAT64", "STRING",
	"BOOLEANS", "INTS", "LONGS", "FLOATS", "FLOAT64S", "FLOAT16S", "STRINGS",
	"SCALAR", "SCALARS", "BLOCK",
}

// String implements fmt.Stringer.
func (t AttrType) String() string {
	if t < 0 || int(t) >= len(attrTypeNames) {
		return fmt.Sprintf("AttrType(%d)", int(t))
	}
	return attrTypeNames[t]
}

// Attribute is the closed set of values an operator attribute can take.
// The implementations are the types in this package with an `Attr` suffix, plus Scalar.
type Attribute interface {
	// Type returns the variant of the attribute.
	Type() AttrType

	isAttribute()
}

type (
	BoolAttr     bool
	Int32Attr    int32
	Int64Attr    int64
	Float32Attr  float32
	Float64Attr  float64
	StringAttr   string
	BoolsAttr    []bool
	Int32sAttr   []int32
	Int64sAttr   []int64
	Float32sAttr []float32
	Float64sAttr []float64
	Float16sAttr []float16.Float16
	StringsAttr  []string
	ScalarsAttr  []Scalar

	// BlockAttr references a sub-block of the same program by its index.
	BlockAttr int
)

func (BoolAttr) Type() AttrType     { return AttrTypeBool }
func (Int32Attr) Type() AttrType    { return AttrTypeInt32 }
func (Int64Attr) Type() AttrType    { return AttrTypeInt64 }
func (Float32Attr) Type() AttrType  { return AttrTypeFloat32 }
func (Float64Attr) Type() AttrType  { return AttrTypeFloat64 }
func (StringAttr) Type() AttrType   { return AttrTypeString }
func (BoolsAttr) Type() AttrType    { return AttrTypeBools }
func (Int32sAttr) Type() AttrType   { return AttrTypeInt32s }
func (Int64sAttr) Type() AttrType   { return AttrTypeInt64s }
func (Float32sAttr) Type() AttrType { return AttrTypeFloat32s }
func (Float64sAttr) Type() AttrType { return AttrTypeFloat64s }
func (Float16sAttr) Type() AttrType { return AttrTypeFloat16s }
func (StringsAttr) Type() AttrType  { return AttrTypeStrings }
func (Scalar) Type() AttrType       { return AttrTypeScalar }
func (ScalarsAttr) Type() AttrType  { return AttrTypeScalars }
func (BlockAttr) Type() AttrType    { return AttrTypeBlock }

func (BoolAttr) isAttribute()     {}
func (Int32Attr) isAttribute()    {}
func (Int64Attr) isAttribute()    {}
func (Float32Attr) isAttribute()  {}
func (Float64Attr) isAttribute()  {}
func (StringAttr) isAttribute()   {}
func (BoolsAttr) isAttribute()    {}
func (Int32sAttr) isAttribute()   {}
func (Int64sAttr) isAttribute()   {}
func (Float32sAttr) isAttribute() {}
func (Float64sAttr) isAttribute() {}
func (Float16sAttr) isAttribute() {}
func (StringsAttr) isAttribute()  {}
func (Scalar) isAttribute()       {}
func (ScalarsAttr) isAttribute()  {}
func (BlockAttr) isAttribute()    {}

// AttributeMap maps attribute names to their values.
type AttributeMap map[string]Attribute

// Names returns the attribute names, sorted.
func (m AttributeMap) Names() []string {
	return slices.Sorted(maps.Keys(m))
}

// Clone returns a shallow copy of the map: attribute values are immutable by convention.
func (m AttributeMap) Clone() AttributeMap {
	return maps.Clone(m)
}

// Attr returns the attribute with the given name, or an error wrapping ErrMissingAttribute.
func (op *OpDesc) Attr(name string) (Attribute, error) {
	attr, found := op.attrs[name]
	if !found {
		return nil, errors.Wrapf(ErrMissingAttribute, "op %q has no attribute %q", op.typ, name)
	}
	return attr, nil
}

// SoftAttr returns the attribute with the given name, and whether it was found.
func (op *OpDesc) SoftAttr(name string) (Attribute, bool) {
	attr, found := op.attrs[name]
	return attr, found
}

// HasAttr returns whether the op has an attribute with the given name.
func (op *OpDesc) HasAttr(name string) bool {
	_, found := op.attrs[name]
	return found
}

// SetAttr sets (or replaces) an attribute.
func (op *OpDesc) SetAttr(name string, value Attribute) {
	if op.attrs == nil {
		op.attrs = make(AttributeMap)
	}
	op.attrs[name] = value
}

// RemoveAttr removes an attribute. It's a no-op if the attribute is not set.
func (op *OpDesc) RemoveAttr(name string) {
	delete(op.attrs, name)
}

// AttrNames returns the sorted names of the op attributes.
func (op *OpDesc) AttrNames() []string {
	return op.attrs.Names()
}

// Attrs returns a copy of the op attributes.
func (op *OpDesc) Attrs() AttributeMap {
	return op.attrs.Clone()
}

// GetAttr returns the attribute name of op as the variant T.
//
// It returns an error wrapping ErrMissingAttribute if it is not set, or ErrTypeMismatch if it holds another variant.
func GetAttr[T Attribute](op *OpDesc, name string) (T, error) {
	var zero T
	attr, err := op.Attr(name)
	if err != nil {
		return zero, err
	}
	value, ok := attr.(T)
	if !ok {
		return zero, errors.Wrapf(ErrTypeMismatch, "attribute %q of op %q is %s, wanted %T",
			name, op.typ, attr.Type(), zero)
	}
	return value, nil
}

// GetAttrOr returns the attribute name of op as the variant T, or defaultValue if it is not set.
//
// It returns an error wrapping ErrTypeMismatch if the attribute is set but holds another variant.
func GetAttrOr[T Attribute](op *OpDesc, name string, defaultValue T) (T, error) {
	if !op.HasAttr(name) {
		return defaultValue, nil
	}
	return GetAttr[T](op, name)
}

// formatAttr renders an attribute value for pretty-printing.
func formatAttr(attr Attribute) string {
	switch v := attr.(type) {
	case StringAttr:
		return fmt.Sprintf("%q", string(v))
	case ScalarsAttr:
		parts := make([]string, len(v))
		for ii, s := range v {
			parts[ii] = s.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case Float16sAttr:
		parts := make([]string, len(v))
		for ii, h := range v {
			parts[ii] = fmt.Sprintf("%g", h.Float32())
		}
		return "[" + strings.Join(parts, " ") + "]"
	case BlockAttr:
		return fmt.Sprintf("block#%d", int(v))
	default:
		return fmt.Sprintf("%v", v)
	}
}
