package framework

import (
	"bytes"
	"fmt"
	"strings"
)

// String implements fmt.Stringer, and pretty prints the program: blocks, variables and ops with their attributes.
func (p *ProgramDesc) String() string {
	var buf bytes.Buffer
	// w writes formatted text to buf.
	w := func(format string, args ...any) {
		if len(args) == 0 {
			buf.WriteString(format)
		} else {
			buf.WriteString(fmt.Sprintf(format, args...))
		}
	}
	w("Program (%d blocks):\n", len(p.blocks))
	for _, block := range p.blocks {
		w("  Block #%d (parent=%d):\n", block.idx, block.parentIdx)
		for _, name := range block.VarNames() {
			w("\tvar %s\n", block.vars[name])
		}
		for opIdx, op := range block.ops {
			w("\t#%d %s\n", opIdx, op)
		}
	}
	return buf.String()
}

// String implements fmt.Stringer.
func (v *VarDesc) String() string {
	var flags []string
	if v.Persistable {
		flags = append(flags, "persistable")
	}
	if v.StopGradient {
		flags = append(flags, "stop_gradient")
	}
	s := fmt.Sprintf("%s: %s[%s]%v", v.Name, v.Type, v.DType, v.Shape)
	if len(flags) > 0 {
		s += " (" + strings.Join(flags, ", ") + ")"
	}
	return s
}

// String implements fmt.Stringer.
func (op *OpDesc) String() string {
	var buf bytes.Buffer
	buf.WriteString(op.typ)
	buf.WriteString("(")
	for ii, slot := range op.InputSlots() {
		if ii > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%s=%v", slot, op.inputs[slot])
	}
	buf.WriteString(") -> (")
	for ii, slot := range op.OutputSlots() {
		if ii > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%s=%v", slot, op.outputs[slot])
	}
	buf.WriteString(")")
	if len(op.attrs) > 0 {
		buf.WriteString(" {")
		for ii, name := range op.attrs.Names() {
			if ii > 0 {
				buf.WriteString(", ")
			}
			fmt.Fprintf(&buf, "%s=%s", name, formatAttr(op.attrs[name]))
		}
		buf.WriteString("}")
	}
	return buf.String()
}
