package framework

import (
	"maps"
	"slices"

	"github.com/pkg/errors"
)

// VarDesc describes a variable declared in a block.
type VarDesc struct {
	Name  string
	Type  VarType
	DType DataType

	// Shape of the variable, -1 marks a dynamic dimension. nil if unknown.
	Shape []int64

	Persistable  bool
	StopGradient bool
}

// OpDesc describes one operator instance: its type, the variables bound to each
// input/output slot, and its attributes.
//
// An OpDesc is owned by its BlockDesc.
type OpDesc struct {
	typ     string
	inputs  map[string][]string
	outputs map[string][]string
	attrs   AttributeMap
}

// NewOpDesc creates a detached operator description. Use BlockDesc.AppendOp to create one owned by a block.
func NewOpDesc(opType string) *OpDesc {
	return &OpDesc{
		typ:     opType,
		inputs:  make(map[string][]string),
		outputs: make(map[string][]string),
		attrs:   make(AttributeMap),
	}
}

// Type returns the operator type, e.g.: "set_value" or "reshape_p".
func (op *OpDesc) Type() string { return op.typ }

// Input returns the variable names bound to the input slot.
func (op *OpDesc) Input(slot string) []string { return op.inputs[slot] }

// SetInput binds variable names to the input slot.
func (op *OpDesc) SetInput(slot string, names ...string) {
	op.inputs[slot] = slices.Clone(names)
}

// Output returns the variable names bound to the output slot.
func (op *OpDesc) Output(slot string) []string { return op.outputs[slot] }

// SetOutput binds variable names to the output slot.
func (op *OpDesc) SetOutput(slot string, names ...string) {
	op.outputs[slot] = slices.Clone(names)
}

// InputSlots returns the sorted names of the input slots.
func (op *OpDesc) InputSlots() []string { return slices.Sorted(maps.Keys(op.inputs)) }

// OutputSlots returns the sorted names of the output slots.
func (op *OpDesc) OutputSlots() []string { return slices.Sorted(maps.Keys(op.outputs)) }

// InputArgumentNames returns all variable names bound to inputs, in slot name order.
func (op *OpDesc) InputArgumentNames() []string {
	return flattenSlots(op.inputs)
}

// OutputArgumentNames returns all variable names bound to outputs, in slot name order.
// Its length is the number of results of the operator.
func (op *OpDesc) OutputArgumentNames() []string {
	return flattenSlots(op.outputs)
}

// NumResults returns the number of variables produced by the operator.
func (op *OpDesc) NumResults() int {
	var n int
	for _, names := range op.outputs {
		n += len(names)
	}
	return n
}

func flattenSlots(slots map[string][]string) []string {
	var names []string
	for _, slot := range slices.Sorted(maps.Keys(slots)) {
		names = append(names, slots[slot]...)
	}
	return names
}

// BlockDesc is an ordered sequence of operators plus the variables they declare.
// It is owned by its ProgramDesc.
type BlockDesc struct {
	idx, parentIdx int
	ops            []*OpDesc
	vars           map[string]*VarDesc
}

// Index of the block within its program.
func (b *BlockDesc) Index() int { return b.idx }

// Parent returns the index of the parent block, or -1 for the root block.
func (b *BlockDesc) Parent() int { return b.parentIdx }

// NumOps returns the number of operators in the block.
func (b *BlockDesc) NumOps() int { return len(b.ops) }

// Op returns the i-th operator, for mutation in place. It panics if i is out of range, like slice indexing.
func (b *BlockDesc) Op(i int) *OpDesc { return b.ops[i] }

// AppendOp creates a new operator at the end of the block.
func (b *BlockDesc) AppendOp(opType string) *OpDesc {
	op := NewOpDesc(opType)
	b.ops = append(b.ops, op)
	return op
}

// OpIndex returns the position of op in the block, or -1 if it's not owned by the block.
func (b *BlockDesc) OpIndex(op *OpDesc) int {
	return slices.Index(b.ops, op)
}

// CreateVar declares a variable in the block, or returns the existing one with that name.
func (b *BlockDesc) CreateVar(name string) *VarDesc {
	if v, found := b.vars[name]; found {
		return v
	}
	v := &VarDesc{Name: name, Type: VarTypeDenseTensor}
	b.vars[name] = v
	return v
}

// Var returns the variable declared in this block with the given name, or nil.
func (b *BlockDesc) Var(name string) *VarDesc { return b.vars[name] }

// HasVar returns whether the variable is declared in this block (parents are not searched).
func (b *BlockDesc) HasVar(name string) bool {
	_, found := b.vars[name]
	return found
}

// VarNames returns the sorted names of the variables declared in the block.
func (b *BlockDesc) VarNames() []string { return slices.Sorted(maps.Keys(b.vars)) }

// Producer returns the index of the last operator in the block that writes the variable,
// or -1 if none does.
func (b *BlockDesc) Producer(varName string) int {
	for ii := len(b.ops) - 1; ii >= 0; ii-- {
		if slices.Contains(b.ops[ii].OutputArgumentNames(), varName) {
			return ii
		}
	}
	return -1
}

// ProgramDesc is an ordered sequence of blocks, block 0 being the root (global) block.
type ProgramDesc struct {
	blocks []*BlockDesc
}

// NewProgramDesc creates a program with an empty root block.
func NewProgramDesc() *ProgramDesc {
	p := &ProgramDesc{}
	p.AppendBlock(-1)
	return p
}

// AppendBlock creates a new block with the given parent block index (-1 for no parent).
func (p *ProgramDesc) AppendBlock(parent int) *BlockDesc {
	b := &BlockDesc{
		idx:       len(p.blocks),
		parentIdx: parent,
		vars:      make(map[string]*VarDesc),
	}
	p.blocks = append(p.blocks, b)
	return b
}

// NumBlocks returns the number of blocks in the program.
func (p *ProgramDesc) NumBlocks() int { return len(p.blocks) }

// Block returns the i-th block, for mutation in place. It panics if i is out of range.
func (p *ProgramDesc) Block(i int) *BlockDesc { return p.blocks[i] }

// GlobalBlock returns the root block.
func (p *ProgramDesc) GlobalBlock() *BlockDesc { return p.blocks[0] }

// FindVarRecursive looks for the variable in the given block and then in its ancestors.
// It returns an error wrapping ErrMissingVar if not found.
func (p *ProgramDesc) FindVarRecursive(blockIdx int, name string) (*VarDesc, error) {
	idx := blockIdx
	// Bounded by the number of blocks, in case of a malformed parent chain.
	for range len(p.blocks) {
		if idx < 0 || idx >= len(p.blocks) {
			break
		}
		if v := p.blocks[idx].vars[name]; v != nil {
			return v, nil
		}
		idx = p.blocks[idx].parentIdx
	}
	return nil, errors.Wrapf(ErrMissingVar, "variable %q not found in block #%d or its parents", name, blockIdx)
}
