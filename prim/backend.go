package prim

import (
	"context"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/paddle-gomlx/framework"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

// DescBackend is a Backend that appends the backward operators to the program, in the block selected
// by its CompositeContext. Outputs are new variables named with CompositeContext.GenerateUniqueName.
//
// Primitive operators it creates have their outputs inferred immediately, see InferShape.
type DescBackend struct {
	program   *framework.ProgramDesc
	composite *CompositeContext
}

var _ Backend = (*DescBackend)(nil)

// NewDescBackend creates a DescBackend for program. If composite is nil, a default one is created.
func NewDescBackend(program *framework.ProgramDesc, composite *CompositeContext) *DescBackend {
	if composite == nil {
		composite = NewCompositeContext()
	}
	return &DescBackend{program: program, composite: composite}
}

// NewDescBackendFromContext creates a DescBackend using the CompositeContext carried by ctx.
func NewDescBackendFromContext(ctx context.Context, program *framework.ProgramDesc) *DescBackend {
	return NewDescBackend(program, CompositeContextFrom(ctx))
}

// Program implements Backend.
func (b *DescBackend) Program() *framework.ProgramDesc { return b.program }

// CompositeContext used by the backend.
func (b *DescBackend) CompositeContext() *CompositeContext { return b.composite }

// lookup returns the VarDesc of t, or panics.
func (b *DescBackend) lookup(t DescTensor) *framework.VarDesc {
	v, err := b.program.FindVarRecursive(t.Block, t.Name)
	if err != nil {
		panic(err)
	}
	return v
}

// newVar declares a new variable in the current block, with the same type, dtype and shape as like.
func (b *DescBackend) newVar(key string, like *framework.VarDesc) DescTensor {
	blockIdx := b.composite.CurrentBlock()
	if blockIdx < 0 || blockIdx >= b.program.NumBlocks() {
		exceptions.Panicf("composite context targets block #%d, but program has %d blocks", blockIdx, b.program.NumBlocks())
	}
	var name string
	for {
		name = b.composite.GenerateUniqueName(key)
		if _, err := b.program.FindVarRecursive(blockIdx, name); err != nil {
			break
		}
	}
	v := b.program.Block(blockIdx).CreateVar(name)
	v.Type = like.Type
	v.DType = like.DType
	v.Shape = slices.Clone(like.Shape)
	return DescTensor{Block: blockIdx, Name: name}
}

// appendGradOp appends a "<name>_grad" style operator with the given inputs, producing `X@GRAD` shaped like `like`.
func (b *DescBackend) appendGradOp(opType string, inputs map[string]DescTensor, like DescTensor) DescTensor {
	for _, t := range inputs {
		_ = b.lookup(t)
	}
	grad := b.newVar(opType, b.lookup(like))
	op := b.program.Block(grad.Block).AppendOp(opType)
	for slot, t := range inputs {
		op.SetInput(slot, t.Name)
	}
	op.SetOutput("X@GRAD", grad.Name)
	klog.V(2).Infof("appended %s to block #%d", op, grad.Block)
	return grad
}

// appendPrimitive appends a primitive operator from x to a new variable, and infers the new variable.
func (b *DescBackend) appendPrimitive(opType string, x DescTensor, attrs framework.AttributeMap) DescTensor {
	y := b.newVar(opType, b.lookup(x))
	block := b.program.Block(y.Block)
	op := block.AppendOp(opType)
	op.SetInput("X", x.Name)
	op.SetOutput("Y", y.Name)
	for name, attr := range attrs {
		op.SetAttr(name, attr)
	}
	opIdx := block.NumOps() - 1
	must.M(InferVarType(b.program, y.Block, opIdx))
	must.M(InferShape(b.program, y.Block, opIdx))
	klog.V(2).Infof("appended %s to block #%d", op, y.Block)
	return y
}

// TanhGrad implements Backend.
func (b *DescBackend) TanhGrad(out, outGrad DescTensor) DescTensor {
	return b.appendGradOp("tanh_grad", map[string]DescTensor{"Out": out, "Out@GRAD": outGrad}, out)
}

// ExpGrad implements Backend.
func (b *DescBackend) ExpGrad(out, outGrad DescTensor) DescTensor {
	return b.appendGradOp("exp_grad", map[string]DescTensor{"Out": out, "Out@GRAD": outGrad}, out)
}

// SqrtGrad implements Backend.
func (b *DescBackend) SqrtGrad(out, outGrad DescTensor) DescTensor {
	return b.appendGradOp("sqrt_grad", map[string]DescTensor{"Out": out, "Out@GRAD": outGrad}, out)
}

// LogGrad implements Backend.
func (b *DescBackend) LogGrad(x, outGrad DescTensor) DescTensor {
	return b.appendGradOp("log_grad", map[string]DescTensor{"X": x, "Out@GRAD": outGrad}, x)
}

// Reshape implements Backend with a `reshape_p` operator.
func (b *DescBackend) Reshape(x DescTensor, shape []int64) DescTensor {
	return b.appendPrimitive("reshape_p", x, framework.AttributeMap{"shape": framework.Int64sAttr(slices.Clone(shape))})
}

// Broadcast implements Backend with a `broadcast_p` operator.
func (b *DescBackend) Broadcast(x DescTensor, shape []int64) DescTensor {
	return b.appendPrimitive("broadcast_p", x, framework.AttributeMap{"shape": framework.Int64sAttr(slices.Clone(shape))})
}

// Transpose implements Backend with a `transpose_p` operator.
func (b *DescBackend) Transpose(x DescTensor, axis []int64) DescTensor {
	return b.appendPrimitive("transpose_p", x, framework.AttributeMap{"axis": framework.Int64sAttr(slices.Clone(axis))})
}

// ReduceSum implements Backend with a `reduce_sum_p` operator.
func (b *DescBackend) ReduceSum(x DescTensor, axis []int64, keepDim bool) DescTensor {
	return b.appendPrimitive("reduce_sum_p", x, framework.AttributeMap{
		"axis":    framework.Int64sAttr(slices.Clone(axis)),
		"keepdim": framework.BoolAttr(keepDim),
	})
}
