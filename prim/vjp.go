package prim

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/paddle-gomlx/framework"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DescTensor references a variable of a program.
type DescTensor struct {
	Block int
	Name  string
}

// Backend creates the operators that compute gradients. Its methods return the tensor holding the
// result, and panic (see exceptions.Panicf) on failure.
type Backend interface {
	// Program the backend appends operators to.
	Program() *framework.ProgramDesc

	TanhGrad(out, outGrad DescTensor) DescTensor
	ExpGrad(out, outGrad DescTensor) DescTensor
	SqrtGrad(out, outGrad DescTensor) DescTensor
	LogGrad(x, outGrad DescTensor) DescTensor

	Reshape(x DescTensor, shape []int64) DescTensor
	Broadcast(x DescTensor, shape []int64) DescTensor
	Transpose(x DescTensor, axis []int64) DescTensor
	ReduceSum(x DescTensor, axis []int64, keepDim bool) DescTensor
}

// VJPFn computes the gradients with respect to the inputs of the forward operator fwd, given the
// gradients of its outputs.
//
// stopGradients is indexed by forward input, and then by result of the backward operator. It returns
// one entry per forward input, nil when the gradient is not materialized.
type VJPFn func(b Backend, fwd *OpContext, outGrads []DescTensor, stopGradients [][]bool) []*DescTensor

// VJPRegistration maps operator types to their VJP rule. One can dynamically change it,
// or use RegisterVJP.
var VJPRegistration = map[string]VJPFn{
	"tanh":         vjpForUnary(tanhVJP),
	"tanh_p":       vjpForUnary(tanhVJP),
	"exp":          vjpForUnary(expVJP),
	"exp_p":        vjpForUnary(expVJP),
	"sqrt":         vjpForUnary(sqrtVJP),
	"sqrt_p":       vjpForUnary(sqrtVJP),
	"log":          vjpForUnary(logVJP),
	"log_p":        vjpForUnary(logVJP),
	"reshape_p":    vjpForUnary(reshapeVJP),
	"transpose_p":  vjpForUnary(transposeVJP),
	"broadcast_p":  vjpForUnary(broadcastVJP),
	"reduce_sum_p": vjpForUnary(reduceSumVJP),
}

// RegisterVJP sets the VJP rule of opType, replacing any previous one.
func RegisterVJP(opType string, fn VJPFn) {
	VJPRegistration[opType] = fn
}

// VJP dispatches on the type of the forward operator at (blockIdx, opIdx) and applies its rule.
//
// outGrads has one gradient per result of the forward operator, and stopGradients one vector per
// input of the forward operator (see VJPFn). It returns one gradient per forward input, nil when
// the gradient is stopped.
func VJP(b Backend, blockIdx, opIdx int, outGrads []DescTensor, stopGradients [][]bool) (grads []*DescTensor, err error) {
	fwd, err := newOpContext(b.Program(), blockIdx, opIdx)
	if err != nil {
		return nil, errors.WithMessage(err, "while computing VJP")
	}
	op := fwd.OpDesc()
	err = exceptions.TryCatch[error](func() {
		rule, found := VJPRegistration[op.Type()]
		if !found {
			panic(errors.Wrapf(framework.ErrNoVJPRule, "operator %q", op.Type()))
		}
		if len(outGrads) != op.NumResults() {
			panic(errors.Wrapf(framework.ErrInvalidArgument, "got %d output gradients for %d results", len(outGrads), op.NumResults()))
		}
		if numInputs := len(op.InputArgumentNames()); len(stopGradients) != numInputs {
			panic(errors.Wrapf(framework.ErrInvalidArgument, "got %d stop-gradient vectors for %d inputs", len(stopGradients), numInputs))
		}
		grads = rule(b, fwd, outGrads, stopGradients)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "while computing VJP of op #%d (%q) of block #%d", opIdx, op.Type(), blockIdx)
	}
	klog.V(2).Infof("VJP of op #%d (%q) of block #%d: %d gradients", opIdx, op.Type(), blockIdx, len(grads))
	return grads, nil
}

// TanhVJP computes the gradient of x for out = tanh(x), given the gradient of out.
// It returns nil if stopGradients[0][0] is set.
func TanhVJP(b Backend, out, outGrad DescTensor, stopGradients [][]bool) (grad *DescTensor, err error) {
	err = exceptions.TryCatch[error](func() {
		grad = gateGradient(b, b.TanhGrad(out, outGrad), stopGradients)
	})
	return
}

// unaryVJP is the rule of an operator with a single input X and single output Y.
type unaryVJP func(b Backend, fwd *OpContext, x, y *framework.VarDesc, outGrad DescTensor) DescTensor

// vjpForUnary adapts a unaryVJP to VJPFn, applying the stop-gradient gating to its result.
func vjpForUnary(fn unaryVJP) VJPFn {
	return func(b Backend, fwd *OpContext, outGrads []DescTensor, stopGradients [][]bool) []*DescTensor {
		op := fwd.OpDesc()
		inputs, outputs := op.InputArgumentNames(), op.OutputArgumentNames()
		if len(inputs) != 1 || len(outputs) != 1 {
			exceptions.Panicf("VJP of %q requires exactly one input and one output, got inputs %v and outputs %v",
				op.Type(), inputs, outputs)
		}
		x, err := fwd.Program.FindVarRecursive(fwd.Block, inputs[0])
		if err != nil {
			panic(err)
		}
		y, err := fwd.Program.FindVarRecursive(fwd.Block, outputs[0])
		if err != nil {
			panic(err)
		}
		grad := fn(b, fwd, x, y, outGrads[0])
		return []*DescTensor{gateGradient(b, grad, stopGradients)}
	}
}

// gateGradient records the stop-gradient flags on the operator producing grad, and returns grad
// unless its gradient is stopped.
//
// The `stop_gradient` attribute holds one entry per result of the producing operator, entry i
// taken from stopGradients[0][i].
func gateGradient(b Backend, grad DescTensor, stopGradients [][]bool) *DescTensor {
	program := b.Program()
	block := program.Block(grad.Block)
	producerIdx := block.Producer(grad.Name)
	if producerIdx < 0 {
		exceptions.Panicf("gradient %q has no producing operator in block #%d", grad.Name, grad.Block)
	}
	producer := block.Op(producerIdx)
	numResults := producer.NumResults()
	if len(stopGradients) == 0 || len(stopGradients[0]) < numResults {
		panic(errors.Wrapf(framework.ErrInvalidArgument, "stop-gradient flags %v too short for operator %q with %d results",
			stopGradients, producer.Type(), numResults))
	}
	flags := make(framework.BoolsAttr, numResults)
	for ii := range flags {
		flags[ii] = stopGradients[0][ii]
	}
	producer.SetAttr("stop_gradient", flags)
	if stopGradients[0][0] {
		return nil
	}
	return &grad
}

func tanhVJP(b Backend, fwd *OpContext, _, y *framework.VarDesc, outGrad DescTensor) DescTensor {
	return b.TanhGrad(DescTensor{fwd.Block, y.Name}, outGrad)
}

func expVJP(b Backend, fwd *OpContext, _, y *framework.VarDesc, outGrad DescTensor) DescTensor {
	return b.ExpGrad(DescTensor{fwd.Block, y.Name}, outGrad)
}

func sqrtVJP(b Backend, fwd *OpContext, _, y *framework.VarDesc, outGrad DescTensor) DescTensor {
	return b.SqrtGrad(DescTensor{fwd.Block, y.Name}, outGrad)
}

func logVJP(b Backend, fwd *OpContext, x, _ *framework.VarDesc, outGrad DescTensor) DescTensor {
	return b.LogGrad(DescTensor{fwd.Block, x.Name}, outGrad)
}

// reshapeVJP reshapes the gradient back to the input shape.
func reshapeVJP(b Backend, _ *OpContext, x, _ *framework.VarDesc, outGrad DescTensor) DescTensor {
	return b.Reshape(outGrad, x.Shape)
}

// transposeVJP transposes the gradient with the inverse permutation.
func transposeVJP(b Backend, fwd *OpContext, _, _ *framework.VarDesc, outGrad DescTensor) DescTensor {
	if err := verifyTranspose(fwd); err != nil {
		panic(err)
	}
	axis := must.M1(Attr[framework.Int64sAttr](fwd, "axis"))
	reverse := make([]int64, len(axis))
	for to, from := range axis {
		reverse[from] = int64(to)
	}
	return b.Transpose(outGrad, reverse)
}

// broadcastVJP sums the gradient over the broadcast axes, and reshapes it back to the input shape.
func broadcastVJP(b Backend, _ *OpContext, x, y *framework.VarDesc, outGrad DescTensor) DescTensor {
	offset := len(y.Shape) - len(x.Shape)
	if offset < 0 {
		exceptions.Panicf("broadcast_p from %q %v to lower rank %v", x.Name, x.Shape, y.Shape)
	}
	var axesToReduce []int64
	for axis := range y.Shape {
		if axis < offset || (x.Shape[axis-offset] == 1 && y.Shape[axis] != 1) {
			axesToReduce = append(axesToReduce, int64(axis))
		}
	}
	grad := outGrad
	if len(axesToReduce) > 0 {
		grad = b.ReduceSum(grad, axesToReduce, false)
	}
	return b.Reshape(grad, x.Shape)
}

// reduceSumVJP re-creates the reduced axes with dimension 1, and broadcasts the gradient to the input shape.
func reduceSumVJP(b Backend, fwd *OpContext, x, _ *framework.VarDesc, outGrad DescTensor) DescTensor {
	axis := must.M1(Attr[framework.Int64sAttr](fwd, "axis"))
	keepDim := must.M1(framework.GetAttrOr(fwd.OpDesc(), "keepdim", framework.BoolAttr(false)))
	grad := outGrad
	if !keepDim {
		reduced := must.M1(normalizeAxes(axis, len(x.Shape)))
		expanded := slices.Clone(x.Shape)
		for _, a := range reduced {
			expanded[a] = 1
		}
		grad = b.Reshape(grad, expanded)
	}
	return b.Broadcast(grad, x.Shape)
}
