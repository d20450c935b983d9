package prim

import (
	"context"
	"fmt"
	"maps"
	"os"
	"strconv"

	"github.com/gomlx/paddle-gomlx/framework"
	"github.com/pkg/errors"
)

// Environment variables read by CompositeContextFromEnv.
const (
	EnvPrimAll      = "FLAGS_prim_all"
	EnvPrimForward  = "FLAGS_prim_forward"
	EnvPrimBackward = "FLAGS_prim_backward"
	EnvPrimEager    = "FLAGS_prim_eager"
)

// DefaultUniqueNameKey is the key used by GenerateUniqueName when none is given.
const DefaultUniqueNameKey = "composite_tmp"

// CompositeContext holds the configuration consulted by decomposition passes: whether forward, backward
// and eager operators should be decomposed into primitives, the block new operators are appended to,
// and the generator of unique variable names.
//
// A CompositeContext is not safe for concurrent use: each graph-building task owns its own, and
// carries it with WithCompositeContext.
type CompositeContext struct {
	block int

	fwdPrim, bwdPrim, eagerPrim bool

	targetGradNames map[string]string
	nameCounters    map[string]int
}

// NewCompositeContext returns a context with all flags disabled, targeting the root block.
func NewCompositeContext() *CompositeContext {
	return &CompositeContext{
		targetGradNames: make(map[string]string),
		nameCounters:    make(map[string]int),
	}
}

// CompositeContextFromEnv returns a new context with the flags seeded from the environment:
// FLAGS_prim_all enables forward and backward decomposition, and FLAGS_prim_forward, FLAGS_prim_backward
// and FLAGS_prim_eager then override individual flags. Values are parsed with strconv.ParseBool.
func CompositeContextFromEnv() (*CompositeContext, error) {
	c := NewCompositeContext()
	for _, setting := range []struct {
		name string
		set  func(bool)
	}{
		{EnvPrimAll, c.SetAllPrimEnabled},
		{EnvPrimForward, c.SetFwdPrimEnabled},
		{EnvPrimBackward, c.SetBwdPrimEnabled},
		{EnvPrimEager, c.SetEagerPrimEnabled},
	} {
		value, found := os.LookupEnv(setting.name)
		if !found || value == "" {
			continue
		}
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return nil, errors.Wrapf(framework.ErrInvalidArgument, "environment variable %s=%q is not a boolean", setting.name, value)
		}
		setting.set(enabled)
	}
	return c, nil
}

// CurrentBlock returns the index of the block decomposition passes append operators to.
func (c *CompositeContext) CurrentBlock() int { return c.block }

// SetCurrentBlock sets the index of the block decomposition passes append operators to.
func (c *CompositeContext) SetCurrentBlock(blockIdx int) { c.block = blockIdx }

func (c *CompositeContext) IsFwdPrimEnabled() bool { return c.fwdPrim }

func (c *CompositeContext) SetFwdPrimEnabled(enabled bool) { c.fwdPrim = enabled }

func (c *CompositeContext) IsBwdPrimEnabled() bool { return c.bwdPrim }

func (c *CompositeContext) SetBwdPrimEnabled(enabled bool) { c.bwdPrim = enabled }

func (c *CompositeContext) IsEagerPrimEnabled() bool { return c.eagerPrim }

func (c *CompositeContext) SetEagerPrimEnabled(enabled bool) { c.eagerPrim = enabled }

// SetAllPrimEnabled sets both the forward and backward flags. The eager flag is left unchanged.
func (c *CompositeContext) SetAllPrimEnabled(enabled bool) {
	c.fwdPrim = enabled
	c.bwdPrim = enabled
}

// IsAllPrimEnabled returns whether both forward and backward decomposition are enabled.
func (c *CompositeContext) IsAllPrimEnabled() bool { return c.fwdPrim && c.bwdPrim }

// SetTargetGradNames sets the mapping from a variable name to the name its gradient must take.
func (c *CompositeContext) SetTargetGradNames(names map[string]string) {
	c.targetGradNames = maps.Clone(names)
	if c.targetGradNames == nil {
		c.targetGradNames = make(map[string]string)
	}
}

// TargetGradNames returns a copy of the mapping set with SetTargetGradNames.
func (c *CompositeContext) TargetGradNames() map[string]string {
	return maps.Clone(c.targetGradNames)
}

// TargetGradName returns the name the gradient of varName must take, if one was set.
func (c *CompositeContext) TargetGradName(varName string) (name string, found bool) {
	name, found = c.targetGradNames[varName]
	return
}

// GenerateUniqueName returns "<key>_<n>", with n incremented on every call with the same key.
// If key is empty, DefaultUniqueNameKey is used.
func (c *CompositeContext) GenerateUniqueName(key string) string {
	if key == "" {
		key = DefaultUniqueNameKey
	}
	n := c.nameCounters[key]
	c.nameCounters[key] = n + 1
	return fmt.Sprintf("%s_%d", key, n)
}

// String implements fmt.Stringer.
func (c *CompositeContext) String() string {
	return fmt.Sprintf("CompositeContext{block=%d, fwd=%t, bwd=%t, eager=%t}", c.block, c.fwdPrim, c.bwdPrim, c.eagerPrim)
}

type compositeContextKey struct{}

// WithCompositeContext returns a copy of ctx carrying the composite context c.
func WithCompositeContext(ctx context.Context, c *CompositeContext) context.Context {
	return context.WithValue(ctx, compositeContextKey{}, c)
}

// CompositeContextFrom returns the composite context carried by ctx, or a new default one
// (see NewCompositeContext) if there is none.
func CompositeContextFrom(ctx context.Context) *CompositeContext {
	if c, ok := ctx.Value(compositeContextKey{}).(*CompositeContext); ok && c != nil {
		return c
	}
	return NewCompositeContext()
}
