package pass

import (
	"context"

	"github.com/gekko3d/vct"
)

// Pass is one step of a rendering stage.
type Pass interface {
	Name() string
	Execute(ctx *Context) error
}

// Execution counts for Descriptor.Executions.
const (
	// ExecuteContinuous runs the pass on every frame.
	ExecuteContinuous = 0
	// ExecuteOnce runs the pass on the first frame only.
	ExecuteOnce = 1
)

// Descriptor places a pass in a stage together with the number of frames it
// runs for. Within a frame a pass runs at most once.
type Descriptor struct {
	Pass       Pass
	Executions int
}

// Context is what a pass sees while executing.
type Context struct {
	context.Context
	Frame    uint64
	Logger   vct.Logger
	Profiler *Profiler
}

func NewContext(ctx context.Context, frame uint64, logger vct.Logger, profiler *Profiler) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{
		Context:  ctx,
		Frame:    frame,
		Logger:   vct.LoggerOrNop(logger),
		Profiler: profiler,
	}
}

// Func adapts a function to Pass.
type Func struct {
	PassName string
	Fn       func(ctx *Context) error
}

func (f Func) Name() string               { return f.PassName }
func (f Func) Execute(ctx *Context) error { return f.Fn(ctx) }
