package renderer

import (
	"fmt"
	"runtime"

	"github.com/yenchenlin/orthographic-ngp/tracer"
)

// Options configures a renderer. Passed by value; validated once up front.
type Options struct {
	// Frame dims.
	FrameW int
	FrameH int

	// Exposure for tone-mapping the linear framebuffer.
	Exposure float32

	// Number of tracer workers; 0 selects one per CPU.
	Workers int

	// Per-worker tracing options.
	Trace tracer.Options
}

// Validate the options, failing fast on caller misuse.
func (o *Options) Validate() error {
	if o.FrameW <= 0 || o.FrameH <= 0 {
		return fmt.Errorf("renderer: degenerate frame size %dx%d", o.FrameW, o.FrameH)
	}
	if o.Workers < 0 {
		return fmt.Errorf("renderer: negative worker count %d", o.Workers)
	}
	return o.Trace.Validate()
}

func (o Options) workerCount() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}
