// Package renderer orchestrates interactive frame rendering: it splits the
// frame into row blocks, dispatches them across a pool of tracer workers
// and assembles the results into a shared linear framebuffer.
package renderer

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/yenchenlin/orthographic-ngp/field"
	"github.com/yenchenlin/orthographic-ngp/grid"
	"github.com/yenchenlin/orthographic-ngp/log"
	"github.com/yenchenlin/orthographic-ngp/scene"
	"github.com/yenchenlin/orthographic-ngp/tracer"
	"github.com/yenchenlin/orthographic-ngp/types"
)

// Renderer renders frames of a trained field.
type Renderer interface {
	// Render a frame from the given view into the framebuffer.
	Render(view scene.View) error

	// Access the linear RGBA framebuffer of the last frame.
	Framebuffer() []types.Vec4

	// Get render statistics for the last frame.
	Stats() FrameStats

	// Shutdown the renderer and its workers.
	Close()
}

type blockRequest struct {
	view     scene.View
	y0, y1   int
	doneChan chan<- blockResult
}

type blockResult struct {
	worker int
	rays   int
	err    error
	took   time.Duration
}

type worker struct {
	id     string
	tracer *tracer.Tracer
	rng    *rand.Rand
	reqs   chan blockRequest
}

type defaultRenderer struct {
	logger log.Logger
	opts   Options

	f     field.Trainable
	g     *grid.Grid
	sched BlockScheduler

	workers []*worker
	fb      []types.Vec4
	stats   FrameStats
	closed  bool
	wg      sync.WaitGroup
}

// Create a new CPU renderer with one tracer per worker. All workers share
// the field and grid read-only; the framebuffer rows they write are
// disjoint so a frame needs no locking.
func NewDefault(f field.Trainable, g *grid.Grid, sched BlockScheduler, opts Options) (Renderer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ErrFieldNotSet
	}
	if g == nil {
		return nil, ErrGridNotSet
	}

	r := &defaultRenderer{
		logger: log.New("renderer"),
		opts:   opts,
		f:      f,
		g:      g,
		sched:  sched,
		fb:     make([]types.Vec4, opts.FrameW*opts.FrameH),
	}

	count := opts.workerCount()
	for i := 0; i < count; i++ {
		// Each worker traces its block single-threaded; frame parallelism
		// comes from the block split.
		wOpts := opts.Trace
		wOpts.Workers = 1
		tr, err := tracer.New(g, wOpts)
		if err != nil {
			return nil, err
		}
		w := &worker{
			id:     fmt.Sprintf("cpu-%d", i),
			tracer: tr,
			rng:    rand.New(rand.NewSource(int64(1337 + i))),
			reqs:   make(chan blockRequest),
		}
		r.workers = append(r.workers, w)
		r.stats.Workers = append(r.stats.Workers, WorkerStat{Id: w.id})
		r.wg.Add(1)
		go r.workerLoop(i, w)
	}

	r.logger.Infof("initialized %d tracer workers", count)
	return r, nil
}

func (r *defaultRenderer) workerLoop(idx int, w *worker) {
	defer r.wg.Done()
	for req := range w.reqs {
		start := time.Now()
		rays := w.tracer.InitRaysFromCamera(req.view, r.opts.FrameW, req.y0, req.y1, w.rng)
		n := w.tracer.Trace(r.f, rays)

		// Scatter results into the shared framebuffer; this worker owns
		// the rows [y0, y1) exclusively.
		for i := range rays {
			r.fb[rays[i].PixelIdx] = rays[i].RGBA
		}
		req.doneChan <- blockResult{worker: idx, rays: n, took: time.Since(start)}
	}
}

// Render a frame. Blocks are scheduled according to previous frame timings
// and traced concurrently; the call returns once every block completed.
func (r *defaultRenderer) Render(view scene.View) error {
	if r.closed {
		return ErrAlreadyClosed
	}
	if len(r.workers) == 0 {
		return ErrNoWorkers
	}

	frameStart := time.Now()
	assignment := r.sched.Schedule(r.stats.Workers, r.opts.FrameH)

	doneChan := make(chan blockResult, len(r.workers))
	pending := 0
	y := 0
	for idx, w := range r.workers {
		blockH := assignment[idx]
		if blockH <= 0 {
			r.stats.Workers[idx].BlockH = 0
			r.stats.Workers[idx].Rays = 0
			r.stats.Workers[idx].FramePercent = 0
			r.stats.Workers[idx].RenderTime = 0
			continue
		}
		w.reqs <- blockRequest{view: view, y0: y, y1: y + blockH, doneChan: doneChan}
		r.stats.Workers[idx].BlockH = blockH
		y += blockH
		pending++
	}

	var firstErr error
	for ; pending > 0; pending-- {
		res := <-doneChan
		if res.err != nil && firstErr == nil {
			firstErr = res.err
			continue
		}
		stat := &r.stats.Workers[res.worker]
		stat.Rays = res.rays
		stat.RenderTime = res.took
		stat.FramePercent = 100 * float32(stat.BlockH) / float32(r.opts.FrameH)
	}
	r.stats.RenderTime = time.Since(frameStart)
	return firstErr
}

// Access the linear framebuffer of the last rendered frame.
func (r *defaultRenderer) Framebuffer() []types.Vec4 {
	return r.fb
}

// Get render statistics.
func (r *defaultRenderer) Stats() FrameStats {
	return r.stats
}

// Shutdown the renderer and its workers.
func (r *defaultRenderer) Close() {
	if r.closed {
		return
	}
	r.closed = true
	for _, w := range r.workers {
		close(w.reqs)
	}
	r.wg.Wait()
}
