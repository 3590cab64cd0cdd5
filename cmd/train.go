package cmd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
	"github.com/yenchenlin/orthographic-ngp/field"
	"github.com/yenchenlin/orthographic-ngp/grid"
	"github.com/yenchenlin/orthographic-ngp/renderer"
	"github.com/yenchenlin/orthographic-ngp/scene"
	"github.com/yenchenlin/orthographic-ngp/tracer"
	"github.com/yenchenlin/orthographic-ngp/train"
)

// Resolution of the demo voxel field.
const demoFieldRes = 64

// TrainScene fits a voxel field to the synthetic cube dataset and writes a
// rendered frame of the result.
func TrainScene(ctx *cli.Context) error {
	setupLogging(ctx)

	cfg := train.DefaultConfig()
	cfg.GridRes = ctx.Int("grid-res")
	cfg.Seed = int64(ctx.Int("seed"))
	cfg.Workers = ctx.Int("workers")
	if target := ctx.Int("target-batch"); target > 0 {
		cfg.TargetBatchSize = target
	}
	lt, ok := train.ParseLossType(ctx.String("loss"))
	if !ok {
		return fmt.Errorf("unknown loss type %q", ctx.String("loss"))
	}
	cfg.LossType = lt
	cfg.OptimizeExtrinsics = ctx.Bool("optimize-extrinsics")
	cfg.OptimizeExposure = ctx.Bool("optimize-exposure")
	cfg.SampleImageProportionalToError = !ctx.Bool("no-importance-sampling")
	cfg.SampleFocalPlaneProportionalToError = cfg.SampleImageProportionalToError

	ds := scene.SyntheticCube(scene.DefaultCubeOptions())
	f := field.NewVoxelField(demoFieldRes, ds.AABB, float32(ctx.Float64("learning-rate")), cfg.Seed)

	tr, err := train.New(ds, f, cfg)
	if err != nil {
		return err
	}

	steps := ctx.Int("steps")
	logInterval := steps / 10
	if logInterval < 1 {
		logInterval = 1
	}

	logger.Noticef("training %d steps on the synthetic cube scene", steps)
	start := time.Now()
	var first, last train.StepResult
	for i := 0; i < steps; i++ {
		res := tr.Step()
		if i == 0 {
			first = res
		}
		last = res
		if (i+1)%logInterval == 0 {
			logger.Infof("step %4d: loss %.5f, batch %d/%d samples, %d rays",
				i+1, res.Loss, res.MeasuredBatchSize, res.PreCompactionSize, res.Rays)
		}
	}
	took := time.Since(start)

	displayTrainingStats(first, last, steps, took)

	out := ctx.String("out")
	if out == "" {
		return nil
	}
	w, h := ctx.Int("width"), ctx.Int("height")
	view := scaledView(tr.EffectiveView(0), ds.Images[0].W, ds.Images[0].H, w, h)
	return renderToPNG(f, tr.Grid(), view, w, h, float32(ctx.Float64("exposure")), ctx.Int("workers"), out)
}

// scaledView rescales dataset-resolution intrinsics to the requested
// frame size.
func scaledView(view scene.View, srcW, srcH, dstW, dstH int) scene.View {
	if view.Projection == scene.Orthographic {
		// Focal is world units per pixel; shrink it as pixels multiply.
		view.Focal[0] *= float32(srcW) / float32(dstW)
		view.Focal[1] *= float32(srcH) / float32(dstH)
	} else {
		view.Focal[0] *= float32(dstW) / float32(srcW)
		view.Focal[1] *= float32(dstH) / float32(srcH)
	}
	view.Center[0] = float32(dstW) / 2
	view.Center[1] = float32(dstH) / 2
	return view
}

// renderToPNG traces one frame of the field and writes it out, displaying
// the per-worker statistics.
func renderToPNG(f field.Trainable, g *grid.Grid, view scene.View, w, h int, exposure float32, workers int, out string) error {
	tOpts := tracer.DefaultOptions()
	tOpts.RenderBox = g.Box(0)

	r, err := renderer.NewDefault(f, g, renderer.AdaptiveScheduler(), renderer.Options{
		FrameW:   w,
		FrameH:   h,
		Exposure: exposure,
		Workers:  workers,
		Trace:    tOpts,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.Render(view); err != nil {
		return err
	}
	displayFrameStats(r.Stats())

	fh, err := os.Create(out)
	if err != nil {
		return err
	}
	defer fh.Close()

	if err := renderer.WritePNG(fh, r.Framebuffer(), w, h, exposure); err != nil {
		return err
	}
	logger.Noticef("wrote frame to %s", out)
	return nil
}

func displayTrainingStats(first, last train.StepResult, steps int, took time.Duration) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"", "First step", "Last step"})
	table.Append([]string{"Loss", fmt.Sprintf("%.5f", first.Loss), fmt.Sprintf("%.5f", last.Loss)})
	table.Append([]string{"Batch samples", fmt.Sprintf("%d", first.MeasuredBatchSize), fmt.Sprintf("%d", last.MeasuredBatchSize)})
	table.Append([]string{"Rays", fmt.Sprintf("%d", first.Rays), fmt.Sprintf("%d", last.Rays)})
	table.SetFooter([]string{"", "TOTAL", fmt.Sprintf("%d steps in %s", steps, took.Round(time.Millisecond))})

	table.Render()
	logger.Noticef("training statistics\n%s", buf.String())
}

func displayFrameStats(stats renderer.FrameStats) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Worker", "Block height", "% of frame", "Rays", "Render time"})
	for _, stat := range stats.Workers {
		table.Append([]string{
			stat.Id,
			fmt.Sprintf("%d", stat.BlockH),
			fmt.Sprintf("%02.1f %%", stat.FramePercent),
			fmt.Sprintf("%d", stat.Rays),
			stat.RenderTime.String(),
		})
	}
	table.SetFooter([]string{"", "", "", "TOTAL", stats.RenderTime.String()})

	table.Render()
	logger.Noticef("frame statistics\n%s", buf.String())
}
