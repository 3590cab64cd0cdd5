package cmd

import (
	"fmt"

	"github.com/urfave/cli"
	"github.com/yenchenlin/orthographic-ngp/field"
	"github.com/yenchenlin/orthographic-ngp/scene"
	"github.com/yenchenlin/orthographic-ngp/train"
)

// RenderFrame fits a field to the synthetic cube scene and renders a
// single frame of it from one of the dataset views.
func RenderFrame(ctx *cli.Context) error {
	setupLogging(ctx)

	cfg := train.DefaultConfig()
	cfg.GridRes = ctx.Int("grid-res")
	cfg.Seed = int64(ctx.Int("seed"))
	cfg.Workers = ctx.Int("workers")

	ds := scene.SyntheticCube(scene.DefaultCubeOptions())
	f := field.NewVoxelField(demoFieldRes, ds.AABB, float32(ctx.Float64("learning-rate")), cfg.Seed)

	tr, err := train.New(ds, f, cfg)
	if err != nil {
		return err
	}

	steps := ctx.Int("steps")
	logger.Infof("fitting the field for %d steps before rendering", steps)
	for i := 0; i < steps; i++ {
		tr.Step()
	}

	viewIdx := ctx.Int("view")
	if viewIdx < 0 || viewIdx >= len(ds.Images) {
		return fmt.Errorf("view index %d out of range, dataset has %d views", viewIdx, len(ds.Images))
	}

	w, h := ctx.Int("width"), ctx.Int("height")
	view := scaledView(tr.EffectiveView(viewIdx), ds.Images[viewIdx].W, ds.Images[viewIdx].H, w, h)
	return renderToPNG(f, tr.Grid(), view, w, h, float32(ctx.Float64("exposure")), ctx.Int("workers"), ctx.String("out"))
}
