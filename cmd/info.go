package cmd

import (
	"bytes"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
	"github.com/yenchenlin/orthographic-ngp/grid"
	"github.com/yenchenlin/orthographic-ngp/tracer"
	"github.com/yenchenlin/orthographic-ngp/train"
)

// Info prints the training defaults and the derived grid and marching
// parameters for the requested configuration.
func Info(ctx *cli.Context) error {
	setupLogging(ctx)

	cfg := train.DefaultConfig()
	if res := ctx.Int("grid-res"); res > 0 {
		cfg.GridRes = res
	}
	if c := ctx.Int("cascades"); c > 0 {
		cfg.GridCascades = c
	}

	g, err := grid.New(cfg.GridRes, cfg.GridCascades, cfg.AABB, cfg.RenderBox, cfg.Seed)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Parameter", "Value"})
	table.Append([]string{"Target batch size", fmt.Sprintf("%d", cfg.TargetBatchSize)})
	table.Append([]string{"Initial rays per batch", fmt.Sprintf("%d", cfg.RaysPerBatch)})
	table.Append([]string{"Max samples per ray", fmt.Sprintf("%d", cfg.MaxSamplesPerRay)})
	table.Append([]string{"Loss", cfg.LossType.String()})
	table.Append([]string{"Loss scale", fmt.Sprintf("%g", float32(train.LossScale))})
	table.Append([]string{"Grid resolution", fmt.Sprintf("%d^3 x %d cascades", cfg.GridRes, cfg.GridCascades)})
	table.Append([]string{"Grid decay", fmt.Sprintf("%g", cfg.GridDecay)})
	table.Append([]string{"Grid update interval", fmt.Sprintf("%d steps", cfg.GridUpdateInterval)})
	table.Append([]string{"Camera update interval", fmt.Sprintf("%d steps", cfg.CamUpdateInterval)})
	table.Append([]string{"Error map rebuild interval", fmt.Sprintf("%d steps", cfg.ErrorMapUpdateInterval)})
	table.Append([]string{"Min marching step", fmt.Sprintf("%g", float32(tracer.DtMin))})
	table.Append([]string{"Cone angle", fmt.Sprintf("%g", cfg.ConeAngle)})
	for c := 0; c < cfg.GridCascades; c++ {
		box := g.Box(c)
		cs := g.CellSize(c)
		table.Append([]string{
			fmt.Sprintf("Cascade %d", c),
			fmt.Sprintf("[%g,%g,%g]..[%g,%g,%g] cell %g",
				box.Min[0], box.Min[1], box.Min[2],
				box.Max[0], box.Max[1], box.Max[2], cs[0]),
		})
	}
	table.Render()

	logger.Noticef("training configuration\n%s", buf.String())
	return nil
}
