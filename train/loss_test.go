package train

import (
	"math"
	"testing"
)

func TestParseLossType(t *testing.T) {
	for lt := LossL2; lt <= LossLogL1; lt++ {
		got, ok := ParseLossType(lt.String())
		if !ok || got != lt {
			t.Fatalf("expected %q to parse back to %d; got %d, %t", lt.String(), lt, got, ok)
		}
	}
	if _, ok := ParseLossType("bogus"); ok {
		t.Fatalf("expected an unknown loss name to be rejected")
	}
}

func TestL2LossScales(t *testing.T) {
	type spec struct {
		pred   float32
		target float32
		scale  float32
	}
	specs := []spec{
		{0.8, 0.3, 2},
		{0.1, 0.9, 0.5},
		{1.5, -0.5, 3},
	}

	// Scaling prediction and target together scales the L2 loss by the
	// squared factor.
	for index, s := range specs {
		base, _ := lossValueGrad(LossL2, s.pred, s.target)
		scaled, _ := lossValueGrad(LossL2, s.scale*s.pred, s.scale*s.target)
		exp := s.scale * s.scale * base
		if d := scaled - exp; d < -1e-5 || d > 1e-5 {
			t.Fatalf("[spec %d] expected scaled loss %g; got %g", index, exp, scaled)
		}
	}
}

func TestLossGradientsMatchFiniteDifferences(t *testing.T) {
	const h = 1e-3
	preds := []float32{0.1, 0.45, 0.9, 1.3}
	targets := []float32{0.5, 0.45, 0.2, 0.0}

	for lt := LossL2; lt <= LossLogL1; lt++ {
		// The relative-L2 gradient holds its denominator constant so a
		// finite difference would disagree with it.
		if lt == LossRelativeL2 {
			continue
		}
		for i, pred := range preds {
			target := targets[i]
			if lt == LossL1 || lt == LossLogL1 {
				// Not differentiable at pred == target.
				if pred == target {
					continue
				}
			}

			_, grad := lossValueGrad(lt, pred, target)
			plus, _ := lossValueGrad(lt, pred+h, target)
			minus, _ := lossValueGrad(lt, pred-h, target)
			numeric := (plus - minus) / (2 * h)

			diff := float64(numeric - grad)
			if math.Abs(diff) > 1e-2 {
				t.Fatalf("%s: expected gradient %g at (%g, %g); got %g", lt, numeric, pred, target, grad)
			}
		}
	}
}

func TestHuberLossRegimes(t *testing.T) {
	// Inside the delta the loss is quadratic, outside linear with a
	// gradient capped at the delta.
	small, gSmall := lossValueGrad(LossHuber, 0.55, 0.5)
	if d := small - 0.5*0.05*0.05; d < -1e-6 || d > 1e-6 {
		t.Fatalf("expected quadratic huber loss for a small residual; got %g", small)
	}
	if d := gSmall - 0.05; d < -1e-6 || d > 1e-6 {
		t.Fatalf("expected gradient equal to the small residual; got %g", gSmall)
	}

	_, gLarge := lossValueGrad(LossHuber, 1.5, 0.5)
	if gLarge != huberDelta {
		t.Fatalf("expected the large-residual gradient to cap at %g; got %g", float32(huberDelta), gLarge)
	}
}

func TestRelativeL2Dampens(t *testing.T) {
	// The same absolute residual costs less on a bright prediction.
	dim, _ := lossValueGrad(LossRelativeL2, 0.1, 0.2)
	bright, _ := lossValueGrad(LossRelativeL2, 0.9, 1.0)
	if bright >= dim {
		t.Fatalf("expected the relative loss to dampen bright regions; got dim %g, bright %g", dim, bright)
	}
}
