package train

import "math"

// LossType selects the per-channel reconstruction loss.
type LossType int

const (
	LossL2 LossType = iota
	LossL1
	LossRelativeL2
	LossHuber
	LossLogL1
)

// Huber transition point between the quadratic and linear regimes.
const huberDelta = 0.1

// Stabilizer for the relative-L2 denominator.
const relativeEps = 0.01

func (lt LossType) String() string {
	switch lt {
	case LossL2:
		return "l2"
	case LossL1:
		return "l1"
	case LossRelativeL2:
		return "relative-l2"
	case LossHuber:
		return "huber"
	case LossLogL1:
		return "log-l1"
	}
	return "unknown"
}

// ParseLossType maps a config string to a loss type.
func ParseLossType(s string) (LossType, bool) {
	for lt := LossL2; lt <= LossLogL1; lt++ {
		if lt.String() == s {
			return lt, true
		}
	}
	return LossL2, false
}

// lossValueGrad evaluates one channel of the loss and its derivative with
// respect to the prediction.
func lossValueGrad(lt LossType, pred, target float32) (val, grad float32) {
	d := pred - target
	switch lt {
	case LossL1:
		return abs32(d), sign32(d)
	case LossRelativeL2:
		// The denominator is treated as a constant, matching the usual
		// relative-loss formulation.
		den := pred*pred + relativeEps
		return d * d / den, 2 * d / den
	case LossHuber:
		if a := abs32(d); a > huberDelta {
			return huberDelta * (a - 0.5*huberDelta), huberDelta * sign32(d)
		}
		return 0.5 * d * d, d
	case LossLogL1:
		a := abs32(d)
		return float32(math.Log(float64(1 + a))), sign32(d) / (1 + a)
	default: // LossL2
		return d * d, 2 * d
	}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func sign32(v float32) float32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
