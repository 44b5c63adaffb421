package nnet

import (
	"github.com/sirupsen/logrus"

	"github.com/mdale/vistrain/num"
)

// Gradient scaler defaults, the conventional values for dynamic loss scaling.
const (
	scaleInit    = 65536
	scaleGrowth  = 2.0
	scaleBackoff = 0.5
	growthSteps  = 2000
	scaleMin     = 1
)

// GradScaler implements dynamic loss scaling for mixed precision training.
// The loss gradient is multiplied by the current scale before backprop; if
// any gradient overflows the optimizer step is skipped and the scale reduced,
// otherwise gradients are unscaled and after a run of good steps the scale
// grows. With Enabled false every method is a passthrough.
type GradScaler struct {
	Enabled  bool
	scale    float64
	good     int
	overflow bool
}

func NewGradScaler(enabled bool) *GradScaler {
	return &GradScaler{Enabled: enabled, scale: scaleInit}
}

// Scale returns the current loss scale.
func (s *GradScaler) Scale() float64 {
	if !s.Enabled {
		return 1
	}
	return s.scale
}

// ScaleGrad multiplies the loss gradient by the scale ahead of backprop.
func (s *GradScaler) ScaleGrad(grad *num.Array) {
	if s.Enabled {
		num.Scale(float32(s.scale), grad)
	}
}

// Step unscales the gradients and applies the optimizer step, unless any
// gradient overflowed in which case the step is skipped. Returns whether the
// step was applied.
func (s *GradScaler) Step(opt Optimizer, params, grads []*num.Array) bool {
	if !s.Enabled {
		opt.Step(params, grads)
		return true
	}
	for _, g := range grads {
		if num.HasOverflow(g) {
			s.overflow = true
			return false
		}
	}
	inv := float32(1 / s.scale)
	for _, g := range grads {
		num.Scale(inv, g)
	}
	opt.Step(params, grads)
	return true
}

// Update adjusts the scale after each step: backoff on overflow, growth
// after a run of successful steps.
func (s *GradScaler) Update() {
	if !s.Enabled {
		return
	}
	if s.overflow {
		s.overflow = false
		s.good = 0
		s.scale *= scaleBackoff
		if s.scale < scaleMin {
			s.scale = scaleMin
		}
		logrus.WithField("scale", s.scale).Debug("gradient overflow, loss scale reduced")
		return
	}
	s.good++
	if s.good >= growthSteps {
		s.good = 0
		s.scale *= scaleGrowth
	}
}
