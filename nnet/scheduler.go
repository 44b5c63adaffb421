package nnet

import (
	"fmt"
	"math"
)

// Scheduler adjusts the optimizer learning rate once per epoch. Epochs are
// counted from zero, calling Step after the last training epoch is harmless.
type Scheduler interface {
	Step(epoch int)
	LastLR() float64
}

// NewScheduler builds a scheduler by config name: steplr, cosine or none.
func NewScheduler(name string, opt Optimizer, epochs, step int, gamma float64, warmup int, minLR float64) (Scheduler, error) {
	switch name {
	case "", "none":
		return constantLR{opt: opt}, nil
	case "steplr":
		if step <= 0 {
			step = 30
		}
		if gamma == 0 {
			gamma = 0.1
		}
		return &StepLR{opt: opt, baseLR: opt.LR(), StepSize: step, Gamma: gamma}, nil
	case "cosine":
		return &WarmupCosine{opt: opt, baseLR: opt.LR(), Epochs: epochs, Warmup: warmup, MinLR: minLR}, nil
	default:
		return nil, fmt.Errorf("scheduler %q is not supported", name)
	}
}

type constantLR struct{ opt Optimizer }

func (s constantLR) Step(epoch int) {}

func (s constantLR) LastLR() float64 { return s.opt.LR() }

// StepLR decays the learning rate by Gamma every StepSize epochs.
type StepLR struct {
	opt      Optimizer
	baseLR   float64
	StepSize int
	Gamma    float64
}

func (s *StepLR) Step(epoch int) {
	s.opt.SetLR(s.baseLR * math.Pow(s.Gamma, float64((epoch+1)/s.StepSize)))
}

func (s *StepLR) LastLR() float64 { return s.opt.LR() }

// WarmupCosine ramps the learning rate linearly over the warmup epochs then
// follows a half cosine from the base rate down to MinLR.
type WarmupCosine struct {
	opt    Optimizer
	baseLR float64
	Epochs int
	Warmup int
	MinLR  float64
}

func (s *WarmupCosine) Step(epoch int) {
	s.opt.SetLR(s.rate(epoch + 1))
}

func (s *WarmupCosine) rate(epoch int) float64 {
	if s.Warmup > 0 && epoch < s.Warmup {
		return s.baseLR * float64(epoch+1) / float64(s.Warmup)
	}
	span := s.Epochs - s.Warmup
	if span <= 1 {
		return s.MinLR
	}
	t := float64(epoch-s.Warmup) / float64(span-1)
	if t > 1 {
		t = 1
	}
	return s.MinLR + 0.5*(s.baseLR-s.MinLR)*(1+math.Cos(math.Pi*t))
}

func (s *WarmupCosine) LastLR() float64 { return s.opt.LR() }
