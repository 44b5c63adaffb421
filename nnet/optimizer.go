package nnet

import (
	"fmt"
	"math"

	"github.com/mdale/vistrain/num"
)

// Optimizer updates model parameters from their gradients. The learning rate
// is read on every step so a scheduler can adjust it between epochs.
type Optimizer interface {
	Step(params, grads []*num.Array)
	LR() float64
	SetLR(lr float64)
	ZeroGrad(grads []*num.Array)
}

// NewOptimizer builds an optimizer by config name: sgd or adamw.
func NewOptimizer(name string, lr, decay, momentum float64) (Optimizer, error) {
	switch name {
	case "sgd":
		return &SGD{lr: lr, decay: decay, momentum: momentum}, nil
	case "adamw":
		return &AdamW{lr: lr, decay: decay, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}, nil
	default:
		return nil, fmt.Errorf("optimizer %q is not supported", name)
	}
}

type optBase struct{}

func (optBase) ZeroGrad(grads []*num.Array) {
	for _, g := range grads {
		num.Fill(g, 0)
	}
}

// SGD with classical momentum and L2 weight decay folded into the gradient.
type SGD struct {
	optBase
	lr       float64
	decay    float64
	momentum float64
	velocity []*num.Array
}

func (o *SGD) LR() float64 { return o.lr }

func (o *SGD) SetLR(lr float64) { o.lr = lr }

func (o *SGD) Step(params, grads []*num.Array) {
	if o.velocity == nil {
		o.velocity = make([]*num.Array, len(params))
		for i, p := range params {
			o.velocity[i] = num.NewArray(p.Dims()...)
		}
	}
	lr := float32(o.lr)
	for i, p := range params {
		g := grads[i]
		if o.decay != 0 && len(p.Dims()) > 1 {
			// decay applies to weights, not biases
			num.Axpy(float32(o.decay), p, g)
		}
		if o.momentum != 0 {
			v := o.velocity[i]
			num.Scale(float32(o.momentum), v)
			num.Axpy(1, g, v)
			g = v
		}
		num.Axpy(-lr, g, p)
	}
}

// AdamW: Adam with decoupled weight decay.
type AdamW struct {
	optBase
	lr    float64
	decay float64
	Beta1 float64
	Beta2 float64
	Eps   float64
	step  int
	m, v  []*num.Array
}

func (o *AdamW) LR() float64 { return o.lr }

func (o *AdamW) SetLR(lr float64) { o.lr = lr }

func (o *AdamW) Step(params, grads []*num.Array) {
	if o.m == nil {
		o.m = make([]*num.Array, len(params))
		o.v = make([]*num.Array, len(params))
		for i, p := range params {
			o.m[i] = num.NewArray(p.Dims()...)
			o.v[i] = num.NewArray(p.Dims()...)
		}
	}
	o.step++
	c1 := 1 - math.Pow(o.Beta1, float64(o.step))
	c2 := 1 - math.Pow(o.Beta2, float64(o.step))
	for i, p := range params {
		g := grads[i]
		m, v := o.m[i], o.v[i]
		for j, gj := range g.Data {
			m.Data[j] = float32(o.Beta1)*m.Data[j] + float32(1-o.Beta1)*gj
			v.Data[j] = float32(o.Beta2)*v.Data[j] + float32(1-o.Beta2)*gj*gj
			mHat := float64(m.Data[j]) / c1
			vHat := float64(v.Data[j]) / c2
			upd := mHat / (math.Sqrt(vHat) + o.Eps)
			if o.decay != 0 && len(p.Dims()) > 1 {
				upd += o.decay * float64(p.Data[j])
			}
			p.Data[j] -= float32(o.lr * upd)
		}
	}
}
