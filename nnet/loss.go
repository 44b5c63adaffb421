package nnet

import (
	"math"

	"github.com/mdale/vistrain/num"
)

// Loss maps output logits and integer labels to a scalar loss and the
// gradient with respect to the logits, averaged over the batch. Rows beyond
// len(labels) are padding from a partial batch and contribute nothing.
type Loss interface {
	Loss(pred *num.Array, labels []int32) (float64, *num.Array)
}

// CrossEntropy is softmax cross entropy with optional label smoothing.
// A smoothing factor eps spreads eps of the target mass evenly over all
// classes.
type CrossEntropy struct {
	Smoothing float64
	probs     *num.Array
	logProbs  *num.Array
	grad      *num.Array
}

// NewCrossEntropy creates the loss with buffers for the given output shape.
func NewCrossEntropy(smoothing float64, batch, classes int) *CrossEntropy {
	return &CrossEntropy{
		Smoothing: smoothing,
		probs:     num.NewArray(batch, classes),
		logProbs:  num.NewArray(batch, classes),
		grad:      num.NewArray(batch, classes),
	}
}

func (l *CrossEntropy) Loss(pred *num.Array, labels []int32) (float64, *num.Array) {
	classes := pred.Dims()[1]
	num.Softmax(pred, l.probs)
	num.LogSoftmax(pred, l.logProbs)
	n := len(labels)
	eps := l.Smoothing
	off := eps / float64(classes)
	on := 1 - eps + off
	var loss float64
	num.Fill(l.grad, 0)
	for i := 0; i < n; i++ {
		lp := l.logProbs.Data[i*classes : (i+1)*classes]
		p := l.probs.Data[i*classes : (i+1)*classes]
		g := l.grad.Data[i*classes : (i+1)*classes]
		target := int(labels[i])
		for j := 0; j < classes; j++ {
			t := off
			if j == target {
				t = on
			}
			loss -= t * float64(lp[j])
			g[j] = (p[j] - float32(t)) / float32(n)
		}
	}
	return loss / float64(n), l.grad
}

// Distillation combines soft target distillation against a teacher model
// with hard label cross entropy:
//
//	loss = alpha*T^2*KL(softmax(student/T) || softmax(teacher/T)) +
//	       (1-alpha)*CE(student, labels)
//
// The teacher predictions for the current batch are set before each call.
type Distillation struct {
	Alpha  float64
	Temp   float64
	hard   *CrossEntropy
	tProb  *num.Array
	sProb  *num.Array
	sLog   *num.Array
	tLog   *num.Array
	scaled *num.Array
	grad   *num.Array
}

// NewDistillation creates the distillation loss for the given output shape.
func NewDistillation(alpha, temp float64, batch, classes int) *Distillation {
	return &Distillation{
		Alpha:  alpha,
		Temp:   temp,
		hard:   NewCrossEntropy(0, batch, classes),
		tProb:  num.NewArray(batch, classes),
		sProb:  num.NewArray(batch, classes),
		sLog:   num.NewArray(batch, classes),
		tLog:   num.NewArray(batch, classes),
		scaled: num.NewArray(batch, classes),
		grad:   num.NewArray(batch, classes),
	}
}

// LossKD evaluates the combined loss given student logits, teacher logits
// and the hard labels.
func (l *Distillation) LossKD(pred, teacher *num.Array, labels []int32) (float64, *num.Array) {
	classes := pred.Dims()[1]
	n := len(labels)
	t := float32(l.Temp)

	scaleInto(l.scaled, teacher, 1/t)
	num.Softmax(l.scaled, l.tProb)
	num.LogSoftmax(l.scaled, l.tLog)
	scaleInto(l.scaled, pred, 1/t)
	num.Softmax(l.scaled, l.sProb)
	num.LogSoftmax(l.scaled, l.sLog)

	var soft float64
	num.Fill(l.grad, 0)
	for i := 0; i < n; i++ {
		tp := l.tProb.Data[i*classes : (i+1)*classes]
		tl := l.tLog.Data[i*classes : (i+1)*classes]
		sp := l.sProb.Data[i*classes : (i+1)*classes]
		sl := l.sLog.Data[i*classes : (i+1)*classes]
		g := l.grad.Data[i*classes : (i+1)*classes]
		for j := 0; j < classes; j++ {
			soft += float64(tp[j]) * float64(tl[j]-sl[j])
			// d/ds of T^2*KL/n with the 1/T chain factor
			g[j] = float32(l.Alpha) * t * (sp[j] - tp[j]) / float32(n)
		}
	}
	soft = soft * l.Temp * l.Temp / float64(n)

	hardLoss, hardGrad := l.hard.Loss(pred, labels)
	num.Axpy(float32(1-l.Alpha), hardGrad, l.grad)
	loss := l.Alpha*soft + (1-l.Alpha)*hardLoss
	if math.IsNaN(loss) {
		loss = math.Inf(1)
	}
	return loss, l.grad
}

func scaleInto(dst, src *num.Array, alpha float32) {
	for i, v := range src.Data {
		dst.Data[i] = v * alpha
	}
}
