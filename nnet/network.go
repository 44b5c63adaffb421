// Package nnet contains routines for constructing, training and evaluating
// neural network classifiers.
package nnet

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/mdale/vistrain/datasets"
	"github.com/mdale/vistrain/num"
)

// Network type represents a multilayer neural network model. The batch size
// is fixed when the network is built, all layer buffers are preallocated.
type Network struct {
	Name    string
	Variant string
	Layers  []Layer
	// Half rounds activations to float16 precision after each layer to
	// emulate mixed precision on devices without native half floats.
	Half      bool
	config    []LayerConfig
	inShape   []int
	batchSize int
}

// New builds a network from the layer config for the given batch size and
// per sample input shape.
func New(dev num.Device, config []LayerConfig, batchSize int, inShape []int) *Network {
	n := &Network{config: config, batchSize: batchSize}
	n.inShape = append([]int{batchSize}, inShape...)
	shape := n.inShape
	for _, l := range config {
		layer := l.Unmarshal().Init(dev, shape)
		n.Layers = append(n.Layers, layer)
		shape = layer.OutShape(shape)
	}
	if len(shape) != 2 {
		panic(fmt.Sprintf("network output must be 2 dimensional, have %v", shape))
	}
	return n
}

// Config returns the layer config used to build the network.
func (n *Network) Config() []LayerConfig { return n.config }

// BatchSize the network was built for.
func (n *Network) BatchSize() int { return n.batchSize }

// InShape is the per sample input shape excluding the batch dimension.
func (n *Network) InShape() []int { return n.inShape[1:] }

// OutClasses is the width of the network output.
func (n *Network) OutClasses() int {
	shape := n.inShape
	for _, layer := range n.Layers {
		shape = layer.OutShape(shape)
	}
	return shape[1]
}

// InitWeights initialises the parameters of each layer.
func (n *Network) InitWeights(rng *rand.Rand) {
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			l.InitParams(rng)
		}
	}
}

// Fprop feeds the input forward returning the output logits.
func (n *Network) Fprop(input *num.Array, train bool) *num.Array {
	pred := input
	for _, layer := range n.Layers {
		pred = layer.Fprop(pred, train)
		if n.Half {
			num.RoundTrip16(pred)
		}
	}
	return pred
}

// Bprop back propagates the output gradient through all layers, filling the
// parameter gradients.
func (n *Network) Bprop(grad *num.Array) {
	for i := len(n.Layers) - 1; i >= 0; i-- {
		grad = n.Layers[i].Bprop(grad)
	}
}

// Params returns the trainable parameters of all layers in order.
func (n *Network) Params() []*num.Array {
	var params []*num.Array
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			params = append(params, l.Params()...)
		}
	}
	return params
}

// Grads returns the parameter gradients in the same order as Params.
func (n *Network) Grads() []*num.Array {
	var grads []*num.Array
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			grads = append(grads, l.Grads()...)
		}
	}
	return grads
}

// CopyWeightsFrom sets this network's parameters from another instance built
// from the same config, e.g. a different batch size replica.
func (n *Network) CopyWeightsFrom(src *Network) {
	dst := n.Params()
	from := src.Params()
	if len(dst) != len(from) {
		panic("CopyWeightsFrom: networks differ")
	}
	for i, p := range from {
		num.Copy(dst[i], p)
	}
}

// Accuracy runs the network over a dataset and returns top-1 and top-5
// accuracy in percent. Partial batches are handled, dropped samples are not.
func (n *Network) Accuracy(dset *datasets.Dataset) (top1, top5 float64) {
	if dset.BatchSize != n.batchSize {
		panic(fmt.Sprintf("Accuracy: dataset batch size %d != network %d", dset.BatchSize, n.batchSize))
	}
	var hits1, hits5, total int
	dset.NextEpoch()
	for batch := 0; batch < dset.Batches; batch++ {
		x, y, nb := dset.NextBatch()
		pred := n.Fprop(x, false)
		in1 := num.TopK(pred, pad(y, n.batchSize), 1)
		in5 := num.TopK(pred, pad(y, n.batchSize), 5)
		for i := 0; i < nb; i++ {
			if in1[i] {
				hits1++
			}
			if in5[i] {
				hits5++
			}
		}
		total += nb
	}
	dset.Wait()
	return 100 * float64(hits1) / float64(total), 100 * float64(hits5) / float64(total)
}

func pad(y []int32, size int) []int32 {
	if len(y) == size {
		return y
	}
	padded := make([]int32, size)
	copy(padded, y)
	return padded
}

// Print network description
func (n *Network) String() string {
	s := make([]string, len(n.Layers))
	shape := n.inShape
	for i, layer := range n.Layers {
		s[i] = fmt.Sprintf("%2d: %-32s %v", i, layer.ToString(), shape)
		shape = layer.OutShape(shape)
	}
	return fmt.Sprintf("== Network %s-%s ==\n%s\n    output%27s %v",
		n.Name, n.Variant, strings.Join(s, "\n"), "", shape)
}
