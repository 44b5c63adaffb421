package nnet

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"github.com/mdale/vistrain/num"
)

// Layer interface type represents one layer of the network. Shapes include
// the leading batch dimension and are fixed when Init is called.
type Layer interface {
	Init(dev num.Device, inShape []int) Layer
	OutShape(inShape []int) []int
	Fprop(in *num.Array, train bool) *num.Array
	Bprop(grad *num.Array) *num.Array
	ToString() string
}

// ParamLayer is a layer with trainable weight and bias parameters.
type ParamLayer interface {
	Layer
	InitParams(rng *rand.Rand)
	Params() []*num.Array
	Grads() []*num.Array
}

// Layer configuration details, json encoded in the model checkpoint.
type LayerConfig struct {
	Type string
	Data json.RawMessage `json:",omitempty"`
}

type ConfigLayer interface {
	Marshal() LayerConfig
}

// Unmarshal JSON data and construct new layer
func (l LayerConfig) Unmarshal() Layer {
	switch l.Type {
	case "conv":
		cfg := new(Conv)
		unmarshal(l.Data, cfg)
		return &conv{Conv: *cfg}
	case "maxPool":
		cfg := new(MaxPool)
		unmarshal(l.Data, cfg)
		return &maxPool{MaxPool: *cfg}
	case "avgPool":
		cfg := new(AvgPool)
		unmarshal(l.Data, cfg)
		return &avgPool{AvgPool: *cfg}
	case "linear":
		cfg := new(Linear)
		unmarshal(l.Data, cfg)
		return &linear{Linear: *cfg}
	case "activation":
		cfg := new(Activation)
		unmarshal(l.Data, cfg)
		if cfg.Atype != "relu" {
			panic(fmt.Sprintf("activation type %s invalid", cfg.Atype))
		}
		return &relu{Activation: *cfg}
	case "dropout":
		cfg := new(Dropout)
		unmarshal(l.Data, cfg)
		return &dropout{Dropout: *cfg}
	case "flatten":
		return &flatten{}
	default:
		panic("invalid layer type: " + l.Type)
	}
}

func (l LayerConfig) String() string {
	return l.Unmarshal().ToString()
}

// Convolutional layer with optional zero padding, implements ParamLayer.
type Conv struct {
	Nfeats, Size, Stride, Pad int
}

func (c Conv) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = 1
	}
	return LayerConfig{Type: "conv", Data: marshal(c)}
}

// MaxPool layer, should follow a conv layer.
type MaxPool struct {
	Size, Stride int
}

func (c MaxPool) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = c.Size
	}
	return LayerConfig{Type: "maxPool", Data: marshal(c)}
}

// AvgPool layer, used for global pooling ahead of the classifier.
type AvgPool struct {
	Size, Stride int
}

func (c AvgPool) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = c.Size
	}
	return LayerConfig{Type: "avgPool", Data: marshal(c)}
}

// Linear fully connected layer, implements ParamLayer.
type Linear struct {
	Nout int
}

func (c Linear) Marshal() LayerConfig {
	return LayerConfig{Type: "linear", Data: marshal(c)}
}

// Activation layer. Only relu is supported by the pure Go backend.
type Activation struct {
	Atype string
}

func (c Activation) Marshal() LayerConfig {
	return LayerConfig{Type: "activation", Data: marshal(c)}
}

// Dropout layer randomly zeroes inputs during training.
type Dropout struct {
	Ratio float64
}

func (c Dropout) Marshal() LayerConfig {
	return LayerConfig{Type: "dropout", Data: marshal(c)}
}

// Flatten layer reshapes image input to a matrix for the classifier.
type Flatten struct{}

func (c Flatten) Marshal() LayerConfig {
	return LayerConfig{Type: "flatten"}
}

// conv layer implementation: im2col unroll then a single gemm per sample
type conv struct {
	Conv
	paramBase
	dev     num.Device
	inShape []int
	hOut    int
	wOut    int
	src     *num.Array
	dst     *num.Array
	dsrc    *num.Array
	cols    []*num.Array
}

func (l *conv) ToString() string { return fmt.Sprintf("conv %+v", l.Conv) }

func (l *conv) OutShape(inShape []int) []int {
	h, w := num.ConvDims(inShape[2], inShape[3], l.Size, l.Stride, l.Pad)
	return []int{inShape[0], l.Nfeats, h, w}
}

func (l *conv) Init(dev num.Device, inShape []int) Layer {
	if len(inShape) != 4 {
		panic("Conv: expect 4 dimensional input")
	}
	if l.Stride == 0 {
		l.Stride = 1
	}
	l.dev = dev
	l.inShape = append([]int{}, inShape...)
	batch, channels := inShape[0], inShape[1]
	l.hOut, l.wOut = num.ConvDims(inShape[2], inShape[3], l.Size, l.Stride, l.Pad)
	patch := channels * l.Size * l.Size
	l.paramBase = newParams([]int{l.Nfeats, patch}, []int{l.Nfeats}, patch)
	l.dst = num.NewArray(l.OutShape(inShape)...)
	l.dsrc = num.NewArray(inShape...)
	l.cols = make([]*num.Array, batch)
	for i := range l.cols {
		l.cols[i] = num.NewArray(patch, l.hOut*l.wOut)
	}
	return l
}

func (l *conv) Fprop(in *num.Array, train bool) *num.Array {
	l.src = in
	batch, channels := l.inShape[0], l.inShape[1]
	h, w := l.inShape[2], l.inShape[3]
	nIn := channels * h * w
	nOut := l.Nfeats * l.hOut * l.wOut
	l.dev.ForEach(batch, func(i int) {
		num.Im2col(in.Data[i*nIn:(i+1)*nIn], channels, h, w, l.Size, l.Stride, l.Pad, l.cols[i].Data)
		out := num.NewArrayData(l.dst.Data[i*nOut:(i+1)*nOut], l.Nfeats, l.hOut*l.wOut)
		num.Gemm(1, 0, l.w, l.cols[i], out, num.NoTrans, num.NoTrans)
		for f := 0; f < l.Nfeats; f++ {
			bias := l.b.Data[f]
			row := out.Data[f*l.hOut*l.wOut : (f+1)*l.hOut*l.wOut]
			for j := range row {
				row[j] += bias
			}
		}
	})
	return l.dst
}

func (l *conv) Bprop(grad *num.Array) *num.Array {
	batch, channels := l.inShape[0], l.inShape[1]
	h, w := l.inShape[2], l.inShape[3]
	nIn := channels * h * w
	nOut := l.Nfeats * l.hOut * l.wOut
	num.Fill(l.dw, 0)
	num.Fill(l.db, 0)
	num.Fill(l.dsrc, 0)
	colGrad := num.NewArray(l.cols[0].Dims()...)
	for i := 0; i < batch; i++ {
		g := num.NewArrayData(grad.Data[i*nOut:(i+1)*nOut], l.Nfeats, l.hOut*l.wOut)
		num.Gemm(1, 1, g, l.cols[i], l.dw, num.NoTrans, num.Trans)
		for f := 0; f < l.Nfeats; f++ {
			var sum float32
			for _, v := range g.Data[f*l.hOut*l.wOut : (f+1)*l.hOut*l.wOut] {
				sum += v
			}
			l.db.Data[f] += sum
		}
		num.Gemm(1, 0, l.w, g, colGrad, num.Trans, num.NoTrans)
		num.Col2im(colGrad.Data, channels, h, w, l.Size, l.Stride, l.Pad,
			l.dsrc.Data[i*nIn:(i+1)*nIn])
	}
	return l.dsrc
}

// max pooling layer implementation
type maxPool struct {
	MaxPool
	dev     num.Device
	inShape []int
	hOut    int
	wOut    int
	dst     *num.Array
	dsrc    *num.Array
	argmax  []int32
}

func (l *maxPool) ToString() string { return fmt.Sprintf("maxPool %+v", l.MaxPool) }

func (l *maxPool) OutShape(inShape []int) []int {
	h, w := num.ConvDims(inShape[2], inShape[3], l.Size, l.stride(), 0)
	return []int{inShape[0], inShape[1], h, w}
}

func (l *maxPool) stride() int {
	if l.Stride == 0 {
		return l.Size
	}
	return l.Stride
}

func (l *maxPool) Init(dev num.Device, inShape []int) Layer {
	if len(inShape) != 4 {
		panic("MaxPool: expect 4 dimensional input")
	}
	l.dev = dev
	l.inShape = append([]int{}, inShape...)
	out := l.OutShape(inShape)
	l.hOut, l.wOut = out[2], out[3]
	l.dst = num.NewArray(out...)
	l.dsrc = num.NewArray(inShape...)
	l.argmax = make([]int32, num.Prod(out))
	return l
}

func (l *maxPool) Fprop(in *num.Array, train bool) *num.Array {
	batch, channels := l.inShape[0], l.inShape[1]
	h, w := l.inShape[2], l.inShape[3]
	nIn := channels * h * w
	nOut := channels * l.hOut * l.wOut
	l.dev.ForEach(batch, func(i int) {
		num.MaxPool(in.Data[i*nIn:(i+1)*nIn], channels, h, w, l.Size, l.stride(),
			l.dst.Data[i*nOut:(i+1)*nOut], l.argmax[i*nOut:(i+1)*nOut])
	})
	return l.dst
}

func (l *maxPool) Bprop(grad *num.Array) *num.Array {
	batch, channels := l.inShape[0], l.inShape[1]
	h, w := l.inShape[2], l.inShape[3]
	nIn := channels * h * w
	nOut := channels * l.hOut * l.wOut
	num.Fill(l.dsrc, 0)
	l.dev.ForEach(batch, func(i int) {
		num.MaxPoolD(grad.Data[i*nOut:(i+1)*nOut], l.argmax[i*nOut:(i+1)*nOut],
			l.dsrc.Data[i*nIn:(i+1)*nIn])
	})
	return l.dsrc
}

// average pooling layer implementation
type avgPool struct {
	AvgPool
	dev     num.Device
	inShape []int
	hOut    int
	wOut    int
	dst     *num.Array
	dsrc    *num.Array
}

func (l *avgPool) ToString() string { return fmt.Sprintf("avgPool %+v", l.AvgPool) }

func (l *avgPool) stride() int {
	if l.Stride == 0 {
		return l.Size
	}
	return l.Stride
}

func (l *avgPool) OutShape(inShape []int) []int {
	h, w := num.ConvDims(inShape[2], inShape[3], l.Size, l.stride(), 0)
	return []int{inShape[0], inShape[1], h, w}
}

func (l *avgPool) Init(dev num.Device, inShape []int) Layer {
	if len(inShape) != 4 {
		panic("AvgPool: expect 4 dimensional input")
	}
	l.dev = dev
	l.inShape = append([]int{}, inShape...)
	out := l.OutShape(inShape)
	l.hOut, l.wOut = out[2], out[3]
	l.dst = num.NewArray(out...)
	l.dsrc = num.NewArray(inShape...)
	return l
}

func (l *avgPool) Fprop(in *num.Array, train bool) *num.Array {
	batch, channels := l.inShape[0], l.inShape[1]
	h, w := l.inShape[2], l.inShape[3]
	nIn := channels * h * w
	nOut := channels * l.hOut * l.wOut
	l.dev.ForEach(batch, func(i int) {
		num.AvgPool(in.Data[i*nIn:(i+1)*nIn], channels, h, w, l.Size, l.stride(),
			l.dst.Data[i*nOut:(i+1)*nOut])
	})
	return l.dst
}

func (l *avgPool) Bprop(grad *num.Array) *num.Array {
	batch, channels := l.inShape[0], l.inShape[1]
	h, w := l.inShape[2], l.inShape[3]
	nIn := channels * h * w
	nOut := channels * l.hOut * l.wOut
	num.Fill(l.dsrc, 0)
	l.dev.ForEach(batch, func(i int) {
		num.AvgPoolD(grad.Data[i*nOut:(i+1)*nOut], channels, h, w, l.Size, l.stride(),
			l.dsrc.Data[i*nIn:(i+1)*nIn])
	})
	return l.dsrc
}

// linear layer implementation
type linear struct {
	Linear
	paramBase
	batch int
	nIn   int
	src   *num.Array
	dst   *num.Array
	dsrc  *num.Array
}

func (l *linear) ToString() string { return fmt.Sprintf("linear %+v", l.Linear) }

func (l *linear) OutShape(inShape []int) []int {
	return []int{inShape[0], l.Nout}
}

func (l *linear) Init(dev num.Device, inShape []int) Layer {
	if len(inShape) != 2 {
		panic("Linear: expect 2 dimensional input")
	}
	l.batch, l.nIn = inShape[0], inShape[1]
	l.paramBase = newParams([]int{l.nIn, l.Nout}, []int{l.Nout}, l.nIn)
	l.dst = num.NewArray(l.batch, l.Nout)
	l.dsrc = num.NewArray(l.batch, l.nIn)
	return l
}

func (l *linear) Fprop(in *num.Array, train bool) *num.Array {
	l.src = in
	num.Gemm(1, 0, in, l.w, l.dst, num.NoTrans, num.NoTrans)
	for i := 0; i < l.batch; i++ {
		row := l.dst.Data[i*l.Nout : (i+1)*l.Nout]
		for j, bias := range l.b.Data {
			row[j] += bias
		}
	}
	return l.dst
}

func (l *linear) Bprop(grad *num.Array) *num.Array {
	num.Gemm(1, 0, l.src, grad, l.dw, num.Trans, num.NoTrans)
	num.Fill(l.db, 0)
	for i := 0; i < l.batch; i++ {
		for j, g := range grad.Data[i*l.Nout : (i+1)*l.Nout] {
			l.db.Data[j] += g
		}
	}
	num.Gemm(1, 0, grad, l.w, l.dsrc, num.NoTrans, num.Trans)
	return l.dsrc
}

// relu activation layer
type relu struct {
	Activation
	src  *num.Array
	dst  *num.Array
	dsrc *num.Array
}

func (l *relu) ToString() string { return "activation {Atype:relu}" }

func (l *relu) OutShape(inShape []int) []int { return inShape }

func (l *relu) Init(dev num.Device, inShape []int) Layer {
	l.dst = num.NewArray(inShape...)
	l.dsrc = num.NewArray(inShape...)
	return l
}

func (l *relu) Fprop(in *num.Array, train bool) *num.Array {
	l.src = in
	num.Relu(in, l.dst)
	return l.dst
}

func (l *relu) Bprop(grad *num.Array) *num.Array {
	num.ReluD(l.src, grad, l.dsrc)
	return l.dsrc
}

// dropout layer: inverted dropout so evaluation is a no-op
type dropout struct {
	Dropout
	rng  *rand.Rand
	mask []float32
	dst  *num.Array
	dsrc *num.Array
}

func (l *dropout) ToString() string { return fmt.Sprintf("dropout %+v", l.Dropout) }

func (l *dropout) OutShape(inShape []int) []int { return inShape }

func (l *dropout) Init(dev num.Device, inShape []int) Layer {
	l.rng = rand.New(rand.NewSource(rand.Int63()))
	l.mask = make([]float32, num.Prod(inShape))
	l.dst = num.NewArray(inShape...)
	l.dsrc = num.NewArray(inShape...)
	return l
}

func (l *dropout) Fprop(in *num.Array, train bool) *num.Array {
	if !train || l.Ratio <= 0 {
		return in
	}
	scale := float32(1 / (1 - l.Ratio))
	for i, v := range in.Data {
		if l.rng.Float64() < l.Ratio {
			l.mask[i] = 0
		} else {
			l.mask[i] = scale
		}
		l.dst.Data[i] = v * l.mask[i]
	}
	return l.dst
}

func (l *dropout) Bprop(grad *num.Array) *num.Array {
	for i, g := range grad.Data {
		l.dsrc.Data[i] = g * l.mask[i]
	}
	return l.dsrc
}

// flatten layer reshapes from 4 to 2 dimensions
type flatten struct {
	inShape []int
}

func (l *flatten) ToString() string { return "flatten" }

func (l *flatten) OutShape(inShape []int) []int {
	return []int{inShape[0], num.Prod(inShape[1:])}
}

func (l *flatten) Init(dev num.Device, inShape []int) Layer {
	l.inShape = append([]int{}, inShape...)
	return l
}

func (l *flatten) Fprop(in *num.Array, train bool) *num.Array {
	return in.Reshape(l.inShape[0], -1)
}

func (l *flatten) Bprop(grad *num.Array) *num.Array {
	return grad.Reshape(l.inShape...)
}

// weight and bias parameters
type paramBase struct {
	w, b   *num.Array
	dw, db *num.Array
	fanIn  int
}

func newParams(wShape, bShape []int, fanIn int) paramBase {
	return paramBase{
		w:     num.NewArray(wShape...),
		b:     num.NewArray(bShape...),
		dw:    num.NewArray(wShape...),
		db:    num.NewArray(bShape...),
		fanIn: fanIn,
	}
}

func (p paramBase) Params() []*num.Array { return []*num.Array{p.w, p.b} }

func (p paramBase) Grads() []*num.Array { return []*num.Array{p.dw, p.db} }

// He initialisation: normal weights scaled by sqrt(2/nin), zero bias
func (p paramBase) InitParams(rng *rand.Rand) {
	scale := float32(math.Sqrt(2 / float64(p.fanIn)))
	for i := range p.w.Data {
		p.w.Data[i] = float32(rng.NormFloat64()) * scale
	}
	num.Fill(p.b, 0)
}

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func unmarshal(data json.RawMessage, v interface{}) {
	err := json.Unmarshal(data, v)
	if err != nil {
		panic(err)
	}
}
