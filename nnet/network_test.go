package nnet

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/mdale/vistrain/datasets"
	"github.com/mdale/vistrain/num"
)

func testDevice(t *testing.T) num.Device {
	dev, err := num.NewDevice("cpu")
	if err != nil {
		t.Fatal(err)
	}
	return dev
}

func testConfig() []LayerConfig {
	return []LayerConfig{
		Conv{Nfeats: 2, Size: 3, Pad: 1}.Marshal(),
		Flatten{}.Marshal(),
		Linear{Nout: 3}.Marshal(),
	}
}

func TestNetworkShapes(t *testing.T) {
	net := New(testDevice(t), []LayerConfig{
		Conv{Nfeats: 4, Size: 3, Pad: 1}.Marshal(),
		Activation{Atype: "relu"}.Marshal(),
		MaxPool{Size: 2}.Marshal(),
		Flatten{}.Marshal(),
		Linear{Nout: 10}.Marshal(),
	}, 8, []int{1, 8, 8})
	t.Log("\n" + net.String())
	if classes := net.OutClasses(); classes != 10 {
		t.Errorf("output classes %d", classes)
	}
	net.InitWeights(rand.New(rand.NewSource(1)))
	x := num.NewArray(8, 1, 8, 8)
	pred := net.Fprop(x, true)
	if d := pred.Dims(); d[0] != 8 || d[1] != 10 {
		t.Errorf("output shape %v", d)
	}
	// conv w+b, linear w+b
	if np := len(net.Params()); np != 4 {
		t.Errorf("param count %d", np)
	}
}

func TestNetworkGradients(t *testing.T) {
	dev := testDevice(t)
	net := New(dev, testConfig(), 2, []int{1, 4, 4})
	rng := rand.New(rand.NewSource(3))
	net.InitWeights(rng)
	x := num.NewArray(2, 1, 4, 4)
	for i := range x.Data {
		x.Data[i] = float32(rng.NormFloat64())
	}
	labels := []int32{0, 2}
	ce := NewCrossEntropy(0, 2, 3)

	lossAt := func() float64 {
		loss, _ := ce.Loss(net.Fprop(x, false), labels)
		return loss
	}
	_, grad := ce.Loss(net.Fprop(x, true), labels)
	net.Bprop(grad)
	analytic := make([][]float32, 0)
	for _, g := range net.Grads() {
		analytic = append(analytic, append([]float32{}, g.Data...))
	}

	params := net.Params()
	const h = 1e-2
	for pi, p := range params {
		for _, idx := range []int{0, len(p.Data) / 2, len(p.Data) - 1} {
			orig := p.Data[idx]
			p.Data[idx] = orig + h
			up := lossAt()
			p.Data[idx] = orig - h
			down := lossAt()
			p.Data[idx] = orig
			numeric := (up - down) / (2 * h)
			got := float64(analytic[pi][idx])
			if diff := math.Abs(got - numeric); diff > 1e-3+0.02*math.Abs(got) {
				t.Errorf("param %d[%d]: analytic %.6f numeric %.6f", pi, idx, got, numeric)
			}
		}
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	dev := testDevice(t)
	net := New(dev, testConfig(), 4, []int{1, 4, 4})
	net.Name, net.Variant = "cnn", "small"
	net.InitWeights(rand.New(rand.NewSource(7)))
	classes := []string{"cat", "dog", "bird"}

	path := CheckpointFile(t.TempDir(), net.Name, net.Variant)
	if err := SaveCheckpoint(net, classes, path); err != nil {
		t.Fatal(err)
	}
	ckpt, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatal(err)
	}
	if ckpt.Name != "cnn" || ckpt.Variant != "small" || len(ckpt.Classes) != 3 {
		t.Errorf("metadata: %s %s %v", ckpt.Name, ckpt.Variant, ckpt.Classes)
	}
	restored, err := ckpt.Restore(dev, 2)
	if err != nil {
		t.Fatal(err)
	}
	if restored.BatchSize() != 2 {
		t.Errorf("restored batch size %d", restored.BatchSize())
	}
	from := net.Params()
	for i, p := range restored.Params() {
		for j, v := range p.Data {
			if v != from[i].Data[j] {
				t.Fatalf("weights differ at param %d", i)
			}
		}
	}

	ckpt.Weights = ckpt.Weights[:1]
	if _, err = ckpt.Restore(dev, 2); err == nil {
		t.Error("expect error for truncated weights")
	}
}

func TestLoadCheckpointMissing(t *testing.T) {
	if _, err := LoadCheckpoint(filepath.Join(t.TempDir(), "nope.pth")); err == nil {
		t.Error("expect error for missing file")
	}
}

// identity data: each sample's input one hot encodes its label
type onehotData struct{ n, classes int }

func (d onehotData) Len() int          { return d.n }
func (d onehotData) Classes() []string { return make([]string, d.classes) }
func (d onehotData) Shape() []int      { return []int{d.classes} }

func (d onehotData) Label(index []int, label []int32) {
	for i, ix := range index {
		label[i] = int32(ix % d.classes)
	}
}

func (d onehotData) Input(index []int, buf []float32) {
	for i, ix := range index {
		buf[i*d.classes+ix%d.classes] = 1
	}
}

func TestAccuracy(t *testing.T) {
	dev := testDevice(t)
	net := New(dev, []LayerConfig{Linear{Nout: 4}.Marshal()}, 4, []int{4})
	// identity weights make the classifier perfect on one hot inputs
	w := net.Params()[0]
	for i := 0; i < 4; i++ {
		w.Data[i*4+i] = 1
	}
	data := onehotData{n: 6, classes: 4}
	dset := datasets.NewDataset(data, datasets.Sequential{N: 6}, 4, false)
	top1, top5 := net.Accuracy(dset)
	if top1 != 100 || top5 != 100 {
		t.Errorf("accuracy %v %v expect 100", top1, top5)
	}
}
