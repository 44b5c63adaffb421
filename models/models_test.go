package models

import (
	"math/rand"
	"testing"

	"github.com/mdale/vistrain/nnet"
	"github.com/mdale/vistrain/num"
)

func TestNames(t *testing.T) {
	names := Names()
	if len(names) != 2 || names[0] != "cnn" || names[1] != "resnet" {
		t.Errorf("names %v", names)
	}
}

func TestGetErrors(t *testing.T) {
	if _, err := Get("vgg", "16", 10); err == nil {
		t.Error("expect error for unknown model")
	}
	if _, err := Get("cnn", "huge", 10); err == nil {
		t.Error("expect error for unknown variant")
	}
}

func TestBuildNetworks(t *testing.T) {
	dev, err := num.NewDevice("cpu")
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct{ name, variant string }{
		{"cnn", "small"}, {"cnn", "base"},
		{"resnet", "10"}, {"resnet", "18"}, {"resnet", "34"},
	}
	for _, tc := range cases {
		config, err := Build(tc.name, tc.variant, 10)
		if err != nil {
			t.Fatal(err)
		}
		net := nnet.New(dev, config, 2, []int{3, 32, 32})
		net.Name, net.Variant = tc.name, tc.variant
		if classes := net.OutClasses(); classes != 10 {
			t.Errorf("%s-%s: %d classes", tc.name, tc.variant, classes)
		}
		t.Log("\n" + net.String())
	}
}

func TestForwardPass(t *testing.T) {
	dev, _ := num.NewDevice("cpu")
	config, err := Build("cnn", "small", 10)
	if err != nil {
		t.Fatal(err)
	}
	net := nnet.New(dev, config, 2, []int{3, 32, 32})
	net.InitWeights(rand.New(rand.NewSource(1)))
	x := num.NewArray(2, 3, 32, 32)
	rng := rand.New(rand.NewSource(2))
	for i := range x.Data {
		x.Data[i] = rng.Float32()
	}
	pred := net.Fprop(x, false)
	if d := pred.Dims(); d[0] != 2 || d[1] != 10 {
		t.Errorf("output %v", d)
	}
	if num.HasOverflow(pred) {
		t.Error("forward pass overflow")
	}
}
