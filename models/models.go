// Package models is the registry of classifier architectures, keyed by model
// name and variant from the experiment config.
package models

import (
	"fmt"
	"sort"

	"github.com/mdale/vistrain/nnet"
)

type builder func(classes int) []nnet.ConfigLayer

var registry = map[string]map[string]builder{
	"cnn": {
		"small": cnn([]int{32, 64}),
		"base":  cnn([]int{64, 128, 256}),
	},
	"resnet": {
		"10": resnet(1, 1),
		"18": resnet(2, 1),
		"34": resnet(3, 2),
	},
}

// Get returns the layer config for a registered model. classes is the number
// of output classes of the dataset.
func Get(name, variant string, classes int) ([]nnet.ConfigLayer, error) {
	variants, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("model %q is not registered, have %v", name, Names())
	}
	build, ok := variants[variant]
	if !ok {
		return nil, fmt.Errorf("model %s has no variant %q", name, variant)
	}
	return build(classes), nil
}

// Names lists the registered model names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// plain convnet: conv/relu/pool stages then a dropout regularised classifier
func cnn(features []int) builder {
	return func(classes int) []nnet.ConfigLayer {
		var layers []nnet.ConfigLayer
		for _, nfeat := range features {
			layers = append(layers,
				nnet.Conv{Nfeats: nfeat, Size: 3, Stride: 1, Pad: 1},
				nnet.Activation{Atype: "relu"},
				nnet.MaxPool{Size: 2},
			)
		}
		return append(layers,
			nnet.Flatten{},
			nnet.Dropout{Ratio: 0.5},
			nnet.Linear{Nout: classes},
		)
	}
}

// downsampling convnet in the residual network layout: a stem conv then
// stages of stacked 3x3 conv blocks doubling the width at each stride-2
// stage, global average pooling ahead of the classifier. The pure Go
// backend has no batch normalisation so blocks are conv/relu pairs.
func resnet(stack, width int) builder {
	return func(classes int) []nnet.ConfigLayer {
		k := 16 * width
		layers := []nnet.ConfigLayer{
			nnet.Conv{Nfeats: k, Size: 3, Stride: 1, Pad: 1},
			nnet.Activation{Atype: "relu"},
		}
		for stage := 0; stage < 3; stage++ {
			stride := 2
			if stage == 0 {
				stride = 1
			}
			layers = append(layers,
				nnet.Conv{Nfeats: k, Size: 3, Stride: stride, Pad: 1},
				nnet.Activation{Atype: "relu"},
			)
			for i := 1; i < stack; i++ {
				layers = append(layers,
					nnet.Conv{Nfeats: k, Size: 3, Stride: 1, Pad: 1},
					nnet.Activation{Atype: "relu"},
				)
			}
			k *= 2
		}
		return append(layers,
			nnet.AvgPool{Size: 4},
			nnet.Flatten{},
			nnet.Linear{Nout: classes},
		)
	}
}

// Build constructs the layer config list in marshalled form.
func Build(name, variant string, classes int) ([]nnet.LayerConfig, error) {
	layers, err := Get(name, variant, classes)
	if err != nil {
		return nil, err
	}
	config := make([]nnet.LayerConfig, len(layers))
	for i, l := range layers {
		config[i] = l.Marshal()
	}
	return config, nil
}
