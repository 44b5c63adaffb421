package datasets

import (
	"fmt"

	"github.com/mdale/vistrain/img"
	"github.com/mdale/vistrain/num"
)

// Per channel statistics of the MNIST training set.
var (
	MNISTMean = []float32{0.1307}
	MNISTStd  = []float32{0.3081}
)

// Channels returns the image depth for a dataset by config name.
func Channels(name string) (int, error) {
	switch name {
	case "imagefolder":
		return 3, nil
	case "idx":
		return 1, nil
	}
	return 0, fmt.Errorf("dataset %q is not supported", name)
}

// Stats returns the normalisation mean and stddev for a dataset by name.
func Stats(name string) (mean, std []float32) {
	if name == "idx" {
		return MNISTMean, MNISTStd
	}
	return ImageNetMean, ImageNetStd
}

// Open loads one split of a dataset by config name: "imagefolder" for a
// class-per-directory image tree or "idx" for MNIST style ubyte files.
func Open(name, root, split string, trans img.Transform, dev num.Device, seed int64) (Data, error) {
	switch name {
	case "imagefolder":
		return NewImageFolder(root, split, trans, dev, seed)
	case "idx":
		return NewIDX(root, split, trans, dev, seed)
	}
	return nil, fmt.Errorf("dataset %q is not supported", name)
}
