package datasets

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mdale/vistrain/img"
	"github.com/mdale/vistrain/num"
)

// Per channel statistics of the ImageNet training set, the conventional
// defaults for pretrained vision models.
var (
	ImageNetMean = []float32{0.485, 0.456, 0.406}
	ImageNetStd  = []float32{0.229, 0.224, 0.225}
)

// ImageFolder reads a directory tree in the layout root/<split>/<class>/<file>
// where every class is a subdirectory of jpeg or png files. Images are decoded
// and transformed on demand, in parallel across the batch.
type ImageFolder struct {
	classes []string
	files   []string
	labels  []int32
	trans   img.Transform
	shape   []int
	dev     num.Device
	mu      sync.Mutex
	rng     *rand.Rand
}

// NewImageFolder scans the split directory and builds the index of samples.
// Class names are the sorted subdirectory names so that train and val splits
// agree on the label mapping.
func NewImageFolder(root, split string, trans img.Transform, dev num.Device, seed int64) (*ImageFolder, error) {
	dir := filepath.Join(root, split)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("imagefolder: %w", err)
	}
	d := &ImageFolder{trans: trans, dev: dev, rng: rand.New(rand.NewSource(seed))}
	for _, e := range entries {
		if e.IsDir() {
			d.classes = append(d.classes, e.Name())
		}
	}
	sort.Strings(d.classes)
	if len(d.classes) == 0 {
		return nil, fmt.Errorf("imagefolder: no class directories under %s", dir)
	}
	for label, class := range d.classes {
		files, err := os.ReadDir(filepath.Join(dir, class))
		if err != nil {
			return nil, fmt.Errorf("imagefolder: %w", err)
		}
		for _, f := range files {
			if f.IsDir() || !isImageFile(f.Name()) {
				continue
			}
			d.files = append(d.files, filepath.Join(dir, class, f.Name()))
			d.labels = append(d.labels, int32(label))
		}
	}
	if len(d.files) == 0 {
		return nil, fmt.Errorf("imagefolder: no images under %s", dir)
	}
	d.shape = d.trans.OutShape(3)
	logrus.WithFields(logrus.Fields{
		"split": split, "samples": len(d.files), "classes": len(d.classes),
	}).Info("loaded image folder dataset")
	return d, nil
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

func (d *ImageFolder) Len() int { return len(d.files) }

func (d *ImageFolder) Classes() []string { return d.classes }

func (d *ImageFolder) Shape() []int { return d.shape }

func (d *ImageFolder) Label(index []int, label []int32) {
	for i, ix := range index {
		label[i] = d.labels[ix]
	}
}

// Input decodes and transforms a batch of images into buf.
func (d *ImageFolder) Input(index []int, buf []float32) {
	nfeat := num.Prod(d.shape)
	seeds := make([]int64, len(index))
	d.mu.Lock()
	for i := range seeds {
		seeds[i] = d.rng.Int63()
	}
	d.mu.Unlock()
	d.dev.ForEach(len(index), func(i int) {
		m, err := d.load(index[i])
		if err != nil {
			panic(err)
		}
		m = d.trans.Apply(m, rand.New(rand.NewSource(seeds[i])))
		copy(buf[i*nfeat:(i+1)*nfeat], m.Pix)
	})
}

func (d *ImageFolder) load(ix int) (*img.Image, error) {
	f, err := os.Open(d.files[ix])
	if err != nil {
		return nil, err
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", d.files[ix], err)
	}
	m := img.FromImage(src)
	if m.Channels != d.shape[0] {
		m = expandChannels(m, d.shape[0])
	}
	return m, nil
}

// grayscale files in an RGB dataset are replicated across channels
func expandChannels(m *img.Image, channels int) *img.Image {
	dst := img.NewImage(channels, m.Height, m.Width)
	for ch := 0; ch < channels; ch++ {
		copy(dst.Plane(ch), m.Plane(ch%m.Channels))
	}
	return dst
}
