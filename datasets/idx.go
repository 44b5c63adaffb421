package datasets

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/mdale/vistrain/img"
	"github.com/mdale/vistrain/num"
)

const (
	idxImageMagic = 0x803
	idxLabelMagic = 0x801
)

// IDX is an in-memory dataset read from the IDX ubyte format used by MNIST
// and its variants: <split>-images-idx3-ubyte and <split>-labels-idx1-ubyte
// under the dataset root.
type IDX struct {
	classes []string
	labels  []int32
	pixels  []uint8
	height  int
	width   int
	trans   img.Transform
	shape   []int
	dev     num.Device
	mu      sync.Mutex
	rng     *rand.Rand
}

type idxImageHeader struct{ Magic, Num, Height, Width uint32 }

type idxLabelHeader struct{ Magic, Num uint32 }

// NewIDX loads the images and labels for one split into memory. The val
// split maps to the conventional t10k file prefix.
func NewIDX(root, split string, trans img.Transform, dev num.Device, seed int64) (*IDX, error) {
	if split == "val" || split == "test" {
		split = "t10k"
	}
	d := &IDX{trans: trans, dev: dev, rng: rand.New(rand.NewSource(seed))}
	if err := d.readImages(filepath.Join(root, split+"-images-idx3-ubyte")); err != nil {
		return nil, err
	}
	if err := d.readLabels(filepath.Join(root, split+"-labels-idx1-ubyte")); err != nil {
		return nil, err
	}
	if n := len(d.pixels) / (d.height * d.width); n != len(d.labels) {
		return nil, fmt.Errorf("idx: %d images but %d labels", n, len(d.labels))
	}
	nclasses := 0
	for _, l := range d.labels {
		if int(l) >= nclasses {
			nclasses = int(l) + 1
		}
	}
	d.classes = make([]string, nclasses)
	for i := range d.classes {
		d.classes[i] = strconv.Itoa(i)
	}
	d.shape = trans.OutShape(1)
	return d, nil
}

func (d *IDX) readImages(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("idx: %w", err)
	}
	defer f.Close()
	var head idxImageHeader
	if err := binary.Read(f, binary.BigEndian, &head); err != nil {
		return fmt.Errorf("idx: reading %s: %w", name, err)
	}
	if head.Magic != idxImageMagic {
		return fmt.Errorf("idx: %s: bad magic %#x", name, head.Magic)
	}
	d.height, d.width = int(head.Height), int(head.Width)
	d.pixels = make([]uint8, int(head.Num)*d.height*d.width)
	if _, err := io.ReadFull(f, d.pixels); err != nil {
		return fmt.Errorf("idx: reading %s: %w", name, err)
	}
	return nil
}

func (d *IDX) readLabels(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("idx: %w", err)
	}
	defer f.Close()
	var head idxLabelHeader
	if err := binary.Read(f, binary.BigEndian, &head); err != nil {
		return fmt.Errorf("idx: reading %s: %w", name, err)
	}
	if head.Magic != idxLabelMagic {
		return fmt.Errorf("idx: %s: bad magic %#x", name, head.Magic)
	}
	bytes := make([]uint8, head.Num)
	if _, err := io.ReadFull(f, bytes); err != nil {
		return fmt.Errorf("idx: reading %s: %w", name, err)
	}
	d.labels = make([]int32, head.Num)
	for i, b := range bytes {
		d.labels[i] = int32(b)
	}
	return nil
}

func (d *IDX) Len() int { return len(d.labels) }

func (d *IDX) Classes() []string { return d.classes }

func (d *IDX) Shape() []int { return d.shape }

func (d *IDX) Label(index []int, label []int32) {
	for i, ix := range index {
		label[i] = d.labels[ix]
	}
}

func (d *IDX) Input(index []int, buf []float32) {
	nfeat := num.Prod(d.shape)
	npix := d.height * d.width
	seeds := make([]int64, len(index))
	d.mu.Lock()
	for i := range seeds {
		seeds[i] = d.rng.Int63()
	}
	d.mu.Unlock()
	d.dev.ForEach(len(index), func(i int) {
		m := img.NewImage(1, d.height, d.width)
		for j, pix := range d.pixels[index[i]*npix : (index[i]+1)*npix] {
			m.Pix[j] = float32(pix) / 255
		}
		m = d.trans.Apply(m, rand.New(rand.NewSource(seeds[i])))
		copy(buf[i*nfeat:(i+1)*nfeat], m.Pix)
	})
}
