package datasets

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/mdale/vistrain/img"
	"github.com/mdale/vistrain/num"
)

// writeIDX creates image and label files for nimg 4x4 images with
// pixel value 16*i and label i%10 for sample i.
func writeIDX(t *testing.T, dir, split string, nimg int) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, split+"-images-idx3-ubyte"))
	if err != nil {
		t.Fatal(err)
	}
	binary.Write(f, binary.BigEndian, idxImageHeader{Magic: idxImageMagic, Num: uint32(nimg), Height: 4, Width: 4})
	pix := make([]uint8, nimg*16)
	for i := 0; i < nimg; i++ {
		for j := 0; j < 16; j++ {
			pix[i*16+j] = uint8(16 * i)
		}
	}
	f.Write(pix)
	f.Close()

	f, err = os.Create(filepath.Join(dir, split+"-labels-idx1-ubyte"))
	if err != nil {
		t.Fatal(err)
	}
	binary.Write(f, binary.BigEndian, idxLabelHeader{Magic: idxLabelMagic, Num: uint32(nimg)})
	labels := make([]uint8, nimg)
	for i := range labels {
		labels[i] = uint8(i % 10)
	}
	f.Write(labels)
	f.Close()
}

func testIDX(t *testing.T, nimg int) *IDX {
	t.Helper()
	dir := t.TempDir()
	writeIDX(t, dir, "train", nimg)
	dev, _ := num.NewDevice("cpu")
	trans := img.Compose{img.Resize{Height: 4, Width: 4}, img.Normalize{Mean: []float32{0}, Std: []float32{1}}}
	d, err := NewIDX(dir, "train", trans, dev, 1)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestIDXLoad(t *testing.T) {
	d := testIDX(t, 12)
	if d.Len() != 12 {
		t.Errorf("len %d", d.Len())
	}
	if nc := len(d.Classes()); nc != 10 {
		t.Errorf("classes %d", nc)
	}
	if s := d.Shape(); len(s) != 3 || s[0] != 1 || s[1] != 4 || s[2] != 4 {
		t.Errorf("shape %v", s)
	}
	labels := make([]int32, 3)
	d.Label([]int{0, 5, 11}, labels)
	if labels[0] != 0 || labels[1] != 5 || labels[2] != 1 {
		t.Errorf("labels %v", labels)
	}
	buf := make([]float32, 2*16)
	d.Input([]int{2, 3}, buf)
	if buf[0] != 32.0/255 || buf[16] != 48.0/255 {
		t.Errorf("pixels %v %v", buf[0], buf[16])
	}
}

func TestIDXBadMagic(t *testing.T) {
	dir := t.TempDir()
	writeIDX(t, dir, "train", 2)
	name := filepath.Join(dir, "train-images-idx3-ubyte")
	data, _ := os.ReadFile(name)
	data[3] = 0xff
	os.WriteFile(name, data, 0644)
	dev, _ := num.NewDevice("cpu")
	if _, err := NewIDX(dir, "train", img.Compose{}, dev, 1); err == nil {
		t.Error("expect error for corrupt magic")
	}
}

func TestIDXTruncated(t *testing.T) {
	dir := t.TempDir()
	writeIDX(t, dir, "train", 4)
	name := filepath.Join(dir, "train-images-idx3-ubyte")
	data, _ := os.ReadFile(name)
	os.WriteFile(name, data[:len(data)-10], 0644)
	dev, _ := num.NewDevice("cpu")
	if _, err := NewIDX(dir, "train", img.Compose{}, dev, 1); err == nil {
		t.Error("expect error for truncated image file")
	}
}

func TestIDXMissing(t *testing.T) {
	dev, _ := num.NewDevice("cpu")
	if _, err := NewIDX(t.TempDir(), "train", img.Compose{}, dev, 1); err == nil {
		t.Error("expect error for missing files")
	}
}

func TestDatasetBatches(t *testing.T) {
	d := testIDX(t, 10)
	dset := NewDataset(d, Sequential{N: 10}, 4, false)
	if dset.Batches != 3 {
		t.Fatalf("batches %d", dset.Batches)
	}
	dset.NextEpoch()
	var total int
	var last []int32
	for b := 0; b < dset.Batches; b++ {
		x, y, n := dset.NextBatch()
		if d := x.Dims(); d[0] != 4 {
			t.Fatalf("batch shape %v", d)
		}
		if len(y) != n {
			t.Fatalf("labels %d != n %d", len(y), n)
		}
		total += n
		last = y
	}
	dset.Wait()
	if total != 10 {
		t.Errorf("saw %d samples", total)
	}
	if len(last) != 2 || last[0] != 8 || last[1] != 9 {
		t.Errorf("final partial batch labels %v", last)
	}
}

func TestDatasetDrop(t *testing.T) {
	d := testIDX(t, 10)
	dset := NewDataset(d, Shuffle{N: 10, Seed: 3}, 4, true)
	if dset.Batches != 2 {
		t.Errorf("batches %d with drop", dset.Batches)
	}
	dset.NextEpoch()
	for b := 0; b < dset.Batches; b++ {
		if _, _, n := dset.NextBatch(); n != 4 {
			t.Errorf("batch %d has %d samples", b, n)
		}
	}
	dset.Wait()
}
