package trainer

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/mdale/vistrain/config"
	"github.com/mdale/vistrain/nnet"
	"github.com/mdale/vistrain/stats"
)

// writes an IDX format dataset of random-ish 8x8 images under dir with both
// train and t10k splits
func writeMNIST(t *testing.T, dir string, ntrain, nval int) {
	t.Helper()
	write := func(split string, nimg int) {
		f, err := os.Create(filepath.Join(dir, split+"-images-idx3-ubyte"))
		if err != nil {
			t.Fatal(err)
		}
		binary.Write(f, binary.BigEndian, []uint32{0x803, uint32(nimg), 8, 8})
		pix := make([]uint8, nimg*64)
		for i := range pix {
			pix[i] = uint8((i*37 + i/64*11) % 256)
		}
		f.Write(pix)
		f.Close()

		f, err = os.Create(filepath.Join(dir, split+"-labels-idx1-ubyte"))
		if err != nil {
			t.Fatal(err)
		}
		binary.Write(f, binary.BigEndian, []uint32{0x801, uint32(nimg)})
		labels := make([]uint8, nimg)
		for i := range labels {
			labels[i] = uint8(i % 10)
		}
		f.Write(labels)
		f.Close()
	}
	write("train", ntrain)
	write("t10k", nval)
}

func testConfig(t *testing.T, root, saveDir string) *config.Config {
	t.Helper()
	return &config.Config{
		Device:  "cpu",
		SaveDir: saveDir,
		Model:   config.Model{Name: "cnn", Variant: "small"},
		Dataset: config.Dataset{Root: root, Name: "idx"},
		Train: config.Train{
			Epochs: 2, BatchSize: 16, ImageSize: []int{8, 8},
			Workers: 2, EvalInterval: 1, Seed: 1,
		},
		Eval:  config.Eval{BatchSize: 16, ImageSize: []int{8, 8}},
		Optim: config.Optimizer{Name: "sgd", LR: 0.01, Momentum: 0.9},
		Sched: config.Scheduler{Name: "none"},
	}
}

type epochRecorder struct{ stats []Stats }

func (r *epochRecorder) Epoch(s Stats) { r.stats = append(r.stats, s) }

func TestTrainRun(t *testing.T) {
	root := t.TempDir()
	writeMNIST(t, root, 64, 20)
	cfg := testConfig(t, root, t.TempDir())

	tr, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	rec := new(epochRecorder)
	tr.AddListener(rec)

	res, err := tr.Run()
	if err != nil {
		t.Fatal(err)
	}
	if res.Model != "cnn-small" {
		t.Errorf("model %s", res.Model)
	}
	if res.BestTop1 < 0 || res.BestTop1 > 100 || res.BestTop5 < res.BestTop1 {
		t.Errorf("accuracy %v %v", res.BestTop1, res.BestTop5)
	}
	if len(rec.stats) != 2 {
		t.Fatalf("%d epochs published", len(rec.stats))
	}
	last := rec.stats[1]
	if !last.Evaluated || last.Epoch != 2 || last.TrainLoss <= 0 {
		t.Errorf("final stats %+v", last)
	}
	if last != tr.Last() {
		t.Error("Last should return the final stats")
	}
	if loss := tr.Metrics().Series("train/loss"); len(loss) != 2 {
		t.Errorf("%d loss events", len(loss))
	}
	if res.EpochTime.Count != 2 || res.EpochTime.Mean <= 0 {
		t.Errorf("epoch timing %+v", res.EpochTime)
	}
	ema := 0.0
	for _, s := range rec.stats {
		ema = stats.EMA(ema).Add(s.Top1, evalEMAWindow)
		if s.Top1EMA != ema {
			t.Errorf("epoch %d smoothed top1 %v, want %v", s.Epoch, s.Top1EMA, ema)
		}
	}
	if events := tr.Metrics().Series("val/top1_ema"); len(events) != 2 {
		t.Errorf("%d smoothed accuracy events", len(events))
	}

	ckpt := nnet.CheckpointFile(cfg.SaveDir, "cnn", "small")
	if _, err = os.Stat(ckpt); err != nil {
		t.Fatalf("best checkpoint not written: %v", err)
	}

	top1, top5, err := Evaluate(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if top1 != res.BestTop1 || top5 != res.BestTop5 {
		t.Errorf("eval %v %v, training best %v %v", top1, top5, res.BestTop1, res.BestTop5)
	}
}

func TestTrainSmallValSplit(t *testing.T) {
	root := t.TempDir()
	writeMNIST(t, root, 64, 10)
	cfg := testConfig(t, root, t.TempDir())

	tr, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if bs := tr.valData.BatchSize; bs != 10 {
		t.Fatalf("val batch size %d, want clamped to the split size", bs)
	}
	if bs := tr.evalNet.BatchSize(); bs != 10 {
		t.Fatalf("eval net batch size %d", bs)
	}
	res, err := tr.Run()
	if err != nil {
		t.Fatal(err)
	}
	if res.BestTop1 > 0 {
		top1, _, err := Evaluate(cfg)
		if err != nil {
			t.Fatal(err)
		}
		if top1 != res.BestTop1 {
			t.Errorf("eval %v, training best %v", top1, res.BestTop1)
		}
	}
}

func TestTrainDDPWithAMP(t *testing.T) {
	root := t.TempDir()
	writeMNIST(t, root, 64, 16)
	cfg := testConfig(t, root, t.TempDir())
	cfg.Train.Epochs = 1
	cfg.Train.BatchSize = 8
	cfg.Train.DDP = true
	cfg.Train.World = 2
	cfg.Train.AMP = true

	tr, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if tr.group.World() != 2 {
		t.Fatalf("world %d", tr.group.World())
	}
	res, err := tr.Run()
	if err != nil {
		t.Fatal(err)
	}
	if res.BestTop1 < 0 || res.BestTop1 > 100 {
		t.Errorf("accuracy %v", res.BestTop1)
	}
}

func TestTrainDistillation(t *testing.T) {
	root := t.TempDir()
	writeMNIST(t, root, 32, 16)

	// train the teacher first, then distill into a fresh student
	teacherDir := t.TempDir()
	cfg := testConfig(t, root, teacherDir)
	cfg.Train.Epochs = 1
	tr, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = tr.Run(); err != nil {
		t.Fatal(err)
	}

	cfg = testConfig(t, root, t.TempDir())
	cfg.Train.Epochs = 1
	cfg.KD = config.KD{
		Enable: true, Alpha: 0.5, Temp: 2,
		Teacher: config.Teacher{
			Name: "cnn", Variant: "small",
			Pretrained: nnet.CheckpointFile(teacherDir, "cnn", "small"),
		},
	}
	tr, err = New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	res, err := tr.Run()
	if err != nil {
		t.Fatal(err)
	}
	if res.Teacher != "cnn-small" {
		t.Errorf("teacher %s", res.Teacher)
	}
	if res.TeacherTop1 < 0 || res.TeacherTop1 > 100 {
		t.Errorf("teacher accuracy %v", res.TeacherTop1)
	}
	PrintSummary(res)
}

func TestMissingTeacher(t *testing.T) {
	root := t.TempDir()
	writeMNIST(t, root, 32, 16)
	cfg := testConfig(t, root, t.TempDir())
	cfg.KD = config.KD{Enable: true, Alpha: 0.5, Temp: 2,
		Teacher: config.Teacher{Pretrained: filepath.Join(t.TempDir(), "none.pth")}}
	if _, err := New(cfg); err == nil {
		t.Error("expect error for missing teacher checkpoint")
	}
}
