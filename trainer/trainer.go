// Package trainer runs the training loop: it wires the dataset, sampler,
// student and optional distillation teacher together, trains across epochs
// with data parallel replicas and mixed precision loss scaling, evaluates on
// the validation set at a configured interval, checkpoints the best model
// and logs metrics.
package trainer

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/mdale/vistrain/config"
	"github.com/mdale/vistrain/datasets"
	"github.com/mdale/vistrain/ddp"
	"github.com/mdale/vistrain/img"
	"github.com/mdale/vistrain/metrics"
	"github.com/mdale/vistrain/models"
	"github.com/mdale/vistrain/nnet"
	"github.com/mdale/vistrain/num"
	"github.com/mdale/vistrain/stats"
)

// smoothing window in evals for the reported moving average accuracy
const evalEMAWindow = 5

// Stats is the state published after each training epoch.
type Stats struct {
	Epoch     int           `json:"epoch"`
	Epochs    int           `json:"epochs"`
	TrainLoss float64       `json:"trainLoss"`
	LR        float64       `json:"lr"`
	Top1      float64       `json:"top1"`
	Top5      float64       `json:"top5"`
	Top1EMA   float64       `json:"top1EMA"`
	BestTop1  float64       `json:"bestTop1"`
	BestTop5  float64       `json:"bestTop5"`
	Evaluated bool          `json:"evaluated"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Listener receives per epoch stats, e.g. for the web monitor.
type Listener interface {
	Epoch(s Stats)
}

// Result summarises a completed run.
type Result struct {
	Model       string
	BestTop1    float64
	BestTop5    float64
	Teacher     string
	TeacherTop1 float64
	TeacherTop5 float64
	EpochTime   stats.Average
	Elapsed     time.Duration
}

// replica is the per rank training state.
type replica struct {
	rank    int
	net     *nnet.Network
	teacher *nnet.Network
	dset    *datasets.Dataset
	opt     nnet.Optimizer
	sched   nnet.Scheduler
	scaler  *nnet.GradScaler
	ce      *nnet.CrossEntropy
	kd      *nnet.Distillation
}

// Trainer holds everything needed for one experiment run.
type Trainer struct {
	Conf      *config.Config
	dev       num.Device
	rng       *rand.Rand
	group     *ddp.Group
	replicas  []*replica
	valData   *datasets.Dataset
	evalNet   *nnet.Network
	teachEval *nnet.Network
	writer    *metrics.Writer
	classes   []string
	listeners []Listener
	mu        sync.Mutex
	last      Stats
}

// New builds the full training state from the experiment config.
func New(cfg *config.Config) (*Trainer, error) {
	dev, err := num.NewDevice(cfg.Device)
	if err != nil {
		return nil, err
	}
	dev.Threads = cfg.Train.Workers
	logrus.Info("device ", dev)

	t := &Trainer{Conf: cfg, dev: dev, rng: nnet.SetSeed(cfg.Train.Seed)}
	if err := os.MkdirAll(cfg.SaveDir, 0755); err != nil {
		return nil, fmt.Errorf("creating save dir: %w", err)
	}
	if t.writer, err = metrics.NewWriter(cfg.SaveDir); err != nil {
		return nil, err
	}

	world := 1
	if cfg.Train.DDP {
		world = cfg.Train.World
	}
	t.group = ddp.NewGroup(world)

	if _, err := datasets.Channels(cfg.Dataset.Name); err != nil {
		return nil, err
	}
	mean, std := datasets.Stats(cfg.Dataset.Name)
	trainTrans := img.TrainTransforms(cfg.Train.ImageSize[0], cfg.Train.ImageSize[1], mean, std)
	valTrans := img.ValTransforms(cfg.Eval.ImageSize[0], cfg.Eval.ImageSize[1], mean, std)

	trainData, err := datasets.Open(cfg.Dataset.Name, cfg.Dataset.Root, "train", trainTrans, dev, t.rng.Int63())
	if err != nil {
		return nil, err
	}
	valData, err := datasets.Open(cfg.Dataset.Name, cfg.Dataset.Root, "val", valTrans, dev, t.rng.Int63())
	if err != nil {
		return nil, err
	}
	t.classes = trainData.Classes()
	t.valData = datasets.NewDataset(valData, datasets.Sequential{N: valData.Len()}, cfg.Eval.BatchSize, false)

	modelConf, err := models.Build(cfg.Model.Name, cfg.Model.Variant, len(t.classes))
	if err != nil {
		return nil, err
	}

	// rank 0 initialises the weights, other replicas copy them
	seed := t.rng.Int63()
	for rank := 0; rank < world; rank++ {
		r, err := t.newReplica(rank, world, modelConf, trainData, seed)
		if err != nil {
			return nil, err
		}
		t.replicas = append(t.replicas, r)
	}
	for _, r := range t.replicas[1:] {
		r.net.CopyWeightsFrom(t.replicas[0].net)
	}
	fmt.Println(t.replicas[0].net)

	// evaluation instance at the val image size, with the batch size clamped
	// by the dataset when the val split is smaller than the configured batch
	t.evalNet = nnet.New(dev, modelConf, t.valData.BatchSize, valData.Shape())
	t.evalNet.Name, t.evalNet.Variant = cfg.Model.Name, cfg.Model.Variant

	if cfg.KD.Enable {
		if t.teachEval, err = t.loadTeacher(t.valData.BatchSize); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Trainer) newReplica(rank, world int, modelConf []nnet.LayerConfig,
	trainData datasets.Data, seed int64) (*replica, error) {

	cfg := t.Conf
	sampler := datasets.NewSampler(trainData.Len(), world > 1, rank, world, seed)
	r := &replica{
		rank: rank,
		dset: datasets.NewDataset(trainData, sampler, cfg.Train.BatchSize, true),
	}
	r.net = nnet.New(t.dev, modelConf, r.dset.BatchSize, trainData.Shape())
	r.net.Name, r.net.Variant = cfg.Model.Name, cfg.Model.Variant
	r.net.Half = cfg.Train.AMP
	if rank == 0 {
		r.net.InitWeights(t.rng)
	}

	var err error
	if r.opt, err = nnet.NewOptimizer(cfg.Optim.Name, cfg.Optim.LR, cfg.Optim.Decay, cfg.Optim.Momentum); err != nil {
		return nil, err
	}
	if r.sched, err = nnet.NewScheduler(cfg.Sched.Name, r.opt, cfg.Train.Epochs,
		cfg.Sched.Step, cfg.Sched.Gamma, cfg.Sched.Warmup, cfg.Sched.MinLR); err != nil {
		return nil, err
	}
	r.scaler = nnet.NewGradScaler(cfg.Train.AMP)
	classes := r.net.OutClasses()
	if cfg.KD.Enable {
		r.kd = nnet.NewDistillation(cfg.KD.Alpha, cfg.KD.Temp, r.dset.BatchSize, classes)
		if r.teacher, err = t.loadTeacher(r.dset.BatchSize); err != nil {
			return nil, err
		}
	} else {
		r.ce = nnet.NewCrossEntropy(0.1, r.dset.BatchSize, classes)
	}
	return r, nil
}

// loadTeacher restores the pretrained distillation teacher at a batch size.
func (t *Trainer) loadTeacher(batchSize int) (*nnet.Network, error) {
	cfg := t.Conf.KD.Teacher
	ckpt, err := nnet.LoadCheckpoint(cfg.Pretrained)
	if err != nil {
		return nil, fmt.Errorf("distillation teacher: %w", err)
	}
	if cfg.Name != "" && (ckpt.Name != cfg.Name || ckpt.Variant != cfg.Variant) {
		logrus.Warnf("teacher checkpoint is %s-%s, config says %s-%s",
			ckpt.Name, ckpt.Variant, cfg.Name, cfg.Variant)
	}
	return ckpt.Restore(t.dev, batchSize)
}

// AddListener registers a per epoch stats listener.
func (t *Trainer) AddListener(l Listener) {
	t.mu.Lock()
	t.listeners = append(t.listeners, l)
	t.mu.Unlock()
}

// Last returns the most recently published stats.
func (t *Trainer) Last() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Metrics exposes the scalar writer for the monitor page.
func (t *Trainer) Metrics() *metrics.Writer { return t.writer }

func (t *Trainer) publish(s Stats) {
	t.mu.Lock()
	t.last = s
	listeners := append([]Listener{}, t.listeners...)
	t.mu.Unlock()
	for _, l := range listeners {
		l.Epoch(s)
	}
}

// Run trains the model and returns the best results.
func (t *Trainer) Run() (Result, error) {
	cfg := t.Conf
	start := time.Now()
	defer t.writer.Close()
	bestTop1, bestTop5, emaTop1 := 0.0, 0.0, 0.0
	var epochTime stats.Average
	ckptFile := nnet.CheckpointFile(cfg.SaveDir, cfg.Model.Name, cfg.Model.Variant)

	for epoch := 0; epoch < cfg.Train.Epochs; epoch++ {
		t0 := time.Now()
		loss := t.trainEpoch(epoch)
		epochTime.Add(time.Since(t0).Seconds())
		t.writer.AddScalar("train/loss", epoch+1, loss)
		lr := t.replicas[0].sched.LastLR()
		t.replicas[0].sched.Step(epoch)
		for _, r := range t.replicas[1:] {
			r.sched.Step(epoch)
		}

		s := Stats{
			Epoch: epoch + 1, Epochs: cfg.Train.Epochs,
			TrainLoss: loss, LR: lr,
			BestTop1: bestTop1, BestTop5: bestTop5,
			Elapsed: time.Since(start),
		}
		if (epoch+1)%cfg.Train.EvalInterval == 0 || epoch+1 == cfg.Train.Epochs {
			t.evalNet.CopyWeightsFrom(t.replicas[0].net)
			top1, top5 := t.evalNet.Accuracy(t.valData)
			fmt.Printf("Top-1 Accuracy: %.1f Top-5 Accuracy: %.1f\n", top1, top5)
			t.writer.AddScalar("val/top1_acc", epoch+1, top1)
			t.writer.AddScalar("val/top5_acc", epoch+1, top5)
			emaTop1 = stats.EMA(emaTop1).Add(top1, evalEMAWindow)
			t.writer.AddScalar("val/top1_ema", epoch+1, emaTop1)
			if top1 > bestTop1 {
				bestTop1, bestTop5 = top1, top5
				if err := nnet.SaveCheckpoint(t.evalNet, t.classes, ckptFile); err != nil {
					return Result{}, err
				}
				logrus.WithField("file", ckptFile).Info("saved best checkpoint")
			}
			fmt.Printf("Best Top-1 Accuracy: %.1f Best Top-5 Accuracy: %.1f\n", bestTop1, bestTop5)
			s.Top1, s.Top5 = top1, top5
			s.Top1EMA = emaTop1
			s.BestTop1, s.BestTop5 = bestTop1, bestTop5
			s.Evaluated = true
		}
		t.publish(s)
	}

	res := Result{
		Model:     fmt.Sprintf("%s-%s", cfg.Model.Name, cfg.Model.Variant),
		BestTop1:  bestTop1,
		BestTop5:  bestTop5,
		EpochTime: epochTime,
		Elapsed:   time.Since(start),
	}
	if cfg.KD.Enable {
		res.Teacher = fmt.Sprintf("%s-%s", cfg.KD.Teacher.Name, cfg.KD.Teacher.Variant)
		res.TeacherTop1, res.TeacherTop5 = t.teachEval.Accuracy(t.valData)
	}
	return res, nil
}

// trainEpoch runs one epoch across all replicas and returns the mean loss.
func (t *Trainer) trainEpoch(epoch int) float64 {
	var wg sync.WaitGroup
	losses := make([]float64, len(t.replicas))
	for i, r := range t.replicas {
		wg.Add(1)
		go func(i int, r *replica) {
			defer wg.Done()
			losses[i] = t.trainReplica(r, epoch)
		}(i, r)
	}
	wg.Wait()
	total := 0.0
	for _, l := range losses {
		total += l
	}
	return total / float64(len(losses))
}

// trainReplica runs one epoch for a single rank. Gradients are averaged
// across the group after each backward pass so the replicas stay in step.
func (t *Trainer) trainReplica(r *replica, epoch int) float64 {
	cfg := t.Conf
	r.dset.NextEpoch()
	params, grads := r.net.Params(), r.net.Grads()
	var epochLoss float64
	samples := 0
	for batch := 0; batch < r.dset.Batches; batch++ {
		x, y, n := r.dset.NextBatch()
		r.opt.ZeroGrad(grads)

		var loss float64
		var grad *num.Array
		if cfg.KD.Enable {
			teacherPred := r.teacher.Fprop(x, false)
			pred := r.net.Fprop(x, true)
			loss, grad = r.kd.LossKD(pred, teacherPred, y)
		} else {
			pred := r.net.Fprop(x, true)
			loss, grad = r.ce.Loss(pred, y)
		}
		r.scaler.ScaleGrad(grad)
		r.net.Bprop(grad)
		t.group.AllReduce(r.rank, grads)
		r.scaler.Step(r.opt, params, grads)
		r.scaler.Update()

		epochLoss += loss * float64(n)
		samples += n
		if r.rank == 0 {
			fmt.Printf("\rEpoch: [%d/%d] Iter: [%d/%d] LR: %.8f Loss: %.8f   ",
				epoch+1, cfg.Train.Epochs, batch+1, r.dset.Batches, r.opt.LR(), loss)
		}
	}
	r.dset.Wait()
	if r.rank == 0 {
		fmt.Println()
	}
	return t.group.AllReduceScalar(r.rank, epochLoss/float64(samples))
}

// PrintSummary writes the final results table.
func PrintSummary(res Result) {
	bold := color.New(color.Bold)
	bold.Printf("%-24s %16s %16s\n", "", "Top-1 Accuracy", "Top-5 Accuracy")
	fmt.Printf("%-24s %16.2f %16.2f\n", res.Model, res.BestTop1, res.BestTop5)
	if res.Teacher != "" {
		fmt.Printf("%-24s %16.2f %16.2f\n", res.Teacher, res.TeacherTop1, res.TeacherTop5)
	}
	if res.EpochTime.Count > 0 {
		fmt.Printf("Epoch Time: %s sec\n", res.EpochTime.String())
	}
	elapsed := time.Unix(0, 0).UTC().Add(res.Elapsed)
	fmt.Printf("Total Training Time: %s\n", elapsed.Format("15:04:05"))
}
