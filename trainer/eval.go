package trainer

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mdale/vistrain/config"
	"github.com/mdale/vistrain/datasets"
	"github.com/mdale/vistrain/img"
	"github.com/mdale/vistrain/nnet"
	"github.com/mdale/vistrain/num"
)

// Evaluate restores the saved checkpoint for the configured model and scores
// it on the validation set, returning top-1 and top-5 accuracy in percent.
func Evaluate(cfg *config.Config) (top1, top5 float64, err error) {
	dev, err := num.NewDevice(cfg.Device)
	if err != nil {
		return 0, 0, err
	}
	dev.Threads = cfg.Train.Workers

	path := nnet.CheckpointFile(cfg.SaveDir, cfg.Model.Name, cfg.Model.Variant)
	ckpt, err := nnet.LoadCheckpoint(path)
	if err != nil {
		return 0, 0, err
	}
	logrus.WithField("file", path).Info("loaded checkpoint")

	mean, std := datasets.Stats(cfg.Dataset.Name)
	valTrans := img.ValTransforms(cfg.Eval.ImageSize[0], cfg.Eval.ImageSize[1], mean, std)
	data, err := datasets.Open(cfg.Dataset.Name, cfg.Dataset.Root, "val", valTrans, dev, 1)
	if err != nil {
		return 0, 0, err
	}
	if len(data.Classes()) != len(ckpt.Classes) {
		return 0, 0, fmt.Errorf("dataset has %d classes, checkpoint was trained on %d",
			len(data.Classes()), len(ckpt.Classes))
	}
	dset := datasets.NewDataset(data, datasets.Sequential{N: data.Len()}, cfg.Eval.BatchSize, false)
	// the dataset clamps the batch size when the val split is smaller
	net, err := ckpt.Restore(dev, dset.BatchSize)
	if err != nil {
		return 0, 0, err
	}
	top1, top5 = net.Accuracy(dset)
	return top1, top5, nil
}
