package nnet

import (
	"encoding/gob"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/mdale/vistrain/num"
)

// Checkpoint is the serialized form of a trained model: enough to rebuild
// the network at any batch size and restore its weights.
type Checkpoint struct {
	Name    string
	Variant string
	Config  []LayerConfig
	InShape []int
	Classes []string
	Weights [][]float32
}

// CheckpointFile returns the conventional checkpoint path for a model.
func CheckpointFile(saveDir, name, variant string) string {
	return filepath.Join(saveDir, fmt.Sprintf("%s_%s.pth", name, variant))
}

// SaveCheckpoint writes the model weights gob encoded via a temp file so a
// crash mid-write cannot corrupt the previous best checkpoint.
func SaveCheckpoint(n *Network, classes []string, path string) error {
	ckpt := Checkpoint{
		Name:    n.Name,
		Variant: n.Variant,
		Config:  n.Config(),
		InShape: n.InShape(),
		Classes: classes,
	}
	for _, p := range n.Params() {
		ckpt.Weights = append(ckpt.Weights, p.Data)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	if err = gob.NewEncoder(f).Encode(&ckpt); err != nil {
		f.Close()
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	defer f.Close()
	ckpt := new(Checkpoint)
	if err = gob.NewDecoder(f).Decode(ckpt); err != nil {
		return nil, fmt.Errorf("loading checkpoint %s: %w", path, err)
	}
	return ckpt, nil
}

// Restore builds a network from the checkpoint at the given batch size and
// sets its weights.
func (c *Checkpoint) Restore(dev num.Device, batchSize int) (*Network, error) {
	n := New(dev, c.Config, batchSize, c.InShape)
	n.Name, n.Variant = c.Name, c.Variant
	params := n.Params()
	if len(params) != len(c.Weights) {
		return nil, fmt.Errorf("checkpoint has %d parameter arrays, network needs %d",
			len(c.Weights), len(params))
	}
	for i, p := range params {
		if len(p.Data) != len(c.Weights[i]) {
			return nil, fmt.Errorf("checkpoint parameter %d has size %d, expect %d",
				i, len(c.Weights[i]), len(p.Data))
		}
		copy(p.Data, c.Weights[i])
	}
	return n, nil
}

// SetSeed seeds the shared RNG used for weight init and data shuffling and
// returns a source for deterministic runs. Seed <= 0 picks a random seed.
func SetSeed(seed int64) *rand.Rand {
	if seed <= 0 {
		seed = rand.Int63()
	}
	return rand.New(rand.NewSource(seed))
}
