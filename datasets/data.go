// Package datasets loads image classification data and feeds it to the
// trainer in batches with asynchronous prefetch.
package datasets

import (
	"fmt"
	"sync"

	"github.com/mdale/vistrain/num"
)

// Data is the raw data for a training or validation set.
type Data interface {
	Len() int
	Classes() []string
	Shape() []int
	Label(index []int, label []int32)
	Input(index []int, buf []float32)
}

// Dataset wraps a Data source with a sampler and batching. The next batch is
// loaded in a background goroutine while the current one is being processed.
type Dataset struct {
	Data
	Samples   int
	BatchSize int
	Batches   int
	sampler   Sampler
	drop      bool
	indexes   []int
	xBuffer   [2]*num.Array
	yBuffer   [2][]int32
	sizes     [2]int
	buf       int
	batch     int
	epoch     int
	sync.WaitGroup
}

// NewDataset creates a dataset with the given batch size. When drop is set a
// trailing partial batch is discarded, as the trainer does for training data.
func NewDataset(data Data, sampler Sampler, batchSize int, drop bool) *Dataset {
	d := &Dataset{Data: data, sampler: sampler, drop: drop, Samples: sampler.Len()}
	if batchSize <= 0 || batchSize > d.Samples {
		batchSize = d.Samples
	}
	d.BatchSize = batchSize
	d.Batches = d.Samples / batchSize
	if !drop && d.Samples%batchSize != 0 {
		d.Batches++
	}
	for i := range d.xBuffer {
		d.xBuffer[i] = num.NewArray(append([]int{batchSize}, data.Shape()...)...)
		d.yBuffer[i] = make([]int32, batchSize)
	}
	return d
}

// NextEpoch resets to the start of the data with a fresh sample order and
// kicks off the load of the first batch. Must be called before NextBatch.
func (d *Dataset) NextEpoch() {
	d.Wait()
	d.epoch++
	d.batch = 0
	d.indexes = d.sampler.Indexes(d.epoch)
	if len(d.indexes) != d.Samples {
		panic(fmt.Sprintf("dataset: sampler returned %d indexes, expect %d", len(d.indexes), d.Samples))
	}
	d.loadBatch()
}

// NextBatch returns input and label arrays for the next batch. n is the
// number of valid samples, less than the batch size only for a final partial
// batch. The returned arrays are only valid until the following call.
func (d *Dataset) NextBatch() (x *num.Array, y []int32, n int) {
	d.Wait()
	x, y, n = d.xBuffer[d.buf], d.yBuffer[d.buf], d.sizes[d.buf]
	d.batch = (d.batch + 1) % d.Batches
	d.buf = (d.buf + 1) % 2
	d.loadBatch()
	return x, y[:n], n
}

// kick off load of next batch of data in background
func (d *Dataset) loadBatch() {
	d.Add(1)
	buf := d.buf
	batch := d.batch
	go func() {
		defer d.Done()
		start := batch * d.BatchSize
		end := start + d.BatchSize
		if end > d.Samples {
			end = d.Samples
		}
		index := d.indexes[start:end]
		d.sizes[buf] = len(index)
		if len(index) < d.BatchSize {
			num.Fill(d.xBuffer[buf], 0)
		}
		d.Input(index, d.xBuffer[buf].Data)
		d.Label(index, d.yBuffer[buf])
	}()
}
