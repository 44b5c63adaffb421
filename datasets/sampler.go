package datasets

import "math/rand"

// Sampler yields the sample order for each epoch over a data source.
type Sampler interface {
	// Len is the number of samples this sampler covers.
	Len() int
	// Indexes returns the ordered sample indexes for the given epoch.
	Indexes(epoch int) []int
}

// Sequential visits every sample in order, used for evaluation.
type Sequential struct {
	N int
}

func (s Sequential) Len() int { return s.N }

func (s Sequential) Indexes(epoch int) []int {
	ix := make([]int, s.N)
	for i := range ix {
		ix[i] = i
	}
	return ix
}

// Shuffle visits every sample in a random order reshuffled each epoch.
type Shuffle struct {
	N    int
	Seed int64
}

func (s Shuffle) Len() int { return s.N }

func (s Shuffle) Indexes(epoch int) []int {
	rng := rand.New(rand.NewSource(s.Seed + int64(epoch)))
	return rng.Perm(s.N)
}

// Distributed partitions the data across world replicas so each rank sees a
// disjoint shard. The whole set is reshuffled with an epoch keyed seed so
// every replica derives the same permutation, then rank r takes every world'th
// element. Trailing samples fall outside the shards, as with drop_last.
type Distributed struct {
	N       int
	Rank    int
	World   int
	Seed    int64
	NoShuff bool
}

func (s Distributed) Len() int { return s.N / s.World }

func (s Distributed) Indexes(epoch int) []int {
	order := make([]int, s.N)
	for i := range order {
		order[i] = i
	}
	if !s.NoShuff {
		rng := rand.New(rand.NewSource(s.Seed + int64(epoch)))
		rng.Shuffle(s.N, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	shard := make([]int, s.Len())
	for i := range shard {
		shard[i] = order[i*s.World+s.Rank]
	}
	return shard
}

// NewSampler picks the sampler for a training run: a distributed shard when
// running data parallel, else a full shuffle.
func NewSampler(n int, ddp bool, rank, world int, seed int64) Sampler {
	if ddp {
		return Distributed{N: n, Rank: rank, World: world, Seed: seed}
	}
	return Shuffle{N: n, Seed: seed}
}
