// Package ddp implements data parallel training inside a single process.
// Each replica runs forward and backward on its own shard of the batch in a
// goroutine, then all replicas synchronize on an allreduce which averages
// the gradients so every replica applies an identical optimizer step. This
// mirrors the gradient synchronization of distributed data parallel training
// with the multi-host process bootstrapping out of scope.
package ddp

import (
	"sync"

	"github.com/mdale/vistrain/num"
)

// Group coordinates a fixed set of replica workers.
type Group struct {
	world   int
	mu      sync.Mutex
	cond    *sync.Cond
	arrived int
	phase   int
	grads   [][]*num.Array
	scalars []float64
	sum     float64
}

// NewGroup creates a process group of the given world size.
func NewGroup(world int) *Group {
	if world < 1 {
		world = 1
	}
	g := &Group{world: world, grads: make([][]*num.Array, world), scalars: make([]float64, world)}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// World returns the number of replicas.
func (g *Group) World() int { return g.world }

// AllReduce averages the gradient arrays across all replicas in place. Every
// rank must call it once per step with arrays of identical shapes; all calls
// block until the averaged result is in every rank's arrays.
func (g *Group) AllReduce(rank int, grads []*num.Array) {
	if g.world == 1 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grads[rank] = grads
	g.await(func() {
		for i := range g.grads[0] {
			acc := g.grads[0][i]
			for r := 1; r < g.world; r++ {
				num.Axpy(1, g.grads[r][i], acc)
			}
			num.Scale(1/float32(g.world), acc)
			for r := 1; r < g.world; r++ {
				num.Copy(g.grads[r][i], acc)
			}
		}
	})
}

// AllReduceScalar returns the mean of one value per rank, used to average
// the per shard training loss.
func (g *Group) AllReduceScalar(rank int, v float64) float64 {
	if g.world == 1 {
		return v
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scalars[rank] = v
	g.await(func() {
		total := 0.0
		for _, s := range g.scalars {
			total += s
		}
		g.sum = total / float64(g.world)
	})
	return g.sum
}

// Barrier blocks until every rank has reached it.
func (g *Group) Barrier() {
	if g.world == 1 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.await(func() {})
}

// await blocks until all ranks arrive, the last runs reduce, then releases.
// Caller must hold g.mu. The phase counter keeps consecutive reductions from
// interfering when a fast rank loops back before slow ones have woken.
func (g *Group) await(reduce func()) {
	phase := g.phase
	g.arrived++
	if g.arrived == g.world {
		reduce()
		g.arrived = 0
		g.phase++
		g.cond.Broadcast()
		return
	}
	for g.phase == phase {
		g.cond.Wait()
	}
}
