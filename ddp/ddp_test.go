package ddp

import (
	"math"
	"sync"
	"testing"

	"github.com/mdale/vistrain/num"
)

func TestAllReduce(t *testing.T) {
	const world = 4
	g := NewGroup(world)
	grads := make([][]*num.Array, world)
	for r := 0; r < world; r++ {
		grads[r] = []*num.Array{
			num.NewArrayData([]float32{float32(r), float32(2 * r)}, 2),
			num.NewArrayData([]float32{float32(10 * r)}, 1),
		}
	}
	var wg sync.WaitGroup
	for r := 0; r < world; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			g.AllReduce(rank, grads[rank])
		}(r)
	}
	wg.Wait()
	// mean of 0..3 is 1.5, of 0,2,4,6 is 3, of 0,10,20,30 is 15
	for r := 0; r < world; r++ {
		if grads[r][0].Data[0] != 1.5 || grads[r][0].Data[1] != 3 || grads[r][1].Data[0] != 15 {
			t.Errorf("rank %d: %v %v", r, grads[r][0].Data, grads[r][1].Data)
		}
	}
}

func TestAllReduceScalar(t *testing.T) {
	const world = 3
	g := NewGroup(world)
	out := make([]float64, world)
	var wg sync.WaitGroup
	for r := 0; r < world; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			out[rank] = g.AllReduceScalar(rank, float64(rank+1))
		}(r)
	}
	wg.Wait()
	for r, v := range out {
		if math.Abs(v-2) > 1e-12 {
			t.Errorf("rank %d: %v expect 2", r, v)
		}
	}
}

func TestRepeatedSteps(t *testing.T) {
	// fast ranks looping back must not corrupt the next reduction
	const world, steps = 4, 50
	g := NewGroup(world)
	var wg sync.WaitGroup
	errs := make(chan string, world*steps)
	for r := 0; r < world; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			for s := 0; s < steps; s++ {
				grad := num.NewArrayData([]float32{float32(rank + s)}, 1)
				g.AllReduce(rank, []*num.Array{grad})
				want := float32(s) + 1.5
				if grad.Data[0] != want {
					errs <- "step mismatch"
				}
				g.Barrier()
			}
		}(r)
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Fatal(e)
	}
}

func TestSingleRank(t *testing.T) {
	g := NewGroup(1)
	grad := num.NewArrayData([]float32{2}, 1)
	g.AllReduce(0, []*num.Array{grad})
	if grad.Data[0] != 2 {
		t.Errorf("world 1 should be a no-op: %v", grad.Data[0])
	}
	if v := g.AllReduceScalar(0, 5); v != 5 {
		t.Errorf("scalar %v", v)
	}
	g.Barrier()
	if g.World() != 1 {
		t.Errorf("world %d", g.World())
	}
}
