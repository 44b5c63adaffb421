package datasets

import (
	"sort"
	"testing"
)

func TestSequential(t *testing.T) {
	s := Sequential{N: 5}
	ix := s.Indexes(1)
	for i, v := range ix {
		if v != i {
			t.Fatalf("indexes %v", ix)
		}
	}
}

func TestShuffle(t *testing.T) {
	s := Shuffle{N: 100, Seed: 42}
	first := s.Indexes(1)
	if len(first) != 100 {
		t.Fatalf("length %d", len(first))
	}
	sorted := append([]int{}, first...)
	sort.Ints(sorted)
	for i, v := range sorted {
		if v != i {
			t.Fatal("shuffle is not a permutation")
		}
	}
	again := s.Indexes(1)
	for i, v := range first {
		if again[i] != v {
			t.Fatal("same epoch should give the same order")
		}
	}
	next := s.Indexes(2)
	same := true
	for i, v := range first {
		if next[i] != v {
			same = false
			break
		}
	}
	if same {
		t.Error("epochs should reshuffle")
	}
}

func TestDistributed(t *testing.T) {
	const n, world = 103, 4
	seen := map[int]int{}
	for rank := 0; rank < world; rank++ {
		s := Distributed{N: n, Rank: rank, World: world, Seed: 1}
		ix := s.Indexes(3)
		if len(ix) != s.Len() || s.Len() != n/world {
			t.Fatalf("rank %d: %d indexes, len %d", rank, len(ix), s.Len())
		}
		for _, v := range ix {
			seen[v]++
		}
	}
	// shards are disjoint, trailing samples beyond world*len are dropped
	if len(seen) != world*(n/world) {
		t.Errorf("covered %d samples, expect %d", len(seen), world*(n/world))
	}
	for v, count := range seen {
		if count != 1 {
			t.Errorf("sample %d appears %d times", v, count)
		}
	}
}

func TestDistributedNoShuffle(t *testing.T) {
	s := Distributed{N: 8, Rank: 1, World: 2, NoShuff: true}
	ix := s.Indexes(1)
	expect := []int{1, 3, 5, 7}
	for i, v := range expect {
		if ix[i] != v {
			t.Fatalf("indexes %v expect %v", ix, expect)
		}
	}
}

func TestNewSampler(t *testing.T) {
	if _, ok := NewSampler(10, true, 0, 2, 1).(Distributed); !ok {
		t.Error("ddp should give a distributed sampler")
	}
	if _, ok := NewSampler(10, false, 0, 1, 1).(Shuffle); !ok {
		t.Error("single process should give a shuffle sampler")
	}
}
