package num

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// Device describes the compute device used for training. Only the CPU backend
// is implemented, the name is kept so configs stay compatible with setups that
// select a device explicitly.
type Device struct {
	Name    string
	Threads int
}

// NewDevice resolves a device name from the config. Anything other than "cpu"
// or empty is an error.
func NewDevice(name string) (Device, error) {
	switch name {
	case "", "cpu":
		return Device{Name: "cpu", Threads: runtime.GOMAXPROCS(0)}, nil
	default:
		return Device{}, fmt.Errorf("device %q is not supported, use cpu", name)
	}
}

// String describes the CPU the device runs on.
func (d Device) String() string {
	return fmt.Sprintf("%s: %s (%d cores, %d threads)",
		d.Name, cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, d.Threads)
}

// ForEach runs body for each index from 0 to length with at most d.Threads
// concurrent goroutines and waits for completion.
func (d Device) ForEach(length int, body func(i int)) {
	limit := d.Threads
	if limit <= 0 {
		limit = 1
	}
	if limit > length {
		limit = length
	}
	if limit <= 1 {
		for i := 0; i < length; i++ {
			body(i)
		}
		return
	}
	var wg sync.WaitGroup
	queue := make(chan int, length)
	for t := 0; t < limit; t++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				body(i)
			}
		}()
	}
	for i := 0; i < length; i++ {
		queue <- i
	}
	close(queue)
	wg.Wait()
}
