// Package parallel slices row ranges across worker goroutines for the pixel
// conversion loops. Rows are disjoint, so the work function needs no locking
// and results are deterministic regardless of worker count.
package parallel

import (
	"runtime"
	"sync"
)

// minRowsPerWorker keeps tiny images on the calling goroutine; spawning
// workers costs more than converting a few thousand pixels.
const minRowsPerWorker = 64

// Rows invokes fn over [0, height) split into contiguous half-open row ranges
// [y0, y1), one range per worker. workers <= 0 means GOMAXPROCS. Rows returns
// after every range has been processed.
func Rows(height, workers int, fn func(y0, y1 int)) {
	if height <= 0 {
		return
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if max := height / minRowsPerWorker; workers > max {
		workers = max
	}
	if workers <= 1 {
		fn(0, height)
		return
	}

	chunk := (height + workers - 1) / workers

	var wg sync.WaitGroup
	for y0 := 0; y0 < height; y0 += chunk {
		y1 := y0 + chunk
		if y1 > height {
			y1 = height
		}
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			fn(y0, y1)
		}(y0, y1)
	}
	wg.Wait()
}
