package dwt

import "sync"

// rowWorkers splits n independent row/column transforms across workers
// goroutines. A workers value <= 1 runs the loop inline with no
// goroutines at all, so single-threaded callers pay no synchronization
// overhead.
func rowWorkers(n, workers int, fn func(i int)) {
	if workers <= 1 || n <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	if workers > n {
		workers = n
	}

	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if start >= n {
			break
		}
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				fn(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// Inverse2D53Parallel is Inverse2D53 with its row pass and column pass
// each split across workers goroutines. Rows are independent of each
// other and so are columns, so splitting either pass is safe; the column
// pass (vertical lifting over every column) still has to finish
// completely before the row pass (horizontal lifting over every row)
// starts, since every row read in the second pass depends on every
// column's result from the first.
func Inverse2D53Parallel(data []int32, width, height, workers int) {
	rowWorkers(width, workers, func(x int) {
		col := make([]int32, height)
		for y := 0; y < height; y++ {
			col[y] = data[y*width+x]
		}
		Inverse53(col, height)
		for y := 0; y < height; y++ {
			data[y*width+x] = col[y]
		}
	})

	rowWorkers(height, workers, func(y int) {
		row := data[y*width : (y+1)*width]
		Inverse53(row, width)
	})
}

// Inverse2D97Parallel is the 9-7 analogue of Inverse2D53Parallel.
func Inverse2D97Parallel(data []float64, width, height, workers int) {
	rowWorkers(width, workers, func(x int) {
		col := make([]float64, height)
		for y := 0; y < height; y++ {
			col[y] = data[y*width+x]
		}
		Inverse97(col, height)
		for y := 0; y < height; y++ {
			data[y*width+x] = col[y]
		}
	})

	rowWorkers(height, workers, func(y int) {
		row := data[y*width : (y+1)*width]
		Inverse97(row, width)
	})
}

// ReconstructMultiLevel53Parallel is ReconstructMultiLevel53 with every
// level's column and row lifting pass distributed across workers
// goroutines. Levels themselves still run strictly coarsest-to-finest,
// since level L's output is level L-1's input.
func ReconstructMultiLevel53Parallel(data []int32, width, height, levels, workers int) {
	dims := make([]struct{ w, h int }, levels)
	w, h := width, height
	for level := 0; level < levels; level++ {
		dims[level] = struct{ w, h int }{w, h}
		w = (w + 1) / 2
		h = (h + 1) / 2
	}

	for level := levels - 1; level >= 0; level-- {
		Inverse2D53Parallel(data, dims[level].w, dims[level].h, workers)
	}
}

// ReconstructMultiLevel97Parallel is the 9-7 analogue of
// ReconstructMultiLevel53Parallel.
func ReconstructMultiLevel97Parallel(data []float64, width, height, levels, workers int) {
	dims := make([]struct{ w, h int }, levels)
	w, h := width, height
	for level := 0; level < levels; level++ {
		dims[level] = struct{ w, h int }{w, h}
		w = (w + 1) / 2
		h = (h + 1) / 2
	}

	for level := levels - 1; level >= 0; level-- {
		Inverse2D97Parallel(data, dims[level].w, dims[level].h, workers)
	}
}
