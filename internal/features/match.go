package features

import (
	"math"
	"runtime"
	"sync"
)

// Match pairs a query descriptor with a train descriptor.
type Match struct {
	QueryIdx int
	TrainIdx int
	Distance int
}

// MatchCrossCheck performs brute-force Hamming matching and keeps only
// mutual best matches: train j is query i's nearest neighbour and query i
// is train j's nearest neighbour. Ties resolve to the lowest index.
// Matches are returned in query order.
func MatchCrossCheck(query, train []Descriptor) []Match {
	if len(query) == 0 || len(train) == 0 {
		return nil
	}

	workers := min(runtime.GOMAXPROCS(0), len(query))
	chunk := (len(query) + workers - 1) / workers

	bestTrain := make([]int, len(query))
	bestTrainDist := make([]int, len(query))
	colBest := make([][]int, workers)
	colDist := make([][]int, workers)

	var wg sync.WaitGroup
	for w := range workers {
		lo := w * chunk
		hi := min(lo+chunk, len(query))
		cb := make([]int, len(train))
		cd := make([]int, len(train))
		for j := range cd {
			cb[j] = -1
			cd[j] = math.MaxInt
		}
		colBest[w], colDist[w] = cb, cd
		if lo >= hi {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				q := query[i]
				best, bestDist := -1, math.MaxInt
				for j, t := range train {
					dist := Distance(q, t)
					if dist < bestDist {
						best, bestDist = j, dist
					}
					if dist < cd[j] {
						cb[j], cd[j] = i, dist
					}
				}
				bestTrain[i], bestTrainDist[i] = best, bestDist
			}
		}()
	}
	wg.Wait()

	// Chunks cover ascending query ranges, so scanning workers in order and
	// replacing only on strictly smaller distance keeps the lowest index.
	bestQuery := colBest[0]
	bestQueryDist := colDist[0]
	for w := 1; w < workers; w++ {
		for j := range train {
			if colDist[w][j] < bestQueryDist[j] {
				bestQuery[j], bestQueryDist[j] = colBest[w][j], colDist[w][j]
			}
		}
	}

	var matches []Match
	for i, j := range bestTrain {
		if j >= 0 && bestQuery[j] == i {
			matches = append(matches, Match{QueryIdx: i, TrainIdx: j, Distance: bestTrainDist[i]})
		}
	}
	return matches
}
