package indexing

// kmeans clusters vectors into k groups and returns the member index
// lists. Seeding is deterministic (evenly spaced initial centroids) so
// rebuilds of unchanged data produce the same tree shape.
func kmeans(vectors [][]float32, k, iterations int) [][]int {
	n := len(vectors)
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	dim := len(vectors[0])

	centroids := make([][]float64, k)
	for i := range centroids {
		centroids[i] = make([]float64, dim)
		seed := vectors[i*n/k]
		for d, v := range seed {
			centroids[i][d] = float64(v)
		}
	}

	assignment := make([]int, n)
	for iter := 0; iter < iterations; iter++ {
		changed := false
		for i, vec := range vectors {
			best, bestDist := 0, sqDist(centroids[0], vec)
			for c := 1; c < k; c++ {
				if d := sqDist(centroids[c], vec); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignment[i] != best {
				assignment[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, vec := range vectors {
			c := assignment[i]
			counts[c]++
			for d, v := range vec {
				sums[c][d] += float64(v)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = sums[c][d] / float64(counts[c])
			}
		}
	}

	clusters := make([][]int, k)
	for i, c := range assignment {
		clusters[c] = append(clusters[c], i)
	}
	out := clusters[:0]
	for _, members := range clusters {
		if len(members) > 0 {
			out = append(out, members)
		}
	}
	return out
}

func sqDist(centroid []float64, vec []float32) float64 {
	var sum float64
	for d, v := range vec {
		diff := centroid[d] - float64(v)
		sum += diff * diff
	}
	return sum
}
