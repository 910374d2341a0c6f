package indexing

// softCluster groups vectors with fuzzy c-means (fuzzifier 2) and
// returns overlapping member lists: a vector joins every cluster whose
// membership is at least half of its strongest one, so borderline
// content appears under more than one summary. Seeding matches kmeans
// so rebuilds of unchanged data produce the same tree shape.
func softCluster(vectors [][]float32, k, iterations int) [][]int {
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

	memberships := make([][]float64, n)
	for i := range memberships {
		memberships[i] = make([]float64, k)
	}
	dists := make([]float64, k)

	for iter := 0; iter < iterations; iter++ {
		for i, vec := range vectors {
			exact := -1
			for c := range centroids {
				dists[c] = sqDist(centroids[c], vec)
				if dists[c] == 0 && exact < 0 {
					exact = c
				}
			}
			if exact >= 0 {
				for c := range memberships[i] {
					memberships[i][c] = 0
				}
				memberships[i][exact] = 1
				continue
			}
			for c := range centroids {
				var sum float64
				for j := range centroids {
					sum += dists[c] / dists[j]
				}
				memberships[i][c] = 1 / sum
			}
		}

		for c := range centroids {
			var weight float64
			sums := make([]float64, dim)
			for i, vec := range vectors {
				w := memberships[i][c] * memberships[i][c]
				weight += w
				for d, v := range vec {
					sums[d] += w * float64(v)
				}
			}
			if weight == 0 {
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = sums[d] / weight
			}
		}
	}

	clusters := make([][]int, k)
	for i := range vectors {
		var best float64
		for _, u := range memberships[i] {
			if u > best {
				best = u
			}
		}
		for c, u := range memberships[i] {
			if u >= best/2 {
				clusters[c] = append(clusters[c], i)
			}
		}
	}
	out := clusters[:0]
	for _, members := range clusters {
		if len(members) > 0 {
			out = append(out, members)
		}
	}
	return out
}
