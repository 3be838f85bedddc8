// Package ranker orders targets by a composite distance that blends the
// direct query-target distance with distances mediated by nearby
// documents.
package ranker

import (
	"fmt"
	"sort"

	"crossmap/internal/domain"
	"crossmap/internal/port"
	"crossmap/internal/sparse"
)

// Rank returns up to n targets ordered by composite score
//
//	score[j] = d(v, j) + Σ_i (d(v, i) + d(i, j)) / n
//
// where i runs over the nDocs documents nearest to v. Targets first seen
// through a document get a direct distance computed from their vector.
// Either index may be nil; a nil or empty target index yields no results.
func Rank(v sparse.Vector, targets, documents port.AnnIndex, n, nDocs int) ([]domain.Candidate, error) {
	if n <= 0 || v.IsZero() || targets == nil || targets.Len() == 0 {
		return []domain.Candidate{}, nil
	}

	var order []string
	targetDist := make(map[string]float64)
	targetVec := make(map[string]sparse.Vector)

	nn0, dist0, err := targets.Query(v, n)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	for k, j := range nn0 {
		vec, ok := targets.Vector(j)
		if !ok {
			continue
		}
		order = append(order, j)
		targetDist[j] = dist0[k]
		targetVec[j] = vec
	}

	var docIDs []string
	docDist := make(map[string]float64)
	docVec := make(map[string]sparse.Vector)
	if documents != nil && documents.Len() > 0 && nDocs > 0 {
		nn1, dist1, err := documents.Query(v, nDocs)
		if err != nil {
			return nil, fmt.Errorf("query documents: %w", err)
		}
		for k, i := range nn1 {
			vec, ok := documents.Vector(i)
			if !ok {
				continue
			}
			docIDs = append(docIDs, i)
			docDist[i] = dist1[k]
			docVec[i] = vec
		}
	}

	docTargetDist := make(map[string]map[string]float64, len(docIDs))
	for _, i := range docIDs {
		nn2, dist2, err := targets.Query(docVec[i], n)
		if err != nil {
			return nil, fmt.Errorf("query targets for document %s: %w", i, err)
		}
		row := make(map[string]float64, len(nn2))
		for k, j := range nn2 {
			row[j] = dist2[k]
			if _, known := targetDist[j]; known {
				continue
			}
			vec, ok := targets.Vector(j)
			if !ok {
				continue
			}
			order = append(order, j)
			targetVec[j] = vec
			targetDist[j] = sparse.Euclidean(vec, v)
		}
		docTargetDist[i] = row
	}

	candidates := make([]domain.Candidate, len(order))
	scale := float64(n)
	for pos, j := range order {
		score := targetDist[j]
		for _, i := range docIDs {
			dij, ok := docTargetDist[i][j]
			if !ok {
				dij = sparse.Euclidean(docVec[i], targetVec[j])
			}
			score += (docDist[i] + dij) / scale
		}
		candidates[pos] = domain.Candidate{ID: j, Distance: score}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].Distance < candidates[b].Distance
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates, nil
}

// Split separates candidates into parallel id and distance slices.
func Split(candidates []domain.Candidate) ([]string, []float64) {
	ids := make([]string, len(candidates))
	dists := make([]float64, len(candidates))
	for k, c := range candidates {
		ids[k] = c.ID
		dists[k] = c.Distance
	}
	return ids, dists
}
