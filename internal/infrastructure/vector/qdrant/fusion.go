package qdrant

import (
	"fmt"
	"sort"
)

type fusedPoint struct {
	point scoredPoint
	score float64
}

// fusePointsRRF merges dense and lexical hits by reciprocal rank.
func fusePointsRRF(dense, lexical []scoredPoint, rrfK int) []scoredPoint {
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}

	acc := make(map[string]fusedPoint, len(dense)+len(lexical))
	order := make([]string, 0, len(dense)+len(lexical))
	addList := func(points []scoredPoint) {
		for rank, p := range points {
			key := pointKey(p)
			candidate, seen := acc[key]
			if !seen {
				candidate.point = p
				order = append(order, key)
			}
			candidate.score += 1.0 / float64(rrfK+rank+1)
			acc[key] = candidate
		}
	}

	addList(dense)
	addList(lexical)

	out := make([]scoredPoint, 0, len(acc))
	for _, key := range order {
		c := acc[key]
		p := c.point
		p.Score = c.score
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func trimPoints(points []scoredPoint, limit int) []scoredPoint {
	if limit <= 0 || len(points) <= limit {
		return points
	}
	return points[:limit]
}

func pointKey(p scoredPoint) string {
	if p.ID != nil {
		return fmt.Sprintf("id:%v", p.ID)
	}
	return "text:" + getStringPayload(p.Payload, textPayloadKey)
}
