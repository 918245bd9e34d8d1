package service

import (
	"sort"

	"shoppoller/internal/models"
)

// Partition splits a candidate batch that is too large for one run. The cap
// is taken from the first world's class, sovereign or not, and the whole list
// is chunked by it in input order. Every chunk fits its own first world's cap,
// so a sub-task never splits again.
func Partition(worlds []models.World, maxPerm, maxSov int) [][]models.World {
	if len(worlds) == 0 {
		return nil
	}
	if maxPerm <= 0 {
		maxPerm = 10
	}
	if maxSov <= 0 {
		maxSov = 100
	}
	limit := maxPerm
	if worlds[0].IsSovereign() {
		limit = maxSov
	}
	if len(worlds) <= limit {
		return [][]models.World{worlds}
	}
	return chunk(worlds, limit)
}

func chunk(worlds []models.World, size int) [][]models.World {
	var out [][]models.World
	for start := 0; start < len(worlds); start += size {
		end := start + size
		if end > len(worlds) {
			end = len(worlds)
		}
		out = append(out, worlds[start:end])
	}
	return out
}

// orderCandidates puts non-sovereign worlds first, each class by id.
func orderCandidates(worlds []models.World) {
	sort.SliceStable(worlds, func(i, j int) bool {
		a, b := worlds[i], worlds[j]
		if a.IsSovereign() != b.IsSovereign() {
			return !a.IsSovereign()
		}
		return a.ID < b.ID
	})
}

func idsOf(worlds []models.World) []uint {
	out := make([]uint, len(worlds))
	for i, w := range worlds {
		out[i] = w.ID
	}
	return out
}
