package service

import (
	"testing"
	"time"

	"shoppoller/internal/models"
)

func sizesOf(chunks [][]models.World) []int {
	out := make([]int, len(chunks))
	for i, c := range chunks {
		out[i] = len(c)
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPartition(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	perm := func(n int, from uint) []models.World {
		var out []models.World
		for i := 0; i < n; i++ {
			out = append(out, permWorld(from+uint(i)))
		}
		return out
	}
	sov := func(n int, from uint) []models.World {
		var out []models.World
		for i := 0; i < n; i++ {
			out = append(out, sovWorld(from+uint(i), start))
		}
		return out
	}

	tests := []struct {
		name   string
		worlds []models.World
		want   []int
	}{
		{"empty", nil, []int{}},
		{"perm within cap", perm(10, 1), []int{10}},
		{"perm over cap", perm(25, 1), []int{10, 10, 5}},
		{"sovereign over cap", sov(240, 1000), []int{100, 100, 40}},
		{"sovereign first within its cap", append(sov(1, 1000), perm(15, 1)...), []int{16}},
		{"mixed perm first", append(perm(12, 1), sov(3, 1000)...), []int{10, 5}},
		{"mixed sovereign first", append(sov(90, 1000), perm(30, 1)...), []int{100, 20}},
	}
	for _, tt := range tests {
		got := sizesOf(Partition(tt.worlds, 10, 100))
		if !equalInts(got, tt.want) {
			t.Fatalf("%s: sizes=%v want %v", tt.name, got, tt.want)
		}
	}
}

func TestPartition_KeepsOrderWithinClass(t *testing.T) {
	worlds := []models.World{permWorld(9), permWorld(3), permWorld(7)}
	chunks := Partition(worlds, 2, 100)
	if len(chunks) != 2 || chunks[0][0].ID != 9 || chunks[0][1].ID != 3 || chunks[1][0].ID != 7 {
		t.Fatalf("chunks=%v", chunks)
	}
}

func TestOrderCandidates(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	worlds := []models.World{sovWorld(2, start), permWorld(9), sovWorld(1, start), permWorld(4)}
	orderCandidates(worlds)
	got := idsOf(worlds)
	want := []uint{4, 9, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order=%v want %v", got, want)
		}
	}
}

func TestPartition_MixedChunksFollowFirstClass(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	worlds := []models.World{permWorld(1), permWorld(2), sovWorld(100, start), permWorld(3), sovWorld(101, start)}
	chunks := Partition(worlds, 2, 100)
	want := [][]uint{{1, 2}, {100, 3}, {101}}
	if len(chunks) != len(want) {
		t.Fatalf("chunks=%d want %d", len(chunks), len(want))
	}
	for i, c := range chunks {
		ids := idsOf(c)
		for j := range want[i] {
			if ids[j] != want[i][j] {
				t.Fatalf("chunk %d=%v want %v", i, ids, want[i])
			}
		}
		// a chunk handed to a sub-task never splits again
		if again := Partition(c, 2, 100); len(again) != 1 {
			t.Fatalf("chunk %d re-split into %d", i, len(again))
		}
	}
}
