package shop

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
)

// SortByLocation orders entries by (x, y, z) ascending, in place.
func SortByLocation(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Location, entries[j].Location
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
}

// CanonicalString is the per-entry digest input.
func CanonicalString(itemID, worldID uint, e Entry) string {
	return fmt.Sprintf("%d:%d:%d:%d:%d:%d:%d",
		itemID, worldID, e.Location.X, e.Location.Y, e.Location.Z, e.PriceHundredths, e.ItemCount)
}

// Digest accumulates canonical entry strings into a SHA-512 state hash.
type Digest struct {
	itemID  uint
	worldID uint
	h       hash.Hash
}

func NewDigest(itemID, worldID uint) *Digest {
	return &Digest{itemID: itemID, worldID: worldID, h: sha512.New()}
}

func (d *Digest) Add(e Entry) {
	d.h.Write([]byte(CanonicalString(d.itemID, d.worldID, e)))
}

func (d *Digest) Hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// StateHash sorts entries and returns their digest. entries is reordered.
func StateHash(itemID, worldID uint, entries []Entry) string {
	SortByLocation(entries)
	d := NewDigest(itemID, worldID)
	for _, e := range entries {
		d.Add(e)
	}
	return d.Hex()
}
