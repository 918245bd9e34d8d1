// Package rank keeps the adaptive polling interval class of every
// (world, item, side). Rank 1 is polled most often, rank 30 least.
package rank

import (
	"time"

	"shoppoller/internal/config"
	"shoppoller/internal/models"
)

const (
	MinRank     = 1
	MaxRank     = 30
	DefaultRank = 20
)

// Increase makes a triple more active. A change seen from rank 20 or above
// snaps straight to 10.
func Increase(r int) int {
	switch {
	case r >= 20:
		return 10
	case r >= 10:
		return 5
	case r > MinRank:
		return r - 1
	}
	return MinRank
}

// Decrease makes a triple less active by one step.
func Decrease(r int) int {
	if r < MinRank {
		return MinRank
	}
	if r < MaxRank {
		return r + 1
	}
	return MaxRank
}

func clamp(r int) int {
	if r < MinRank {
		return MinRank
	}
	if r > MaxRank {
		return MaxRank
	}
	return r
}

// Curve maps a rank to its poll delay.
type Curve struct {
	Base     time.Duration
	Floor    time.Duration
	Cap      time.Duration
	Popular  time.Duration
	Inactive time.Duration
}

func CurveFromConfig(cfg config.RankingConfig) Curve {
	c := Curve{
		Base:     cfg.BaseDelay,
		Floor:    cfg.MinDelay,
		Cap:      cfg.MaxDelay,
		Popular:  cfg.PopularOffset,
		Inactive: cfg.InactiveOffset,
	}
	if c.Base <= 0 {
		c.Base = 60 * time.Minute
	}
	if c.Floor <= 0 {
		c.Floor = 20 * time.Minute
	}
	if c.Cap <= 0 {
		c.Cap = 720 * time.Minute
	}
	if c.Popular < 0 {
		c.Popular = 0
	}
	if c.Inactive < 0 {
		c.Inactive = 0
	}
	return c
}

// Delay is non-decreasing in rank and always within [Floor, Cap].
func (c Curve) Delay(rank int) time.Duration {
	r := clamp(rank)
	var d time.Duration
	switch {
	case r <= 10:
		d = c.Base - c.Popular*time.Duration(10-r)
	case r <= 20:
		d = c.Base + c.Inactive*time.Duration(r-11)
	default:
		d = c.Base + c.Inactive*time.Duration(r-11) + c.Inactive*time.Duration(r-20)*2
	}
	if d < c.Floor {
		d = c.Floor
	}
	if d > c.Cap {
		d = c.Cap
	}
	return d
}

// NextUpdate is when the triple becomes due. A never-polled rank is due a
// minute ago.
func (c Curve) NextUpdate(r models.ItemRank, now time.Time) time.Time {
	if r.LastUpdate == nil {
		return now.Add(-time.Minute)
	}
	return r.LastUpdate.Add(c.Delay(r.Rank))
}

func (c Curve) Due(r models.ItemRank, now time.Time) bool {
	return !c.NextUpdate(r, now).After(now)
}

// Observe moves r through Fresh/Stable/Churning for a newly seen state hash
// and stamps it. The first hash ever seen does not move the rank.
func Observe(r *models.ItemRank, hash string, now time.Time) {
	switch {
	case r.StateHash == "":
		r.State = models.RankStateFresh
	case r.StateHash == hash:
		r.Rank = Decrease(r.Rank)
		r.State = models.RankStateStable
	default:
		r.Rank = Increase(r.Rank)
		r.State = models.RankStateChurning
	}
	r.Rank = clamp(r.Rank)
	r.StateHash = hash
	if r.LastUpdate == nil || now.After(*r.LastUpdate) {
		t := now
		r.LastUpdate = &t
	}
	r.UpdatedAt = now
}
