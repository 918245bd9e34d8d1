package models

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Sides is the polling order within one item.
var Sides = []Side{SideBuy, SideSell}

// Code is the path segment the world api uses for the side.
func (s Side) Code() string {
	if s == SideSell {
		return "S"
	}
	return "B"
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}
