package service

import (
	"errors"
	"fmt"
)

// ErrTooManyErrors aborts a price update once the run's HTTP error budget is spent.
var ErrTooManyErrors = errors.New("too many http errors in price update")

// InvalidWorldError names requested world ids missing from the catalog.
type InvalidWorldError struct {
	IDs []uint
}

func (e *InvalidWorldError) Error() string {
	return fmt.Sprintf("unknown world ids: %v", e.IDs)
}
