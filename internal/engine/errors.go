package engine

import (
	"errors"

	"hl-grid-bot/internal/strategy"
)

var ErrUnknownSymbol = errors.New("unknown trading symbol")

type fatalError struct {
	err error
}

func (f *fatalError) Error() string { return f.err.Error() }

func (f *fatalError) Unwrap() error { return f.err }

// Fatal marks err as one that stops the engine. Everything else is logged
// and left for the next tick or reconciliation pass.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var f *fatalError
	return errors.As(err, &f) ||
		errors.Is(err, strategy.ErrInsufficientFunds) ||
		errors.Is(err, ErrUnknownSymbol)
}
