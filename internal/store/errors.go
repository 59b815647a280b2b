package store

import "errors"

var (
	ErrDuplicateEvent = errors.New("duplicate transaction event")
	ErrSequenceGap    = errors.New("transaction event out of sequence")
)
