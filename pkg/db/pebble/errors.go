package pebble

import "errors"

var (
	ErrClosed          = errors.New("store is closed")
	ErrBatchDone       = errors.New("batch already committed or closed")
	ErrIteratorInvalid = errors.New("iterator is not positioned on a valid entry")
)
