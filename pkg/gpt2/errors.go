package gpt2

import "errors"

var (
	// ErrConfig is returned when a Config cannot describe a valid model.
	ErrConfig = errors.New("invalid config")
	// ErrShape is returned when an input does not match the documented shape contract.
	ErrShape = errors.New("invalid shape")
	// ErrSampling is returned for invalid generation parameters.
	ErrSampling = errors.New("invalid sampling parameters")
)
