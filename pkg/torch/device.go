package torch

import (
	"errors"
	"fmt"
)

// ErrDevice is returned when tensors live on different devices or a device has
// no kernels.
var ErrDevice = errors.New("device error")

// Device is where a tensor's storage lives.
type Device int

const (
	// CPU is host memory. It is the only device with kernels.
	CPU Device = iota
	// CUDA is an accelerator placement. It is recognised so callers get a clear
	// error instead of silently running on the host.
	CUDA
)

// String returns the device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "cpu"
	case CUDA:
		return "cuda"
	default:
		return fmt.Sprintf("device(%d)", int(d))
	}
}

// ParseDevice parses a device name as printed by String.
func ParseDevice(s string) (Device, error) {
	switch s {
	case "cpu", "":
		return CPU, nil
	case "cuda":
		return CUDA, nil
	}
	return CPU, fmt.Errorf("%w: unknown device %q", ErrDevice, s)
}

// Available reports whether the device has kernels in this build.
func (d Device) Available() error {
	if d != CPU {
		return fmt.Errorf("%w: %s is not available, only cpu kernels are built", ErrDevice, d)
	}
	return nil
}

// SameDevice returns an error unless all tensors share one available device.
func SameDevice(ts ...*Tensor) error {
	if len(ts) == 0 {
		return nil
	}
	d := ts[0].Device
	for _, t := range ts[1:] {
		if t.Device != d {
			return fmt.Errorf("%w: operands on %s and %s", ErrDevice, d, t.Device)
		}
	}
	return d.Available()
}
