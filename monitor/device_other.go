//go:build !linux

package monitor

import "errors"

var errUnsupported = errors.New("secure monitor device requires linux")

// Device is a stub on non-Linux hosts; only the Fake works there.
type Device struct{}

// OpenDevice always fails off Linux.
func OpenDevice(path string) (*Device, error) {
	return nil, errUnsupported
}

// Call always fails off Linux.
func (d *Device) Call(req *Request) error {
	return errUnsupported
}

// Close always fails off Linux.
func (d *Device) Close() error {
	return errUnsupported
}
