//go:build linux

package monitor

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/gosma-dev/gosma/mm"
)

const (
	// smaRemapBatch is _IO('S', 0) from the host driver ABI; the
	// request is passed by pointer.
	smaRemapBatch = 0x5300
)

// wireRequest is the driver ABI layout of a Request. The explicit pad
// keeps the 64-bit fields aligned identically on all targets.
type wireRequest struct {
	secVMID     uint32
	kind        uint32
	srcStartPFN uint64
	dstStartPFN uint64
	nrPages     uint32
	_           uint32
	ipnList     [mm.BatchPages]uint64
}

// Device issues monitor requests through the host driver's character
// device. The driver forwards each request as a single secure monitor
// call with interrupts masked, so the ioctl is atomic from the
// caller's point of view.
type Device struct {
	fd int
}

// OpenDevice opens the secure monitor device at path.
func OpenDevice(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return &Device{fd: fd}, nil
}

// Call issues req as one synchronous ioctl.
func (d *Device) Call(req *Request) error {
	w := wireRequest{
		secVMID:     req.SecVMID,
		kind:        uint32(req.Kind),
		srcStartPFN: req.SrcStartPFN,
		dstStartPFN: req.DstStartPFN,
		nrPages:     req.NrPages,
		ipnList:     req.IPNList,
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), smaRemapBatch, uintptr(unsafe.Pointer(&w)))
	if errno != 0 {
		return fmt.Errorf("sma remap ioctl: %w", errno)
	}

	return nil
}

// Close releases the device.
func (d *Device) Close() error {
	return unix.Close(d.fd)
}
