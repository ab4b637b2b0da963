// Package nor emulates the device's NOR flash on top of a host file.
//
// Erase sets whole sectors to 0xFF and writes can only clear bits, so code
// that forgets to erase before rewriting fails here the same way it would
// on hardware.
package nor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	DefaultSectorSize = 4096
	WordSize          = 4
)

var (
	ErrOutOfBounds = errors.New("access out of bounds")
	ErrUnaligned   = errors.New("unaligned access")
)

// Device is a file-backed NOR image.
type Device struct {
	mu     sync.Mutex
	f      *os.File
	size   uint32
	sector uint32
}

// Open opens the image at path, creating an erased image of size bytes if it does not exist.
func Open(path string, size, sectorSize uint32) (*Device, error) {
	if sectorSize == 0 || sectorSize%WordSize != 0 {
		return nil, fmt.Errorf("invalid sector size %d", sectorSize)
	}
	if size == 0 || size%sectorSize != 0 {
		return nil, fmt.Errorf("image size %d is not a multiple of sector size %d", size, sectorSize)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open flash image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat flash image: %w", err)
	}

	d := &Device{f: f, size: size, sector: sectorSize}
	switch info.Size() {
	case int64(size):
	case 0:
		if err := d.fill(0, size); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to format flash image: %w", err)
		}
	default:
		f.Close()
		return nil, fmt.Errorf("flash image %s is %d bytes, expected %d", path, info.Size(), size)
	}
	return d, nil
}

func (d *Device) Size() uint32       { return d.size }
func (d *Device) SectorSize() uint32 { return d.sector }

// ReadAt fills p from the image starting at off.
func (d *Device) ReadAt(p []byte, off uint32) error {
	if err := d.bounds(off, len(p)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.ReadAt(p, int64(off)); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Erase resets whole sectors to 0xFF.
func (d *Device) Erase(off, length uint32) error {
	if off%d.sector != 0 || length%d.sector != 0 {
		return fmt.Errorf("%w: erase %d+%d with sector size %d", ErrUnaligned, off, length, d.sector)
	}
	if err := d.bounds(off, int(length)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fill(off, length)
}

// Write programs data at off. Bits can only go from 1 to 0.
func (d *Device) Write(off uint32, data []byte) error {
	if off%WordSize != 0 || len(data)%WordSize != 0 {
		return fmt.Errorf("%w: write %d+%d", ErrUnaligned, off, len(data))
	}
	if err := d.bounds(off, len(data)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	old := make([]byte, len(data))
	if _, err := d.f.ReadAt(old, int64(off)); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	for i := range old {
		old[i] &= data[i]
	}
	_, err := d.f.WriteAt(old, int64(off))
	return err
}

// Close syncs and closes the image.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.f.Sync(); err != nil {
		d.f.Close()
		return err
	}
	return d.f.Close()
}

func (d *Device) bounds(off uint32, n int) error {
	if uint64(off)+uint64(n) > uint64(d.size) {
		return fmt.Errorf("%w: %d+%d exceeds %d", ErrOutOfBounds, off, n, d.size)
	}
	return nil
}

func (d *Device) fill(off, length uint32) error {
	chunk := bytes.Repeat([]byte{0xFF}, int(min(length, d.sector)))
	for done := uint32(0); done < length; done += uint32(len(chunk)) {
		if _, err := d.f.WriteAt(chunk, int64(off+done)); err != nil {
			return err
		}
	}
	return nil
}
