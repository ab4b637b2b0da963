package nor

import (
	"fmt"

	"github.com/dokzlo13/stripd/internal/flash"
	"github.com/dokzlo13/stripd/internal/storage"
)

var (
	_ flash.Partition = (*Partition)(nil)
	_ storage.Driver  = (*Record)(nil)
)

// Partition is a bounded, labelled window onto a Device.
type Partition struct {
	dev    *Device
	label  string
	offset uint32
	size   uint32
}

func (p *Partition) Label() string      { return p.label }
func (p *Partition) Capacity() uint32   { return p.size }
func (p *Partition) SectorSize() uint32 { return p.dev.sector }
func (p *Partition) Offset() uint32     { return p.offset }

func (p *Partition) ReadAt(buf []byte, off uint32) error {
	if err := p.bounds(off, len(buf)); err != nil {
		return err
	}
	return p.dev.ReadAt(buf, p.offset+off)
}

func (p *Partition) Erase(off, length uint32) error {
	if err := p.bounds(off, int(length)); err != nil {
		return err
	}
	return p.dev.Erase(p.offset+off, length)
}

func (p *Partition) Write(off uint32, data []byte) error {
	if err := p.bounds(off, len(data)); err != nil {
		return err
	}
	return p.dev.Write(p.offset+off, data)
}

// Record exposes the first sector of p as a single storage record.
func (p *Partition) Record() *Record {
	return &Record{p: p}
}

func (p *Partition) bounds(off uint32, n int) error {
	if uint64(off)+uint64(n) > uint64(p.size) {
		return fmt.Errorf("%w: %s %d+%d exceeds %d", ErrOutOfBounds, p.label, off, n, p.size)
	}
	return nil
}

// Record is a storage.Driver for a record at the start of a partition.
type Record struct {
	p *Partition
}

func (r *Record) Read(buf []byte) error {
	return r.p.ReadAt(buf, 0)
}

// Write programs buf padded with 0xFF to a whole word. The sector must be erased first.
func (r *Record) Write(buf []byte) error {
	n := (len(buf) + WordSize - 1) &^ (WordSize - 1)
	padded := make([]byte, n)
	copy(padded, buf)
	for i := len(buf); i < n; i++ {
		padded[i] = 0xFF
	}
	return r.p.Write(0, padded)
}

func (r *Record) Erase() error {
	return r.p.Erase(0, r.p.SectorSize())
}
