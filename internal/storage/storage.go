// Package storage encodes persisted records. Every record is a little-endian
// 0xBEEF magic followed by a fixed-size payload.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic prefixes every record. Change it whenever a payload layout changes.
const Magic uint16 = 0xBEEF

// HeaderSize is the size of the magic prefix.
const HeaderSize = 2

var (
	ErrDriver             = errors.New("storage driver error")
	ErrInvalidMagicHeader = errors.New("invalid magic header")
	ErrInvalidData        = errors.New("invalid record data")
)

// Driver reads and writes raw bytes at one fixed partition offset.
type Driver interface {
	Read(buf []byte) error
	Write(buf []byte) error
}

// Erasable is implemented by drivers that must be erased before rewriting.
type Erasable interface {
	Erase() error
}

func frame(payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint16(buf, Magic)
	copy(buf[HeaderSize:], payload)
	return buf
}

func unframe(buf []byte) ([]byte, error) {
	if len(buf) < HeaderSize || binary.LittleEndian.Uint16(buf) != Magic {
		return nil, ErrInvalidMagicHeader
	}
	return buf[HeaderSize:], nil
}

func load(d Driver, size int) ([]byte, error) {
	buf := make([]byte, HeaderSize+size)
	if err := d.Read(buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDriver, err)
	}
	return unframe(buf)
}

func save(d Driver, payload []byte) error {
	if e, ok := d.(Erasable); ok {
		if err := e.Erase(); err != nil {
			return fmt.Errorf("%w: erase: %v", ErrDriver, err)
		}
	}
	if err := d.Write(frame(payload)); err != nil {
		return fmt.Errorf("%w: %v", ErrDriver, err)
	}
	return nil
}
