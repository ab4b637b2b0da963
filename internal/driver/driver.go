// Package driver turns rendered frames into bytes for an LED output.
package driver

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dokzlo13/stripd/internal/color"
	"github.com/dokzlo13/stripd/internal/engine"
)

var (
	ErrUnsupported = errors.New("driver not supported by this build")
	ErrFrameSize   = errors.New("frame larger than strip")
)

// Output consumes wire-ordered bytes, three per pixel.
type Output interface {
	Write(buf []byte) error
	Close() error
}

// Sized is implemented by outputs opened for a fixed pixel count.
type Sized interface {
	LedCount() int
}

// Config selects and sizes an output.
type Config struct {
	Name     string
	LedCount int
	GPIOPin  int
}

// New creates the output named by cfg.Name.
func New(cfg Config) (Output, error) {
	switch cfg.Name {
	case "", "null":
		return &Null{}, nil
	case "log":
		return NewLog(), nil
	case "ws281x":
		return NewWS281x(cfg)
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Name)
	}
}

var _ engine.Sink = (*Strip)(nil)

// Strip adapts an Output to engine.Sink and applies the wire color order.
// Frames longer than a Sized output are clipped to it.
type Strip struct {
	out      Output
	capacity int
	order    atomic.Uint32

	mu  sync.Mutex
	buf []byte
}

func NewStrip(out Output, order color.ColorOrder) *Strip {
	s := &Strip{out: out}
	if sized, ok := out.(Sized); ok {
		s.capacity = sized.LedCount()
	}
	s.SetOrder(order)
	return s
}

// Capacity is the pixel count the output was opened with, or 0 when unbounded.
func (s *Strip) Capacity() int {
	return s.capacity
}

// SetOrder changes the color order from the next frame on.
func (s *Strip) SetOrder(order color.ColorOrder) {
	s.order.Store(uint32(order))
}

func (s *Strip) Order() color.ColorOrder {
	return color.ColorOrder(s.order.Load())
}

func (s *Strip) Write(frame []color.RGB) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capacity > 0 && len(frame) > s.capacity {
		frame = frame[:s.capacity]
	}
	order := s.Order()
	if cap(s.buf) < 3*len(frame) {
		s.buf = make([]byte, 3*len(frame))
	}
	s.buf = s.buf[:3*len(frame)]
	for i, c := range frame {
		b := order.Reorder(c)
		copy(s.buf[3*i:], b[:])
	}
	return s.out.Write(s.buf)
}

func (s *Strip) Close() error {
	return s.out.Close()
}
