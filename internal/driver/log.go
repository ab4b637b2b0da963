package driver

import (
	"encoding/hex"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const logPixels = 4

// Log prints the leading pixels of a frame at most once per second.
type Log struct {
	limiter *rate.Limiter
}

func NewLog() *Log {
	return &Log{limiter: rate.NewLimiter(rate.Every(time.Second), 1)}
}

func (l *Log) Write(buf []byte) error {
	if !l.limiter.Allow() {
		return nil
	}
	head := buf[:min(len(buf), 3*logPixels)]
	log.Debug().
		Int("pixels", len(buf)/3).
		Str("head", hex.EncodeToString(head)).
		Msg("Frame")
	return nil
}

func (l *Log) Close() error { return nil }
