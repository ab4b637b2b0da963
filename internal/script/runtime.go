// Package script runs an optional Lua automation script against the light.
//
// The Lua state is not thread safe. Every call into it goes through the work
// queue and runs on the goroutine executing Run.
package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/stripd/internal/light"
)

// ErrRuntimeClosed is returned when the runtime no longer accepts work
var ErrRuntimeClosed = errors.New("script runtime closed")

// DefaultQueueSize bounds pending work when no size is configured
const DefaultQueueSize = 64

// minInterval keeps every() callbacks from flooding the queue
const minInterval = 10 * time.Millisecond

// Controller is the part of the engine a script may drive.
type Controller interface {
	ApplyIntent(in light.Intent) error
	State() light.State
}

// Work is executed on the Lua goroutine.
type Work func(ctx context.Context, L *lua.LState)

type timer struct {
	interval time.Duration
	fn       *lua.LFunction
}

// Runtime owns the Lua VM and its single worker.
type Runtime struct {
	L     *lua.LState
	light Controller

	workQueue chan Work
	closing   chan struct{}
	closeOnce sync.Once

	// Touched only from the Lua goroutine, or before Run starts.
	timers  []timer
	running context.Context
	wg      sync.WaitGroup
}

// New creates a runtime with the light and log modules preloaded.
func New(ctl Controller, queueSize int) *Runtime {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &Runtime{
		L:         lua.NewState(),
		light:     ctl,
		workQueue: make(chan Work, queueSize),
		closing:   make(chan struct{}),
	}
	r.L.PreloadModule("log", newLogModule().Loader)
	r.L.PreloadModule("light", newLightModule(ctl).Loader)
	r.L.SetGlobal("every", r.L.NewFunction(r.every))
	if err := r.L.DoString(`light = require("light"); log = require("log")`); err != nil {
		log.Error().Err(err).Msg("Failed to expose Lua modules")
	}
	return r
}

// LoadFile executes a script file. Must be called before Run.
func (r *Runtime) LoadFile(path string) error {
	log.Info().Str("path", path).Msg("Loading Lua script")
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}
	log.Info().Int("timers", len(r.timers)).Msg("Lua script loaded successfully")
	return nil
}

// LoadString executes inline source. Must be called before Run.
func (r *Runtime) LoadString(src string) error {
	if err := r.L.DoString(src); err != nil {
		return fmt.Errorf("failed to execute Lua source: %w", err)
	}
	return nil
}

// Do queues work without blocking. It returns false when the work was dropped.
func (r *Runtime) Do(ctx context.Context, work Work) bool {
	select {
	case <-r.closing:
		log.Warn().Msg("Lua runtime closing, dropping work")
		return false
	default:
	}
	select {
	case <-ctx.Done():
		return false
	case r.workQueue <- work:
		return true
	default:
		log.Warn().Msg("Lua work queue full, dropping work")
		return false
	}
}

// DoSync queues work and waits for it to finish.
func (r *Runtime) DoSync(ctx context.Context, work func(ctx context.Context, L *lua.LState) error) error {
	done := make(chan error, 1)
	wrapped := Work(func(c context.Context, L *lua.LState) {
		done <- work(c, L)
	})

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	default:
	}
	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.workQueue <- wrapped:
	}

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Eval runs source on the Lua goroutine.
func (r *Runtime) Eval(ctx context.Context, src string) error {
	return r.DoSync(ctx, func(_ context.Context, L *lua.LState) error {
		return L.DoString(src)
	})
}

// Run is the only goroutine that touches the VM. It starts registered timers
// and returns once ctx is cancelled or Close is called and every timer has stopped.
func (r *Runtime) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		r.wg.Wait()
	}()

	r.running = ctx
	for _, t := range r.timers {
		r.startTimer(ctx, t)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.closing:
			return
		case work := <-r.workQueue:
			r.execute(ctx, work)
		}
	}
}

// Close stops accepting work and releases the VM. Call it after Run returns.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
	})
	r.L.Close()
}

func (r *Runtime) execute(ctx context.Context, work Work) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Msg("Lua work panicked - worker continuing")
		}
	}()
	r.L.SetContext(ctx)
	work(ctx, r.L)
}

// every(ms, fn) calls fn periodically on the Lua goroutine.
func (r *Runtime) every(L *lua.LState) int {
	ms := L.CheckInt(1)
	fn := L.CheckFunction(2)
	interval := time.Duration(ms) * time.Millisecond
	if interval < minInterval {
		L.ArgError(1, fmt.Sprintf("interval must be at least %d ms", minInterval.Milliseconds()))
		return 0
	}

	t := timer{interval: interval, fn: fn}
	if r.running != nil {
		r.startTimer(r.running, t)
	} else {
		r.timers = append(r.timers, t)
	}
	return 0
}

func (r *Runtime) startTimer(ctx context.Context, t timer) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Do(ctx, func(_ context.Context, L *lua.LState) {
					if err := L.CallByParam(lua.P{Fn: t.fn, NRet: 0, Protect: true}); err != nil {
						log.Error().Err(err).Dur("interval", t.interval).Msg("Lua timer callback failed")
					}
				})
			}
		}
	}()
}
