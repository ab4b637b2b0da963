// Package engine owns the light state and drives the strip at a fixed frame rate.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/stripd/internal/color"
	"github.com/dokzlo13/stripd/internal/effect"
	"github.com/dokzlo13/stripd/internal/light"
	"github.com/dokzlo13/stripd/internal/processor"
)

const (
	DefaultFrameRate      = 90
	DefaultIntentQueue    = 10
	DefaultOperationQueue = 10

	// maxLagFrames is how far the loop may fall behind before it stops catching up.
	maxLagFrames = 10
)

var (
	ErrIntentQueueFull = errors.New("intent queue full")
	ErrConfigBusy      = errors.New("config change already pending")
)

// Sink receives finished frames. Write must not block indefinitely.
type Sink interface {
	Write(frame []color.RGB) error
}

// StateListener is called on the engine goroutine after a commit changed the state.
// It must not block.
type StateListener func(light.State)

// Timings are the transition durations for each animated change.
type Timings struct {
	FadeIn      time.Duration
	FadeOut     time.Duration
	ColorChange time.Duration
	Brightness  time.Duration
}

// DefaultTimings returns the stock transition durations.
func DefaultTimings() Timings {
	return Timings{
		FadeIn:      500 * time.Millisecond,
		FadeOut:     800 * time.Millisecond,
		ColorChange: 200 * time.Millisecond,
		Brightness:  300 * time.Millisecond,
	}
}

// Options configure an Engine.
type Options struct {
	Light          light.LightConfig
	FrameRate      int
	IntentQueue    int
	OperationQueue int
	Timings        Timings
	RainbowCycle   time.Duration
	Listener       StateListener
}

// Engine applies intents, animates transitions and renders frames.
// ApplyIntent, ApplyConfig and Shared are safe to call from any goroutine;
// everything else belongs to the goroutine running Tick or Run.
type Engine struct {
	opts    Options
	period  time.Duration
	sink    Sink
	shared  *Shared
	intents chan light.Intent
	configs chan light.LightConfig

	state light.State
	ops   *OperationQueue
	slot  effect.Slot
	proc  *processor.Processor
	frame []color.RGB

	sinkErrors *rate.Limiter
}

// New creates an engine seeded with initial. A light that boots on fades in from black.
func New(initial light.State, sink Sink, opts Options) *Engine {
	if opts.FrameRate <= 0 {
		opts.FrameRate = DefaultFrameRate
	}
	if opts.IntentQueue <= 0 {
		opts.IntentQueue = DefaultIntentQueue
	}
	if opts.RainbowCycle <= 0 {
		opts.RainbowCycle = effect.DefaultCycle
	}
	if opts.Timings == (Timings{}) {
		opts.Timings = DefaultTimings()
	}
	if _, ok := effect.FromID(initial.ModeID); !ok {
		log.Warn().Uint8("mode", initial.ModeID).Msg("Unknown initial mode, using default")
		initial.ModeID = light.DefaultState().ModeID
	}

	e := &Engine{
		opts:       opts,
		period:     time.Second / time.Duration(opts.FrameRate),
		sink:       sink,
		shared:     newShared(initial),
		intents:    make(chan light.Intent, opts.IntentQueue),
		configs:    make(chan light.LightConfig, 1),
		state:      initial,
		ops:        NewOperationQueue(opts.OperationQueue),
		sinkErrors: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	e.configure(opts.Light)
	e.slot = e.newSlot(initial.ModeID, 0)
	if initial.Power {
		e.proc.SetBrightness(initial.Brightness, opts.Timings.FadeIn, 0)
	}
	return e
}

// Shared returns the lock-free view of the committed state.
func (e *Engine) Shared() *Shared {
	return e.shared
}

// State returns the last committed state. Safe from any goroutine.
func (e *Engine) State() light.State {
	return e.shared.State()
}

// Period returns the frame period.
func (e *Engine) Period() time.Duration {
	return e.period
}

// ApplyIntent queues an intent for the next tick without blocking.
func (e *Engine) ApplyIntent(in light.Intent) error {
	select {
	case e.intents <- in:
		return nil
	default:
		return ErrIntentQueueFull
	}
}

// ApplyConfig swaps output shaping and strip geometry on the next tick.
func (e *Engine) ApplyConfig(cfg light.LightConfig) error {
	select {
	case e.configs <- cfg:
		return nil
	default:
		return ErrConfigBusy
	}
}

// PendingOperations returns the queued operation count. Only valid on the engine goroutine.
func (e *Engine) PendingOperations() int {
	return e.ops.Len()
}

// Run ticks at the configured frame rate until ctx is cancelled, then blanks the strip.
// Deadlines advance by a fixed period from the previous deadline so jitter does not drift.
func (e *Engine) Run(ctx context.Context) error {
	origin := time.Now()
	deadline := origin
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	log.Info().
		Int("fps", e.opts.FrameRate).
		Int("leds", len(e.frame)).
		Str("mode", effect.Kind(e.state.ModeID).String()).
		Msg("Light engine started")

	for {
		e.Tick(time.Since(origin))

		now := time.Now()
		next, resynced := nextDeadline(deadline, now, e.period)
		if resynced {
			log.Debug().Dur("lag", now.Sub(deadline.Add(e.period))).Msg("Render loop fell behind, resyncing")
		}
		deadline = next
		timer.Reset(deadline.Sub(now))

		select {
		case <-ctx.Done():
			e.blank()
			log.Info().Msg("Light engine stopped")
			return nil
		case <-timer.C:
		}
	}
}

// nextDeadline schedules the frame after prev. It is prev+period regardless of
// when now is, unless the loop is more than maxLagFrames behind; then it restarts at now.
func nextDeadline(prev, now time.Time, period time.Duration) (time.Time, bool) {
	next := prev.Add(period)
	if now.Sub(next) > maxLagFrames*period {
		return now, true
	}
	return next, false
}

// Tick advances exactly one frame at now, measured from the engine's origin.
func (e *Engine) Tick(now time.Duration) {
	e.drainConfig()
	e.drainIntents()
	e.advance(now)
	e.render(now)
}

func (e *Engine) drainConfig() {
	select {
	case cfg := <-e.configs:
		e.configure(cfg)
		log.Info().
			Uint16("leds", cfg.LedCount).
			Uint8("brightness_min", cfg.BrightnessMin).
			Uint8("brightness_max", cfg.BrightnessMax).
			Str("correction", cfg.Correction.String()).
			Msg("Light config applied")
	default:
	}
}

func (e *Engine) configure(cfg light.LightConfig) {
	if cfg.LedCount == 0 {
		cfg.LedCount = light.DefaultLightConfig().LedCount
	}
	if cfg.BrightnessMax == 0 {
		cfg.BrightnessMax = 255
	}
	e.opts.Light = cfg
	if e.proc == nil {
		e.proc = processor.New(cfg.BrightnessMin, cfg.BrightnessMax, cfg.Correction)
	} else {
		e.proc.SetBounds(cfg.BrightnessMin, cfg.BrightnessMax)
		e.proc.SetCorrection(cfg.Correction)
	}
	if len(e.frame) != int(cfg.LedCount) {
		e.frame = make([]color.RGB, cfg.LedCount)
	}
}

func (e *Engine) drainIntents() {
	for {
		select {
		case in := <-e.intents:
			e.enqueue(in)
		default:
			return
		}
	}
}

// enqueue turns one intent into operations: mode, then color, then brightness, then power.
func (e *Engine) enqueue(in light.Intent) {
	t := e.opts.Timings
	if in.ModeID != nil {
		if _, ok := effect.FromID(*in.ModeID); ok {
			e.push(Operation{Kind: OpMode, Mode: *in.ModeID})
		} else {
			log.Warn().Uint8("mode", *in.ModeID).Msg("Ignoring unknown mode")
		}
	}
	switch {
	case in.Color != nil:
		e.push(Operation{Kind: OpColor, Color: *in.Color, Duration: t.ColorChange})
	case in.ColorTemperature != nil:
		k := color.ClampKelvin(*in.ColorTemperature)
		e.push(Operation{Kind: OpTemperature, Temperature: k, Duration: t.ColorChange})
	}
	if in.Brightness != nil {
		e.push(Operation{Kind: OpBrightness, Brightness: *in.Brightness, Duration: t.Brightness})
	}
	if in.Power != nil {
		if *in.Power {
			e.push(Operation{Kind: OpPowerOn, Duration: t.FadeIn})
		} else {
			e.push(Operation{Kind: OpPowerOff, Duration: t.FadeOut})
		}
	}
}

func (e *Engine) push(op Operation) {
	if !e.ops.Push(op) {
		log.Warn().
			Str("op", op.Kind.String()).
			Int("capacity", e.ops.Cap()).
			Msg("Operation queue full, dropping operation")
	}
}

// advance starts and commits operations in FIFO order. Instant operations
// cascade within one tick; the first unfinished transition stops the walk.
func (e *Engine) advance(now time.Duration) {
	for {
		op := e.ops.Head()
		if op == nil {
			return
		}
		if op.phase == Pending {
			e.start(op, now)
			op.phase = Transitioning
		}
		if !e.settled(op, now) {
			return
		}
		e.commit(op, now)
		op.phase = Committed
		e.ops.Pop()
	}
}

// start begins the operation's transition from whatever is displayed right now.
func (e *Engine) start(op *Operation, now time.Duration) {
	switch op.Kind {
	case OpMode:
	case OpColor:
		e.slot.SetColor(op.Color, op.Duration, now)
	case OpTemperature:
		e.slot.SetColor(color.FromTemperature(op.Temperature), op.Duration, now)
	case OpBrightness:
		if e.state.Power {
			e.proc.SetBrightness(op.Brightness, op.Duration, now)
		}
	case OpPowerOn:
		e.proc.SetBrightness(e.state.Brightness, op.Duration, now)
	case OpPowerOff:
		e.proc.SetBrightness(0, op.Duration, now)
	}
}

func (e *Engine) settled(op *Operation, now time.Duration) bool {
	switch op.Kind {
	case OpColor, OpTemperature:
		return e.slot.Settled(now)
	case OpBrightness, OpPowerOn, OpPowerOff:
		return e.proc.Envelope().Done(now)
	default:
		return true
	}
}

func (e *Engine) commit(op *Operation, now time.Duration) {
	prev := e.state
	switch op.Kind {
	case OpMode:
		e.state.ModeID = op.Mode
		e.slot = e.newSlot(op.Mode, now)
	case OpColor:
		e.state.Color = op.Color
		e.state.ColorMode = light.ColorModeRGB
	case OpTemperature:
		e.state.ColorTemperature = op.Temperature
		e.state.ColorMode = light.ColorModeTemperature
	case OpBrightness:
		e.state.Brightness = op.Brightness
	case OpPowerOn:
		e.state.Power = true
	case OpPowerOff:
		e.state.Power = false
	}
	if e.state == prev {
		return
	}
	e.shared.store(e.state)
	log.Debug().
		Str("op", op.Kind.String()).
		Bool("power", e.state.Power).
		Uint8("brightness", e.state.Brightness).
		Uint8("mode", e.state.ModeID).
		Msg("Operation committed")
	if e.opts.Listener != nil {
		e.opts.Listener(e.state)
	}
}

func (e *Engine) newSlot(id uint8, now time.Duration) effect.Slot {
	kind, ok := effect.FromID(id)
	if !ok {
		return effect.NewOff()
	}
	return effect.New(kind, e.state.EffectiveColor(), e.opts.RainbowCycle, now)
}

func (e *Engine) render(now time.Duration) {
	skip := int(e.opts.Light.SkipLeds)
	if skip > len(e.frame) {
		skip = len(e.frame)
	}
	color.Fill(e.frame[:skip], color.Black)
	e.slot.Render(e.frame[skip:], now)
	e.proc.Apply(e.frame, now)
	e.write()
}

func (e *Engine) blank() {
	color.Fill(e.frame, color.Black)
	e.write()
}

func (e *Engine) write() {
	if e.sink == nil {
		return
	}
	if err := e.sink.Write(e.frame); err != nil && e.sinkErrors.Allow() {
		log.Warn().Err(err).Msg("LED sink write failed, dropping frame")
	}
}
