package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dokzlo13/stripd/internal/color"
	"github.com/dokzlo13/stripd/internal/effect"
	"github.com/dokzlo13/stripd/internal/light"
)

type recordingSink struct {
	mu     sync.Mutex
	last   []color.RGB
	frames int
	err    error
}

func (s *recordingSink) Write(frame []color.RGB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = append(s.last[:0], frame...)
	s.frames++
	return s.err
}

func (s *recordingSink) Last() []color.RGB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]color.RGB(nil), s.last...)
}

func (s *recordingSink) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func staticWhite() light.State {
	s := light.DefaultState()
	s.ModeID = uint8(effect.Static)
	return s
}

func testOptions() Options {
	cfg := light.DefaultLightConfig()
	cfg.LedCount = 8
	return Options{
		Light: cfg,
		Timings: Timings{
			FadeIn:      300 * time.Millisecond,
			FadeOut:     300 * time.Millisecond,
			ColorChange: 200 * time.Millisecond,
			Brightness:  300 * time.Millisecond,
		},
	}
}

// settled returns an engine that finished its boot fade and the time it reached.
func settled(t *testing.T, initial light.State, opts Options) (*Engine, *recordingSink, time.Duration) {
	t.Helper()
	sink := &recordingSink{}
	e := New(initial, sink, opts)
	now := time.Second
	e.Tick(now)
	require.Equal(t, 0, e.PendingOperations())
	return e, sink, now
}

func TestBootFadesIn(t *testing.T) {
	sink := &recordingSink{}
	e := New(staticWhite(), sink, testOptions())

	e.Tick(0)
	require.Equal(t, color.Black, sink.Last()[0])

	e.Tick(150 * time.Millisecond)
	mid := sink.Last()[0]
	require.Greater(t, mid.R, uint8(0))
	require.Less(t, mid.R, uint8(255))

	e.Tick(300 * time.Millisecond)
	require.Equal(t, color.White, sink.Last()[0])
}

func TestBootOffStaysDark(t *testing.T) {
	s := staticWhite()
	s.Power = false
	e, sink, _ := settled(t, s, testOptions())
	require.False(t, e.Shared().IsOn())
	require.Equal(t, color.Black, sink.Last()[0])
}

func TestPowerOffRampKeepsTargetBrightness(t *testing.T) {
	e, sink, now := settled(t, staticWhite(), testOptions())
	require.NoError(t, e.ApplyIntent(light.Intent{}.WithPower(false)))

	prev := uint8(255)
	ticks := 0
	for e.Shared().IsOn() {
		require.Less(t, ticks, 40, "power-off never committed")
		e.Tick(now)
		ticks++

		shown := sink.Last()[0].R
		require.LessOrEqual(t, shown, prev, "envelope must fall monotonically")
		prev = shown
		require.Equal(t, uint8(255), e.Shared().Brightness(), "target brightness is preserved")
		if e.Shared().IsOn() {
			now += e.Period()
		}
	}

	require.InDelta(t, 27, ticks, 3)
	require.Equal(t, uint8(0), sink.Last()[0].R)
	require.Equal(t, uint8(255), e.Shared().Brightness())
}

func TestPowerCycleRestoresBrightness(t *testing.T) {
	e, _, now := settled(t, staticWhite(), testOptions())

	require.NoError(t, e.ApplyIntent(light.Intent{}.WithBrightness(200)))
	now = tickFor(e, now, time.Second)
	require.Equal(t, uint8(200), e.Shared().Brightness())

	require.NoError(t, e.ApplyIntent(light.Intent{}.WithPower(false)))
	now = tickFor(e, now, time.Second)
	require.False(t, e.Shared().IsOn())
	require.Equal(t, uint8(0), e.proc.Envelope().Current(now))

	require.NoError(t, e.ApplyIntent(light.Intent{}.WithPower(true)))
	now = tickFor(e, now, time.Second)
	require.True(t, e.Shared().IsOn())
	require.Equal(t, uint8(200), e.proc.Envelope().Current(now))
	require.Equal(t, uint8(200), e.Shared().Brightness())
}

func TestBrightnessWhileOffIsRemembered(t *testing.T) {
	s := staticWhite()
	s.Power = false
	e, _, now := settled(t, s, testOptions())

	require.NoError(t, e.ApplyIntent(light.Intent{}.WithBrightness(90)))
	e.Tick(now)
	require.Equal(t, uint8(90), e.Shared().Brightness())
	require.Equal(t, uint8(0), e.proc.Envelope().Current(now))

	require.NoError(t, e.ApplyIntent(light.Intent{}.WithPower(true)))
	now = tickFor(e, now, time.Second)
	require.Equal(t, uint8(90), e.proc.Envelope().Current(now))
}

func TestDuplicateIntentsCoalesce(t *testing.T) {
	e, _, now := settled(t, staticWhite(), testOptions())

	require.NoError(t, e.ApplyIntent(light.Intent{}.WithBrightness(128)))
	require.NoError(t, e.ApplyIntent(light.Intent{}.WithBrightness(128)))
	e.Tick(now)
	require.Equal(t, 1, e.PendingOperations())

	now = tickFor(e, now, time.Second)
	require.Equal(t, uint8(128), e.Shared().Brightness())
	require.Equal(t, uint8(128), e.proc.Envelope().Current(now))
	require.Equal(t, 0, e.PendingOperations())
}

func TestSameKindOperationsQueueWithoutPreemption(t *testing.T) {
	e, _, now := settled(t, staticWhite(), testOptions())

	require.NoError(t, e.ApplyIntent(light.Intent{}.WithBrightness(100)))
	e.Tick(now)
	now += e.Period()
	require.NoError(t, e.ApplyIntent(light.Intent{}.WithBrightness(50)))
	e.Tick(now)

	require.Equal(t, 2, e.PendingOperations())
	require.Equal(t, uint8(100), e.proc.Envelope().Target(), "in-flight ramp is not pre-empted")

	now += 300 * time.Millisecond
	e.Tick(now)
	require.Equal(t, uint8(100), e.Shared().Brightness())
	require.Equal(t, uint8(50), e.proc.Envelope().Target())

	now = tickFor(e, now, time.Second)
	require.Equal(t, uint8(50), e.Shared().Brightness())
}

func TestModeSwitchIsInstant(t *testing.T) {
	var commits []light.State
	opts := testOptions()
	opts.Listener = func(s light.State) { commits = append(commits, s) }
	e, _, now := settled(t, staticWhite(), opts)

	require.NoError(t, e.ApplyIntent(light.Intent{}.WithMode(uint8(effect.RainbowFlow))))
	e.Tick(now)

	require.Equal(t, uint8(effect.RainbowFlow), e.Shared().EffectID())
	require.Equal(t, effect.RainbowFlow, e.slot.Kind())
	require.Equal(t, 0, e.PendingOperations())
	require.Len(t, commits, 1)
	require.Equal(t, uint8(effect.RainbowFlow), commits[0].ModeID)
}

func TestUnknownModeIsIgnored(t *testing.T) {
	var commits int
	opts := testOptions()
	opts.Listener = func(light.State) { commits++ }
	e, _, now := settled(t, staticWhite(), opts)
	before := e.Shared().State()

	require.NoError(t, e.ApplyIntent(light.Intent{}.WithMode(42)))
	e.Tick(now)

	require.Equal(t, before, e.Shared().State())
	require.Equal(t, 0, e.PendingOperations())
	require.Zero(t, commits)
}

func TestUnknownInitialModeFallsBack(t *testing.T) {
	s := staticWhite()
	s.ModeID = 77
	e := New(s, nil, testOptions())
	require.Equal(t, light.DefaultState().ModeID, e.Shared().EffectID())
}

func TestColorChangeAnimatesThenCommits(t *testing.T) {
	e, sink, now := settled(t, staticWhite(), testOptions())

	red := color.RGB{R: 255}
	require.NoError(t, e.ApplyIntent(light.Intent{}.WithColor(red)))
	e.Tick(now)
	require.Equal(t, color.White, e.Shared().RGB(), "commit happens when the blend finishes")

	now += 100 * time.Millisecond
	e.Tick(now)
	mid := sink.Last()[0]
	require.NotEqual(t, color.White, mid)
	require.NotEqual(t, red, mid)

	now += 100 * time.Millisecond
	e.Tick(now)
	require.Equal(t, red, e.Shared().RGB())
	require.Equal(t, red, sink.Last()[0])
	require.Equal(t, light.ColorModeRGB, e.Shared().ColorMode())
}

func TestColorTemperatureSwitchesMode(t *testing.T) {
	e, sink, now := settled(t, staticWhite(), testOptions())

	require.NoError(t, e.ApplyIntent(light.Intent{}.WithColorTemperature(9000)))
	now = tickFor(e, now, time.Second)

	require.Equal(t, light.ColorModeTemperature, e.Shared().ColorMode())
	require.Equal(t, color.MaxKelvin, e.Shared().ColorTemperature())
	require.Equal(t, color.FromTemperature(color.MaxKelvin), sink.Last()[0])
}

func TestColorInRainbowCommitsImmediately(t *testing.T) {
	s := light.DefaultState()
	e, sink, now := settled(t, s, testOptions())

	blue := color.RGB{B: 255}
	require.NoError(t, e.ApplyIntent(light.Intent{}.WithColor(blue)))
	e.Tick(now)
	require.Equal(t, blue, e.Shared().RGB())

	require.NoError(t, e.ApplyIntent(light.Intent{}.WithMode(uint8(effect.Static))))
	e.Tick(now + e.Period())
	require.Equal(t, effect.Static, e.slot.Kind())
	require.Equal(t, blue, sink.Last()[0])
}

func TestOperationOverflowDrops(t *testing.T) {
	opts := testOptions()
	opts.IntentQueue = 32
	e, _, now := settled(t, staticWhite(), opts)

	for i := 0; i < 5; i++ {
		in := light.Intent{}.
			WithColor(color.RGB{R: uint8(i)}).
			WithBrightness(uint8(10 + i)).
			WithPower(i%2 == 0)
		require.NoError(t, e.ApplyIntent(in))
	}
	e.Tick(now)
	require.Equal(t, DefaultOperationQueue, e.PendingOperations())
}

func TestIntentQueueFull(t *testing.T) {
	e := New(staticWhite(), nil, testOptions())
	for i := 0; i < DefaultIntentQueue; i++ {
		require.NoError(t, e.ApplyIntent(light.Intent{}.WithBrightness(uint8(i))))
	}
	require.ErrorIs(t, e.ApplyIntent(light.Intent{}.WithBrightness(1)), ErrIntentQueueFull)
}

func TestSkipLedsStayDark(t *testing.T) {
	opts := testOptions()
	opts.Light.SkipLeds = 3
	_, sink, _ := settled(t, staticWhite(), opts)

	frame := sink.Last()
	require.Len(t, frame, 8)
	for i := 0; i < 3; i++ {
		require.Equal(t, color.Black, frame[i])
	}
	require.Equal(t, color.White, frame[3])
}

func TestApplyConfig(t *testing.T) {
	e, sink, now := settled(t, staticWhite(), testOptions())

	cfg := light.DefaultLightConfig()
	cfg.LedCount = 4
	cfg.Correction = color.RGB{R: 255, G: 128, B: 255}
	require.NoError(t, e.ApplyConfig(cfg))
	require.ErrorIs(t, e.ApplyConfig(cfg), ErrConfigBusy)

	e.Tick(now)
	frame := sink.Last()
	require.Len(t, frame, 4)
	require.Equal(t, color.RGB{R: 255, G: 127, B: 255}, frame[0])
}

func TestSinkErrorsAreSwallowed(t *testing.T) {
	sink := &recordingSink{err: errors.New("spi timeout")}
	e := New(staticWhite(), sink, testOptions())
	for i := 0; i < 5; i++ {
		e.Tick(time.Duration(i) * e.Period())
	}
	require.Equal(t, 5, sink.Frames())
}

func TestSharedToleratesConcurrentReaders(t *testing.T) {
	e, _, now := settled(t, staticWhite(), testOptions())
	valid := map[uint8]bool{255: true, 40: true, 200: true}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			// Fields are checked one by one; combinations may be torn.
			assert.True(t, valid[e.Shared().Brightness()])
			_ = e.Shared().State()
		}
	}()

	for _, b := range []uint8{40, 200, 40, 200} {
		require.NoError(t, e.ApplyIntent(light.Intent{}.WithBrightness(b).WithPower(b == 200)))
		now = tickFor(e, now, time.Second)
	}
	cancel()
	wg.Wait()
}

func TestRunStopsAndBlanks(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &recordingSink{}
	opts := testOptions()
	opts.FrameRate = 200
	e := New(staticWhite(), sink, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.Frames() > 5 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.Equal(t, color.Black, sink.Last()[0])
}

// tickFor ticks at the frame rate for d and returns the final time.
func tickFor(e *Engine, now, d time.Duration) time.Duration {
	end := now + d
	for now < end {
		now += e.Period()
		e.Tick(now)
	}
	return now
}

func TestNextDeadline(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	period := 10 * time.Millisecond

	tests := []struct {
		name     string
		now      time.Duration
		want     time.Duration
		resynced bool
	}{
		{name: "on time", now: 0, want: 10 * time.Millisecond},
		{name: "late tick keeps the grid", now: 7 * time.Millisecond, want: 10 * time.Millisecond},
		{name: "past the deadline still no drift", now: 35 * time.Millisecond, want: 10 * time.Millisecond},
		{name: "lag at the limit", now: 110 * time.Millisecond, want: 10 * time.Millisecond},
		{name: "lag beyond the limit resyncs", now: 111 * time.Millisecond, want: 111 * time.Millisecond, resynced: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, resynced := nextDeadline(base, base.Add(tt.now), period)
			assert.Equal(t, base.Add(tt.want), got)
			assert.Equal(t, tt.resynced, resynced)
		})
	}
}

func TestNextDeadlineDoesNotAccumulateJitter(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	period := 20 * time.Millisecond

	deadline := base
	for i := 0; i < 100; i++ {
		// Every wakeup arrives 3ms after its deadline.
		now := deadline.Add(3 * time.Millisecond)
		deadline, _ = nextDeadline(deadline, now, period)
	}
	assert.Equal(t, base.Add(100*period), deadline)
}
