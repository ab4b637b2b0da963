package effect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/stripd/internal/color"
)

func TestFromID(t *testing.T) {
	for _, tt := range []struct {
		name string
		id   uint8
		want Kind
		ok   bool
	}{
		{name: "static", id: 0, want: Static, ok: true},
		{name: "rainbow", id: 1, want: Rainbow, ok: true},
		{name: "rainbow flow", id: 2, want: RainbowFlow, ok: true},
		{name: "unknown", id: 3, want: Off, ok: false},
		{name: "off is not addressable", id: 0xFF, want: Off, ok: false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FromID(tt.id)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseName(t *testing.T) {
	k, ok := ParseName("rainbow_flow")
	require.True(t, ok)
	require.Equal(t, RainbowFlow, k)

	_, ok = ParseName("off")
	require.False(t, ok)
	_, ok = ParseName("strobe")
	require.False(t, ok)

	require.Equal(t, []string{"static", "rainbow", "rainbow_flow"}, Names())
}

func TestStaticRendersColorAndAnimates(t *testing.T) {
	frame := make([]color.RGB, 8)
	s := New(Static, color.RGB{R: 255}, 0, 0)
	s.Render(frame, 0)
	for _, px := range frame {
		require.Equal(t, color.RGB{R: 255}, px)
	}

	require.True(t, s.SetColor(color.RGB{B: 255}, 200*time.Millisecond, 0))
	require.False(t, s.Settled(100*time.Millisecond))

	s.Render(frame, 100*time.Millisecond)
	require.NotZero(t, frame[0].R)
	require.NotZero(t, frame[0].B)

	require.True(t, s.Settled(200*time.Millisecond))
	s.Render(frame, 200*time.Millisecond)
	require.Equal(t, color.RGB{B: 255}, frame[7])
}

func TestRainbowIgnoresSetColor(t *testing.T) {
	s := New(Rainbow, color.White, time.Second, 0)
	require.False(t, s.SetColor(color.Black, time.Second, 0))
	require.True(t, s.Settled(0))
}

func TestRainbowCycles(t *testing.T) {
	frame := make([]color.RGB, 4)
	s := New(Rainbow, color.White, 12*time.Second, 0)

	s.Render(frame, 0)
	require.Equal(t, color.Hue(0), frame[0])
	require.Equal(t, color.Hue(64), frame[1])

	s.Render(frame, 6*time.Second)
	require.Equal(t, color.Hue(128), frame[0])

	s.Render(frame, 12*time.Second)
	require.Equal(t, color.Hue(0), frame[0])
}

func TestResetRezerosPhase(t *testing.T) {
	frame := make([]color.RGB, 1)
	s := New(Rainbow, color.White, 12*time.Second, 0)
	s.Reset(3 * time.Second)
	s.Render(frame, 3*time.Second)
	require.Equal(t, color.Hue(0), frame[0])
}

func TestRainbowFlowIsSymmetric(t *testing.T) {
	for _, n := range []int{1, 7, 30, 31} {
		frame := make([]color.RGB, n)
		s := New(RainbowFlow, color.White, 12*time.Second, 0)
		s.Render(frame, 2500*time.Millisecond)
		for i := 0; i < n; i++ {
			require.Equal(t, frame[i], frame[n-1-i], "n=%d i=%d", n, i)
		}
	}
}

func TestOffRendersBlack(t *testing.T) {
	frame := []color.RGB{color.White, color.White}
	s := NewOff()
	s.Render(frame, time.Second)
	require.Equal(t, []color.RGB{color.Black, color.Black}, frame)
}
