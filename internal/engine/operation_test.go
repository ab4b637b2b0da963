package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOperationQueueFIFO(t *testing.T) {
	q := NewOperationQueue(3)
	require.Nil(t, q.Head())

	require.True(t, q.Push(Operation{Kind: OpBrightness, Brightness: 1}))
	require.True(t, q.Push(Operation{Kind: OpBrightness, Brightness: 2}))
	require.True(t, q.Push(Operation{Kind: OpBrightness, Brightness: 3}))
	require.False(t, q.Push(Operation{Kind: OpBrightness, Brightness: 4}), "full queue drops new operation")
	require.Equal(t, 3, q.Len())

	for _, want := range []uint8{1, 2, 3} {
		require.Equal(t, want, q.Head().Brightness)
		q.Pop()
	}
	require.Equal(t, 0, q.Len())
	q.Pop()
}

func TestOperationQueueWrapsAround(t *testing.T) {
	q := NewOperationQueue(2)
	for i := uint8(0); i < 10; i++ {
		require.True(t, q.Push(Operation{Kind: OpBrightness, Brightness: i}))
		require.Equal(t, i, q.Head().Brightness)
		q.Pop()
	}
}

func TestOperationQueueCoalescesIdenticalTail(t *testing.T) {
	for _, tt := range []struct {
		name string
		a, b Operation
		want int
	}{
		{
			name: "same brightness",
			a:    Operation{Kind: OpBrightness, Brightness: 128},
			b:    Operation{Kind: OpBrightness, Brightness: 128},
			want: 1,
		},
		{
			name: "different brightness",
			a:    Operation{Kind: OpBrightness, Brightness: 128},
			b:    Operation{Kind: OpBrightness, Brightness: 64},
			want: 2,
		},
		{
			name: "repeated power off",
			a:    Operation{Kind: OpPowerOff},
			b:    Operation{Kind: OpPowerOff},
			want: 1,
		},
		{
			name: "different kinds",
			a:    Operation{Kind: OpPowerOff},
			b:    Operation{Kind: OpPowerOn},
			want: 2,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			q := NewOperationQueue(4)
			q.Push(tt.a)
			q.Push(tt.b)
			require.Equal(t, tt.want, q.Len())
		})
	}
}

func TestNewOperationQueueDefaultCapacity(t *testing.T) {
	require.Equal(t, DefaultOperationQueue, NewOperationQueue(0).Cap())
}
