package engine

import (
	"fmt"
	"time"

	"github.com/dokzlo13/stripd/internal/color"
)

// OpKind identifies what an operation changes.
type OpKind uint8

const (
	OpMode OpKind = iota
	OpColor
	OpTemperature
	OpBrightness
	OpPowerOn
	OpPowerOff
)

func (k OpKind) String() string {
	switch k {
	case OpMode:
		return "mode"
	case OpColor:
		return "color"
	case OpTemperature:
		return "temperature"
	case OpBrightness:
		return "brightness"
	case OpPowerOn:
		return "power_on"
	case OpPowerOff:
		return "power_off"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// Phase is an operation's position in its lifecycle. Committed operations are popped.
type Phase uint8

const (
	Pending Phase = iota
	Transitioning
	Committed
)

// Operation is one queued state change and the time its transition takes.
type Operation struct {
	Kind        OpKind
	Mode        uint8
	Color       color.RGB
	Temperature uint16
	Brightness  uint8
	Duration    time.Duration

	phase Phase
}

// Phase returns where the operation is in its lifecycle.
func (o *Operation) Phase() Phase {
	return o.phase
}

// sameTarget reports whether two operations would leave the light in the same place.
func (o *Operation) sameTarget(other *Operation) bool {
	if o.Kind != other.Kind {
		return false
	}
	switch o.Kind {
	case OpMode:
		return o.Mode == other.Mode
	case OpColor:
		return o.Color == other.Color
	case OpTemperature:
		return o.Temperature == other.Temperature
	case OpBrightness:
		return o.Brightness == other.Brightness
	default:
		return true
	}
}

// OperationQueue is a fixed-capacity FIFO ring. It never grows.
type OperationQueue struct {
	ops  []Operation
	head int
	size int
}

// NewOperationQueue creates a queue holding at most capacity operations.
func NewOperationQueue(capacity int) *OperationQueue {
	if capacity <= 0 {
		capacity = DefaultOperationQueue
	}
	return &OperationQueue{ops: make([]Operation, capacity)}
}

// Push appends op. An operation identical to the current tail is coalesced.
// It returns false when the queue is full and op was dropped.
func (q *OperationQueue) Push(op Operation) bool {
	if tail := q.Tail(); tail != nil && tail.sameTarget(&op) {
		return true
	}
	if q.size == len(q.ops) {
		return false
	}
	op.phase = Pending
	q.ops[(q.head+q.size)%len(q.ops)] = op
	q.size++
	return true
}

// Head returns the oldest operation or nil.
func (q *OperationQueue) Head() *Operation {
	if q.size == 0 {
		return nil
	}
	return &q.ops[q.head]
}

// Tail returns the newest operation or nil.
func (q *OperationQueue) Tail() *Operation {
	if q.size == 0 {
		return nil
	}
	return &q.ops[(q.head+q.size-1)%len(q.ops)]
}

// Pop removes the head.
func (q *OperationQueue) Pop() {
	if q.size == 0 {
		return
	}
	q.ops[q.head] = Operation{}
	q.head = (q.head + 1) % len(q.ops)
	q.size--
}

// Len returns the number of queued operations.
func (q *OperationQueue) Len() int {
	return q.size
}

// Cap returns the queue capacity.
func (q *OperationQueue) Cap() int {
	return len(q.ops)
}
