package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_FanOut(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	ch1, cancel1 := bus.Subscribe(8)
	defer cancel1()
	ch2, cancel2 := bus.Subscribe(8)
	defer cancel2()

	bus.Emit(Event{Type: TypeToolStart, CallID: "call-1"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			assert.Equal(t, TypeToolStart, e.Type)
			assert.Equal(t, "call-1", e.CallID)
			assert.EqualValues(t, 1, e.Seq)
			assert.False(t, e.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBus_SequenceIsMonotonic(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	ch, cancel := bus.Subscribe(16)
	defer cancel()

	for i := 0; i < 5; i++ {
		bus.Emit(Event{Type: TypeToolEnd})
	}

	var last int64
	for i := 0; i < 5; i++ {
		e := <-ch
		require.Greater(t, e.Seq, last)
		last = e.Seq
	}
}

func TestBus_SlowSubscriberDropsWithoutBlocking(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Nobody is reading; the second emit must not block.
		bus.Emit(Event{Type: TypeToolStart})
		bus.Emit(Event{Type: TypeToolStart})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}

	assert.Len(t, ch, 1)
}

func TestBus_CancelRemovesSubscriber(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	ch, cancel := bus.Subscribe(4)
	require.Equal(t, 1, bus.SubscriberCount())

	cancel()
	assert.Equal(t, 0, bus.SubscriberCount())

	// Channel is closed; a cancelled consumer's range loop terminates.
	_, open := <-ch
	assert.False(t, open)

	// Cancel is idempotent.
	cancel()
}

func TestBus_EmitAfterCancelIsSafe(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	_, cancel := bus.Subscribe(4)
	cancel()

	bus.Emit(Event{Type: TypeConfirmation})
}
