package broadcast

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func drain(sub *Subscription) []string {
	var out []string
	for ev := range sub.C {
		out = append(out, ev.Text)
	}
	return out
}

func TestChannel_EverySubscriberGetsEveryEventInOrder(t *testing.T) {
	c := NewChannel(8, zerolog.Nop())
	a := c.Subscribe()
	b := c.Subscribe()

	assert.Equal(t, 2, c.Publish("one"))
	assert.Equal(t, 2, c.Publish("two"))
	assert.Equal(t, 2, c.Publish("three"))

	c.Unsubscribe(a)
	c.Unsubscribe(b)

	want := []string{"one", "two", "three"}
	assert.Equal(t, want, drain(a))
	assert.Equal(t, want, drain(b))
}

func TestChannel_SlowSubscriberDropsWithoutBlockingOthers(t *testing.T) {
	c := NewChannel(1, zerolog.Nop())
	slow := c.Subscribe()
	fast := c.Subscribe()

	var got []string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range fast.C {
			got = append(got, ev.Text)
		}
	}()

	c.Publish("first")
	delivered := c.Publish("second")
	assert.GreaterOrEqual(t, delivered, 0)

	c.Unsubscribe(fast)
	wg.Wait()
	c.Unsubscribe(slow)

	assert.Equal(t, []string{"first"}, drain(slow))
	require.NotEmpty(t, got)
	assert.Equal(t, "first", got[0])
}

func TestChannel_UnsubscribeClosesAndIsIdempotent(t *testing.T) {
	c := NewChannel(4, zerolog.Nop())
	sub := c.Subscribe()
	require.Equal(t, 1, c.Len())

	c.Unsubscribe(sub)
	c.Unsubscribe(sub)
	c.Unsubscribe(nil)

	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.Publish("nobody listening"))
}

func TestChannel_Close(t *testing.T) {
	c := NewChannel(4, zerolog.Nop())
	a := c.Subscribe()
	c.Publish("bye")

	c.Close()
	c.Close()

	assert.Equal(t, []string{"bye"}, drain(a))
	assert.Equal(t, 0, c.Publish("ignored"))

	late := c.Subscribe()
	_, ok := <-late.C
	assert.False(t, ok)
}

func TestChannel_ConcurrentPublishAndSubscribe(t *testing.T) {
	c := NewChannel(64, zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := c.Subscribe()
			c.Publish("hello")
			c.Unsubscribe(sub)
			drain(sub)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, c.Len())
}
