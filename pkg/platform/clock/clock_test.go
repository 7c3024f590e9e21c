package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("fires timers in deadline order once reached", func(t *testing.T) {
		c := NewFake(start)
		var fired []string
		c.AfterFunc(2*time.Second, func() { fired = append(fired, "late") })
		c.AfterFunc(time.Second, func() { fired = append(fired, "early") })

		c.Advance(500 * time.Millisecond)
		assert.Empty(t, fired)
		assert.Equal(t, 2, c.Pending())

		c.Advance(2 * time.Second)
		assert.Equal(t, []string{"early", "late"}, fired)
		assert.Equal(t, start.Add(2500*time.Millisecond), c.Now())
		assert.Zero(t, c.Pending())
	})

	t.Run("stopped timers never fire", func(t *testing.T) {
		c := NewFake(start)
		called := false
		timer := c.AfterFunc(time.Second, func() { called = true })

		assert.True(t, timer.Stop())
		assert.False(t, timer.Stop())
		c.Advance(time.Minute)
		assert.False(t, called)
	})

	t.Run("non-positive delay runs immediately", func(t *testing.T) {
		c := NewFake(start)
		called := false
		timer := c.AfterFunc(0, func() { called = true })
		assert.True(t, called)
		assert.False(t, timer.Stop())
	})
}
