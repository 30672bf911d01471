package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestCalculateNextBackoff tests the exponential backoff calculation with jitter
func TestCalculateNextBackoff(t *testing.T) {
	tests := []struct {
		name         string
		current      time.Duration
		max          time.Duration
		factor       float64
		jitterFactor float64
		expectMin    time.Duration
		expectMax    time.Duration
	}{
		{
			name:         "initial backoff doubles",
			current:      1 * time.Second,
			max:          30 * time.Second,
			factor:       2.0,
			jitterFactor: 0.1,
			expectMin:    1800 * time.Millisecond, // 2s - 10% jitter
			expectMax:    2200 * time.Millisecond, // 2s + 10% jitter
		},
		{
			name:         "respects maximum",
			current:      20 * time.Second,
			max:          30 * time.Second,
			factor:       2.0,
			jitterFactor: 0.1,
			expectMin:    27 * time.Second, // 30s - 10% jitter
			expectMax:    30 * time.Second, // capped at max
		},
		{
			name:         "no jitter produces exact value",
			current:      5 * time.Second,
			max:          30 * time.Second,
			factor:       2.0,
			jitterFactor: 0.0,
			expectMin:    10 * time.Second, // exactly 2x
			expectMax:    10 * time.Second, // exactly 2x
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Run multiple times to account for randomness in jitter
			for i := 0; i < 10; i++ {
				result := CalculateNextBackoff(tt.current, tt.max, tt.factor, tt.jitterFactor)
				assert.GreaterOrEqual(t, result, tt.expectMin, "backoff should be >= minimum")
				assert.LessOrEqual(t, result, tt.expectMax, "backoff should be <= maximum")
			}
		})
	}
}

// TestClientSubscriptions tests the subscription tracking logic
func TestClientSubscriptions(t *testing.T) {
	t.Run("subscribe and check", func(t *testing.T) {
		subs := NewClientSubscriptions()

		subs.Subscribe("c000001")
		assert.True(t, subs.IsSubscribed("c000001"))
		assert.False(t, subs.IsSubscribed("c000002"))
	})

	t.Run("wildcard subscription", func(t *testing.T) {
		subs := NewClientSubscriptions()

		subs.Subscribe("*")
		assert.True(t, subs.IsSubscribed("*"))
		assert.True(t, subs.IsSubscribed("c000001"))
		assert.True(t, subs.IsSubscribed("c000042"))
	})

	t.Run("unsubscribe", func(t *testing.T) {
		subs := NewClientSubscriptions()

		subs.Subscribe("c000001")
		assert.True(t, subs.IsSubscribed("c000001"))

		subs.Unsubscribe("c000001")
		assert.False(t, subs.IsSubscribed("c000001"))
	})

	t.Run("concurrent access", func(t *testing.T) {
		subs := NewClientSubscriptions()
		done := make(chan bool)

		go func() {
			for i := 0; i < 100; i++ {
				subs.Subscribe("c000001")
			}
			done <- true
		}()

		go func() {
			for i := 0; i < 100; i++ {
				subs.Unsubscribe("c000001")
			}
			done <- true
		}()

		go func() {
			for i := 0; i < 100; i++ {
				_ = subs.IsSubscribed("c000001")
			}
			done <- true
		}()

		<-done
		<-done
		<-done
	})
}
