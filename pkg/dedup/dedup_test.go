package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldProcess(t *testing.T) {
	d := New(time.Minute, 100)

	assert.True(t, d.ShouldProcess("7", false), "first delivery")
	assert.False(t, d.ShouldProcess("7", true), "redelivery of a seen id")
	assert.True(t, d.ShouldProcess("7", false), "recycled id without DUP flag")
	assert.True(t, d.ShouldProcess("8", true), "redelivery of an unseen id")
}

func TestShouldProcessEmptyID(t *testing.T) {
	d := New(time.Minute, 100)
	for i := 0; i < 3; i++ {
		assert.True(t, d.ShouldProcess("", true))
	}
	assert.Equal(t, 0, d.Len())
}

func TestShouldProcessExpiry(t *testing.T) {
	d := New(time.Second, 100)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }

	assert.True(t, d.ShouldProcess("1", false))
	clock = clock.Add(2 * time.Second)
	assert.True(t, d.ShouldProcess("1", true), "expired entries no longer suppress")
}

func TestShouldProcessPrunesExpired(t *testing.T) {
	d := New(time.Second, 2)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }

	d.ShouldProcess("1", false)
	d.ShouldProcess("2", false)
	clock = clock.Add(5 * time.Second)
	d.ShouldProcess("3", false)

	assert.LessOrEqual(t, d.Len(), 2)
}

func TestNewDefaults(t *testing.T) {
	d := New(0, 0)
	assert.Equal(t, 30*time.Second, d.ttl)
	assert.Equal(t, 10000, d.max)
}
