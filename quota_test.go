package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuotaAdmitRelease(t *testing.T) {
	q := NewConnQuota(10)

	assert.True(t, q.Admit("1.2.3.4", "repo-1-a.ts"))
	assert.Equal(t, 1, q.Count("1.2.3.4", "repo-1-a.ts"))

	q.Release("1.2.3.4", "repo-1-a.ts")
	assert.Equal(t, 0, q.Count("1.2.3.4", "repo-1-a.ts"))
}

func TestQuotaCap(t *testing.T) {
	q := NewConnQuota(10)
	for i := 0; i < 10; i++ {
		assert.True(t, q.Admit("1.2.3.4", "repo-1-a.ts"), "admission %d", i+1)
	}
	// The 11th is refused and the counter is unchanged.
	assert.False(t, q.Admit("1.2.3.4", "repo-1-a.ts"))
	assert.Equal(t, 10, q.Count("1.2.3.4", "repo-1-a.ts"))

	// Other IPs and other rooms are unaffected.
	assert.True(t, q.Admit("5.6.7.8", "repo-1-a.ts"))
	assert.True(t, q.Admit("1.2.3.4", "repo-2-b.ts"))
}

func TestQuotaReleaseUnknownIsNoop(t *testing.T) {
	q := NewConnQuota(10)
	q.Release("1.2.3.4", "repo-1-a.ts")
	assert.Equal(t, 0, q.Count("1.2.3.4", "repo-1-a.ts"))
}

func TestQuotaReset(t *testing.T) {
	q := NewConnQuota(10)
	q.Admit("1.2.3.4", "repo-1-a.ts")
	q.Admit("5.6.7.8", "repo-2-b.ts")

	q.Reset()
	assert.Equal(t, 0, q.Count("1.2.3.4", "repo-1-a.ts"))
	assert.Equal(t, 0, q.Count("5.6.7.8", "repo-2-b.ts"))
	assert.True(t, q.Admit("1.2.3.4", "repo-1-a.ts"))
}
