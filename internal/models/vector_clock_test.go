package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVectorClockIncrementAndMerge(t *testing.T) {
	vc := NewVectorClock("alice")
	assert.Equal(t, uint64(2), vc.Increment("alice"))
	assert.Equal(t, uint64(1), vc.Increment("bob"))
	assert.Equal(t, uint64(0), vc.Get("carol"))

	other := VectorClock{"alice": 1, "carol": 4}
	vc.Merge(other)
	assert.Equal(t, VectorClock{"alice": 2, "bob": 1, "carol": 4}, vc)
}

func TestVectorClockOrdering(t *testing.T) {
	a := VectorClock{"alice": 2, "bob": 1}
	b := VectorClock{"alice": 1}
	c := VectorClock{"bob": 2}

	assert.True(t, a.Dominates(b))
	assert.False(t, b.Dominates(a))
	assert.True(t, a.Concurrent(c))
	assert.False(t, a.Concurrent(b))

	clone := a.Clone()
	clone.Increment("alice")
	assert.Equal(t, uint64(2), a.Get("alice"))
}
