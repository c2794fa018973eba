package models

// VectorClock keeps a monotonically increasing counter per author.
type VectorClock map[string]uint64

// NewVectorClock seeds a clock with a single author at 1.
func NewVectorClock(author string) VectorClock {
	return VectorClock{author: 1}
}

// Increment bumps the author's counter, creating it at 1 when absent.
func (vc VectorClock) Increment(author string) uint64 {
	vc[author]++
	return vc[author]
}

// Get returns the counter for author (0 when unknown).
func (vc VectorClock) Get(author string) uint64 {
	return vc[author]
}

// Merge takes the element-wise maximum of both clocks into the receiver.
func (vc VectorClock) Merge(other VectorClock) {
	for author, value := range other {
		if current, ok := vc[author]; !ok || value > current {
			vc[author] = value
		}
	}
}

// Clone returns a deep copy of the clock.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for author, value := range vc {
		out[author] = value
	}
	return out
}

// Dominates reports whether the receiver has observed every event in other.
func (vc VectorClock) Dominates(other VectorClock) bool {
	for author, value := range other {
		if vc[author] < value {
			return false
		}
	}
	return true
}

// Concurrent reports whether neither clock dominates the other.
func (vc VectorClock) Concurrent(other VectorClock) bool {
	return !vc.Dominates(other) && !other.Dominates(vc)
}
