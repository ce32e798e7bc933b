package rl

import (
	"golang.org/x/exp/rand"
)

// Sample is one transition: the agent took Action in State, got Reward and
// observed Next
type Sample struct {
	State  []float64
	Action int
	Reward float64
	Next   []float64
}

// Memory is the replay buffer. Beyond SizeMax the oldest sample is overwritten.
type Memory struct {
	samples []Sample
	next    int
	sizeMax int
	sizeMin int
	rand    *rand.Rand
}

func NewMemory(sizeMax, sizeMin int, seed uint64) *Memory {
	return &Memory{
		samples: make([]Sample, 0, sizeMax),
		sizeMax: sizeMax,
		sizeMin: sizeMin,
		rand:    rand.New(rand.NewSource(seed)),
	}
}

func (m *Memory) Add(s Sample) {
	if m.sizeMax <= 0 {
		return
	}
	if len(m.samples) < m.sizeMax {
		m.samples = append(m.samples, s)
		return
	}
	m.samples[m.next] = s
	m.next = (m.next + 1) % m.sizeMax
}

// Sample returns n random distinct samples, all of them in random order when n
// exceeds the size, and none while the memory holds fewer than SizeMin
func (m *Memory) Sample(n int) []Sample {
	size := len(m.samples)
	if size < m.sizeMin || n <= 0 {
		return []Sample{}
	}
	if n > size {
		n = size
	}
	out := make([]Sample, n)
	for i, idx := range m.rand.Perm(size)[:n] {
		out[i] = m.samples[idx]
	}
	return out
}

func (m *Memory) Size() int {
	return len(m.samples)
}
