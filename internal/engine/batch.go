package engine

import "github.com/ecolog/ecolog/internal/signal"

// BatchPolicy decides how many outbox items a pass sends concurrently,
// given the current capability signal.
type BatchPolicy interface {
	BatchSize(s signal.State) int
}

// FixedPolicy always returns the same batch size.
type FixedPolicy struct {
	Size int
}

func (p FixedPolicy) BatchSize(signal.State) int {
	if p.Size < 1 {
		return 1
	}
	return p.Size
}

// AdaptivePolicy sizes batches from the network class and halves them
// under memory pressure.
type AdaptivePolicy struct{}

func (AdaptivePolicy) BatchSize(s signal.State) int {
	var n int
	switch s.Connection {
	case signal.Connection2G:
		n = 2
	case signal.Connection3G:
		n = 5
	case signal.Connection4G, signal.ConnectionWifi:
		n = 10
	default:
		n = 5
	}
	if s.LowMemory {
		n /= 2
		if n < 1 {
			n = 1
		}
	}
	return n
}
