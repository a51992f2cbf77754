// Package signal provides the engine's view of device and network state.
//
// The capability signal is best-effort: it tunes batch sizing and provides
// the online/offline and foreground transitions that trigger sync passes,
// but the engine stays correct when no signal exists. Hosts either push
// state programmatically (Static) or maintain a small YAML state file the
// FileWatcher observes.
package signal

import "sync"

// Connection is the reported network class.
type Connection string

const (
	Connection2G      Connection = "2g"
	Connection3G      Connection = "3g"
	Connection4G      Connection = "4g"
	ConnectionWifi    Connection = "wifi"
	ConnectionUnknown Connection = "unknown"
)

// State is one sample of the capability signal.
type State struct {
	Online     bool       `yaml:"online" json:"online"`
	Connection Connection `yaml:"connection" json:"connection"`
	LowMemory  bool       `yaml:"low_memory" json:"low_memory"`
	Foreground bool       `yaml:"foreground" json:"foreground"`
}

// DefaultState is the conservative assumption when no signal is available:
// assume connectivity so the engine still attempts passes, but claim no
// knowledge of the network class.
func DefaultState() State {
	return State{Online: true, Connection: ConnectionUnknown, Foreground: true}
}

// Source supplies capability state and transition events.
//
// Subscribe returns a channel that receives every state transition and an
// unsubscribe function. Unsubscribing is deterministic: after it returns,
// the channel receives nothing further and is closed.
type Source interface {
	Current() State
	Subscribe() (<-chan State, func())
}

// broadcaster implements the shared subscribe/publish machinery.
type broadcaster struct {
	mu    sync.Mutex
	state State
	subs  map[int]chan State
	next  int
}

func newBroadcaster(initial State) *broadcaster {
	return &broadcaster{
		state: initial,
		subs:  make(map[int]chan State),
	}
}

func (b *broadcaster) Current() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *broadcaster) Subscribe() (<-chan State, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan State, 8)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// publish records the new state and notifies subscribers. No-op when the
// state did not change. A subscriber that has fallen behind loses the
// oldest notification rather than blocking the publisher.
func (b *broadcaster) publish(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s == b.state {
		return
	}
	b.state = s

	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}

// Static is a Source whose state is pushed programmatically, for hosts
// that receive their own platform callbacks (and for tests).
type Static struct {
	*broadcaster
}

// NewStatic creates a Static source with the given initial state.
func NewStatic(initial State) *Static {
	return &Static{broadcaster: newBroadcaster(initial)}
}

// Set publishes a new state.
func (s *Static) Set(state State) {
	s.publish(state)
}
