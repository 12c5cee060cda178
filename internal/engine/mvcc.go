package engine

import (
	"sync"
	"sync/atomic"

	"github.com/hupe1980/textgo/model"
)

// mvccController owns the current snapshot pointer and the registry of
// snapshots still referenced by readers.
type mvccController struct {
	current atomic.Pointer[Snapshot]
	live    sync.Map // *Snapshot -> struct{}
}

// acquire pins the current snapshot. It never blocks: if the loaded snapshot
// dies before it is pinned, the loop reloads.
func (m *mvccController) acquire() (*Snapshot, error) {
	for {
		s := m.current.Load()
		if s == nil {
			return nil, ErrClosed
		}
		if s.TryIncRef() {
			return s, nil
		}
	}
}

// publish installs next as the current snapshot and drops the controller's
// reference on the previous one. Callers serialize publish.
func (m *mvccController) publish(next *Snapshot) {
	next.onRelease = m.forget
	m.live.Store(next, struct{}{})
	if prev := m.current.Swap(next); prev != nil {
		prev.DecRef()
	}
}

// shutdown clears the current pointer and releases it.
func (m *mvccController) shutdown() {
	if prev := m.current.Swap(nil); prev != nil {
		prev.DecRef()
	}
}

func (m *mvccController) forget(s *Snapshot) { m.live.Delete(s) }

// liveSnapshots returns the reference count per live version.
func (m *mvccController) liveSnapshots() map[model.Version]int64 {
	out := make(map[model.Version]int64)
	m.live.Range(func(k, _ any) bool {
		s := k.(*Snapshot)
		if refs := s.refs.Load(); refs > 0 {
			out[s.version] += refs
		}
		return true
	})
	return out
}

// minVersion returns the oldest version any live snapshot observes.
func (m *mvccController) minVersion() model.Version {
	var (
		minV  model.Version
		found bool
	)
	m.live.Range(func(k, _ any) bool {
		s := k.(*Snapshot)
		if s.refs.Load() > 0 && (!found || s.version < minV) {
			minV, found = s.version, true
		}
		return true
	})
	if !found {
		if cur := m.current.Load(); cur != nil {
			return cur.version
		}
	}
	return minV
}
