// Package state keeps the most recent zone and area states reported by
// the panel so late-joining status clients can receive a full snapshot.
package state

import (
	"sort"
	"sync"

	"github.com/ip150-bridge/backend/internal/panel"
)

type Store struct {
	mu    sync.RWMutex
	zones map[int]panel.ZoneState
	areas map[int]panel.AreaState
}

func NewStore() *Store {
	return &Store{
		zones: make(map[int]panel.ZoneState),
		areas: make(map[int]panel.AreaState),
	}
}

// ApplyDelta folds a poller delta into the latest-known state.
func (s *Store) ApplyDelta(d panel.Delta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, z := range d.Zones {
		s.zones[z.Index] = z.State
	}
	for _, a := range d.Areas {
		s.areas[a.Index] = a.State
	}
}

// Snapshot returns the latest-known state of every zone and area, ordered
// by index.
func (s *Store) Snapshot() panel.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := panel.Snapshot{
		Zones: make([]panel.ZoneEntry, 0, len(s.zones)),
		Areas: make([]panel.AreaEntry, 0, len(s.areas)),
	}
	for idx, st := range s.zones {
		snap.Zones = append(snap.Zones, panel.ZoneEntry{Index: idx, State: st})
	}
	for idx, st := range s.areas {
		snap.Areas = append(snap.Areas, panel.AreaEntry{Index: idx, State: st})
	}
	sort.Slice(snap.Zones, func(i, j int) bool { return snap.Zones[i].Index < snap.Zones[j].Index })
	sort.Slice(snap.Areas, func(i, j int) bool { return snap.Areas[i].Index < snap.Areas[j].Index })
	return snap
}
