package orchestrator

import (
	"sort"
	"sync"

	"github.com/semopic/director-api/internal/pipeline"
	"github.com/semopic/director-api/internal/task"
)

// registry is the in-memory home of live sessions, trackers and pollers.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	trackers map[string]*task.Tracker
	pollers  map[string]*task.Poller
}

func newRegistry() *registry {
	return &registry{
		sessions: make(map[string]*sessionEntry),
		trackers: make(map[string]*task.Tracker),
		pollers:  make(map[string]*task.Poller),
	}
}

func (r *registry) putSession(entry *sessionEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[entry.session.ID()] = entry
}

func (r *registry) session(id string) (*sessionEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry, nil
}

func (r *registry) sessionsFor(userID string) []pipeline.Snapshot {
	r.mu.RLock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, entry := range r.sessions {
		if entry.userID == userID {
			entries = append(entries, entry)
		}
	}
	r.mu.RUnlock()

	snaps := make([]pipeline.Snapshot, 0, len(entries))
	for _, entry := range entries {
		snaps = append(snaps, entry.session.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps
}

func (r *registry) putTracker(t *task.Tracker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackers[t.ID()] = t
}

func (r *registry) tracker(id string) (*task.Tracker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trackers[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t, nil
}

func (r *registry) putPoller(id string, p *task.Poller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pollers[id] = p
}

func (r *registry) allPollers() []*task.Poller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pollers := make([]*task.Poller, 0, len(r.pollers))
	for _, p := range r.pollers {
		pollers = append(pollers, p)
	}
	return pollers
}
