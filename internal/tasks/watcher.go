package tasks

import (
	"context"
	"slices"

	"github.com/desertthunder/crawlctl/internal/store"
)

// Start keeps one live channel open per unfinished task until ctx is done or [Syncer.Stop] is called.
//
// Channels are opened for ids that appear in the store with a non-terminal status and closed for ids
// that finish or leave the store. Start returns immediately.
func (s *Syncer) Start(ctx context.Context) {
	if s.channels == nil {
		return
	}
	s.mu.Lock()
	if s.unsubscribe != nil {
		s.mu.Unlock()
		return
	}
	s.ctx = ctx
	s.unsubscribe = s.store.Subscribe(func(store.Change) { s.syncChannels() })
	s.mu.Unlock()

	s.syncChannels()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop unsubscribes from the store and closes every channel the syncer opened.
func (s *Syncer) Stop() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe == nil {
		return
	}
	unsubscribe()

	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	s.mu.Lock()
	ids := make([]string, 0, len(s.watching))
	for id := range s.watching {
		ids = append(ids, id)
	}
	clear(s.watching)
	s.mu.Unlock()

	slices.Sort(ids)
	for _, id := range ids {
		s.channels.Close(id)
	}
}

// Watching returns the ids the syncer currently holds channels for, sorted.
func (s *Syncer) Watching() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.watching))
	for id := range s.watching {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Syncer) syncChannels() {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	active := s.store.ActiveIDs()
	want := make(map[string]bool, len(active))
	for _, id := range active {
		want[id] = true
	}

	var toOpen, toClose []string
	s.mu.Lock()
	if s.unsubscribe == nil {
		s.mu.Unlock()
		return
	}
	for _, id := range active {
		if !s.watching[id] {
			s.watching[id] = true
			toOpen = append(toOpen, id)
		}
	}
	for id := range s.watching {
		if !want[id] {
			delete(s.watching, id)
			toClose = append(toClose, id)
		}
	}
	s.mu.Unlock()

	slices.Sort(toClose)
	for _, id := range toClose {
		s.logger.Debug("closing live channel", "task", id)
		s.channels.Close(id)
	}
	for _, id := range toOpen {
		s.logger.Debug("opening live channel", "task", id)
		if err := s.channels.Open(id, s.Handlers()); err != nil {
			s.logger.Error("failed to open live channel", "task", id, "error", err)
			s.mu.Lock()
			delete(s.watching, id)
			s.mu.Unlock()
		}
	}
}
