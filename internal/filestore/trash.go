package filestore

import (
	"context"
	"os"
	"path/filepath"
)

// StartTrashWorker launches the dedicated background goroutine that drains
// trash/ whenever EmptyTrashAsync signals it, until ctx is canceled or
// StopTrashWorker is called. It never blocks callers of EmptyTrashAsync.
func (s *Store) StartTrashWorker(ctx context.Context) {
	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.trashLoop(ctx)
}

// StopTrashWorker signals the worker to exit and waits for it to finish.
func (s *Store) StopTrashWorker() {
	if !s.started {
		return
	}
	closeOnce(s.stopCh)
	<-s.doneCh
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
		// already closed
	default:
		close(ch)
	}
}

func (s *Store) trashLoop(ctx context.Context) {
	log := s.log()
	defer close(s.doneCh)
	for {
		select {
		case <-ctx.Done():
			log.Info("trash worker stop", "reason", "context_cancel")
			return
		case <-s.stopCh:
			log.Info("trash worker stop", "reason", "stop_signal")
			return
		case <-s.trashSignal:
			s.emptyTrash()
		}
	}
}

// emptyTrash deletes every entry currently in trash/. Missing entries are
// not errors; concurrent passes coalesce naturally because each pass only
// deletes what it sees (spec.md §4.1).
func (s *Store) emptyTrash() {
	entries, err := os.ReadDir(s.trashDir)
	if err != nil {
		s.logErr("empty_trash_list", err)
		return
	}
	for _, e := range entries {
		p := filepath.Join(s.trashDir, e.Name())
		if err := os.RemoveAll(p); err != nil {
			s.logErr("empty_trash_remove", err)
		}
	}
}
