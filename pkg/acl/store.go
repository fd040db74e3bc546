package acl

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/psaab/snmpagentd/pkg/snmp"
)

// reloadDelay coalesces the burst of events editors produce on save.
const reloadDelay = 200 * time.Millisecond

// Store holds the current ACL and swaps it atomically on reload.
type Store struct {
	path string
	cur  atomic.Pointer[ACL]
}

// NewStore loads the ACL file at path.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStaticStore wraps a fixed ACL. Reload and Watch are no-ops.
func NewStaticStore(a *ACL) *Store {
	s := &Store{}
	s.cur.Store(a)
	return s
}

// ACL returns the current list.
func (s *Store) ACL() *ACL {
	return s.cur.Load()
}

// CheckPermission implements the dispatcher's ACL.
func (s *Store) CheckPermission(addr netip.Addr, community string, kind snmp.Kind) bool {
	return s.cur.Load().CheckPermission(addr, community, kind)
}

// CheckCommunity implements the dispatcher's ACL.
func (s *Store) CheckCommunity(community string) bool {
	return s.cur.Load().CheckCommunity(community)
}

// TrapTargets returns the trap destinations of the current list.
func (s *Store) TrapTargets() []TrapTarget {
	return s.cur.Load().TrapTargets()
}

// Reload re-reads the file. On error the current list is kept.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	a, err := Load(s.path)
	if err != nil {
		return err
	}
	s.cur.Store(a)
	return nil
}

// Watch reloads the file whenever it changes, until ctx is done. The
// directory is watched so that files replaced by rename are picked up.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("acl: watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("acl: watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	timer := time.NewTimer(reloadDelay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(reloadDelay)

		case <-timer.C:
			if err := s.Reload(); err != nil {
				slog.Warn("ACL reload failed, keeping previous list", "file", s.path, "err", err)
				continue
			}
			slog.Info("ACL reloaded", "file", s.path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("ACL watcher error", "err", err)
		}
	}
}
