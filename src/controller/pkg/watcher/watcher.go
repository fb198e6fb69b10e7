// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package watcher drives recompilation when the policy store changes.
//
// Three signals are combined. The store's in-process change channel fires
// after a mutation made by this process commits and always triggers a
// resync. A ticker polls the store's revision counter, which also advances
// for writes made by other processes sharing the database. When the store
// is a SQLite file, filesystem events on it trigger an early revision check.
//
// There is no debouncing. Each signal runs one recompute and install cycle
// and the synchronizer serializes them.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/sdn-microsegment/src/controller/pkg/policy"
)

// DefaultPollInterval is the default revision poll period
const DefaultPollInterval = 2 * time.Second

// Store is the change notification surface of the policy store
type Store interface {
	Changes() <-chan struct{}
	Revision(ctx context.Context) (int64, error)
}

// Resyncer recompiles and reinstalls policy
type Resyncer interface {
	Resync(ctx context.Context) (policy.Result, error)
}

// Config holds watcher settings
type Config struct {
	// PollInterval is the revision poll period; zero uses the default and
	// a negative value disables polling
	PollInterval time.Duration

	// WatchFile is the database file to watch, empty to disable
	WatchFile string
}

// Stats are cumulative watcher counters
type Stats struct {
	Signals  uint64 `json:"signals"`
	Resyncs  uint64 `json:"resyncs"`
	Failures uint64 `json:"failures"`
	Revision int64  `json:"revision"`
}

// Watcher turns store change signals into resyncs
type Watcher struct {
	cfg   Config
	store Store
	sync  Resyncer

	revision atomic.Int64
	signals  atomic.Uint64
	resyncs  atomic.Uint64
	failures atomic.Uint64
}

// New creates a watcher
func New(cfg Config, store Store, sync Resyncer) *Watcher {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Watcher{cfg: cfg, store: store, sync: sync}
}

// Run watches until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	if rev, err := w.store.Revision(ctx); err == nil {
		w.revision.Store(rev)
	} else {
		log.Warnf("Failed to read initial policy revision: %v", err)
	}

	var tick <-chan time.Time
	if w.cfg.PollInterval > 0 {
		ticker := time.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if w.cfg.WatchFile != "" {
		fw, err := newFileWatcher(w.cfg.WatchFile)
		if err != nil {
			log.Warnf("File watching disabled: %v", err)
		} else {
			defer fw.Close()
			fsEvents, fsErrors = fw.Events, fw.Errors
		}
	}

	log.Infof("Change watcher started: poll=%s file=%q", w.cfg.PollInterval, w.cfg.WatchFile)
	base := filepath.Base(w.cfg.WatchFile)

	for {
		select {
		case <-ctx.Done():
			log.Info("Change watcher stopped")
			return nil

		case <-w.store.Changes():
			w.signals.Add(1)
			w.refreshRevision(ctx)
			w.resync(ctx, "store change")

		case <-tick:
			w.checkRevision(ctx, "revision poll")

		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), base) || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.checkRevision(ctx, "file change")

		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			log.Warnf("File watcher error: %v", err)
		}
	}
}

// Stats returns a snapshot of the counters
func (w *Watcher) Stats() Stats {
	return Stats{
		Signals:  w.signals.Load(),
		Resyncs:  w.resyncs.Load(),
		Failures: w.failures.Load(),
		Revision: w.revision.Load(),
	}
}

// checkRevision resyncs when the revision moved since it was last seen
func (w *Watcher) checkRevision(ctx context.Context, reason string) {
	rev, err := w.store.Revision(ctx)
	if err != nil {
		log.Warnf("Failed to read policy revision: %v", err)
		return
	}
	prev := w.revision.Swap(rev)
	if rev == prev {
		return
	}
	w.signals.Add(1)
	log.Debugf("Policy revision %d -> %d (%s)", prev, rev, reason)
	w.resync(ctx, reason)
}

// refreshRevision records the current revision so the next poll does not
// repeat a resync already triggered in process
func (w *Watcher) refreshRevision(ctx context.Context) {
	if rev, err := w.store.Revision(ctx); err == nil {
		w.revision.Store(rev)
	}
}

func (w *Watcher) resync(ctx context.Context, reason string) {
	w.resyncs.Add(1)
	res, err := w.sync.Resync(ctx)
	if err != nil {
		w.failures.Add(1)
		log.Warnf("Resync after %s failed: %v", reason, err)
		return
	}
	log.Debugf("Resync after %s: %s", reason, res.Summary())
}

// newFileWatcher watches the directory holding path so journal and WAL
// files are seen as well as the database itself
func newFileWatcher(path string) (*fsnotify.Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return fw, nil
}
