package events

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/c360/resourcekit/errors"
)

// DefaultCgroupPath is the cgroup v2 mount of the current container.
const DefaultCgroupPath = "/sys/fs/cgroup"

// pressureCounters are the memory.events counters that signal pressure.
var pressureCounters = []string{"high", "max", "oom", "oom_kill"}

// CgroupWatcher watches a cgroup v2 memory.events file and fires a memory
// warning whenever the high, max, oom or oom_kill counter increases.
type CgroupWatcher struct {
	path   string
	logger *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

// NewCgroupWatcher watches path, which may be the memory.events file or the
// cgroup directory containing it. An empty path uses DefaultCgroupPath.
func NewCgroupWatcher(path string, opts ...Option) *CgroupWatcher {
	if path == "" {
		path = DefaultCgroupPath
	}
	if filepath.Base(path) != "memory.events" {
		path = filepath.Join(path, "memory.events")
	}
	o := buildOptions("cgroup-watcher", opts)
	return &CgroupWatcher{
		path:   path,
		logger: o.logger.With("path", path),
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the watch is established.
func (w *CgroupWatcher) Ready() <-chan struct{} {
	return w.ready
}

// Run blocks until ctx is cancelled. It fails if the file cannot be read or watched.
func (w *CgroupWatcher) Run(ctx context.Context, obs Observer) error {
	last, err := readCounters(w.path)
	if err != nil {
		return errors.WrapInvalid(err, "CgroupWatcher", "Run", "read memory.events")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapTransient(err, "CgroupWatcher", "Run", "create watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(w.path); err != nil {
		return errors.WrapTransient(err, "CgroupWatcher", "Run", "watch memory.events")
	}
	w.readyOnce.Do(func() { close(w.ready) })
	w.logger.Debug("Watching cgroup memory events")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			current, err := readCounters(w.path)
			if err != nil || len(current) == 0 {
				// partial write, the next event carries the full file
				continue
			}
			if increased := increasedCounters(last, current); len(increased) > 0 {
				w.logger.Info("Cgroup memory pressure", "counters", increased)
				obs.OnMemoryWarning(ctx)
			}
			last = current
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Cgroup watch error", "error", err)
		}
	}
}

func readCounters(path string) (map[string]uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseCounters(data)
}

// parseCounters parses "key value" lines.
func parseCounters(data []byte) (map[string]uint64, error) {
	counters := make(map[string]uint64)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", fields[0], err)
		}
		counters[fields[0]] = v
	}
	return counters, scanner.Err()
}

func increasedCounters(before, after map[string]uint64) []string {
	var increased []string
	for _, name := range pressureCounters {
		if after[name] > before[name] {
			increased = append(increased, name)
		}
	}
	return increased
}
