package contextstore

import (
	"strings"
	"sync"
	"time"

	"github.com/nidhogg/nudge-coach/internal/clock"
	"go.uber.org/zap"
)

// MetadataKey is the reserved namespace stamped after every effective update.
const MetadataKey = "metadata"

// ChangeFunc receives the dotted paths changed by one update and the id of
// the writer.
type ChangeFunc func(changed []string, source string)

type delivery struct {
	targets []*subscription
	changed []string
	source  string
}

type subscription struct {
	id       string
	callback ChangeFunc
	paths    []string
}

// Store is the shared context tree. Every public operation runs inside one
// critical section. Change callbacks run after the lock is released, so a
// callback may read or write the store, and are delivered in the order the
// updates were applied. When no other delivery is in progress they run
// before Update returns; otherwise the goroutine already delivering runs
// them.
type Store struct {
	mu          sync.Mutex
	tree        map[string]any
	subscribers map[string]*subscription
	order       []string
	pending     []delivery
	draining    bool

	snapshotPath string
	backupDir    string
	clock        clock.Clock
	logger       *zap.Logger
}

// NewStore creates an empty store. snapshotPath and backupDir are the
// defaults used by Snapshot and Load.
func NewStore(snapshotPath, backupDir string, clk clock.Clock, logger *zap.Logger) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		tree:         make(map[string]any),
		subscribers:  make(map[string]*subscription),
		snapshotPath: snapshotPath,
		backupDir:    backupDir,
		clock:        clk,
		logger:       logger,
	}
}

// Get returns a deep copy of the whole tree when path is empty, or of the
// value at the dotted path. A missing path yields an empty map.
func (s *Store) Get(path string) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	if path == "" {
		return deepCopy(s.tree)
	}
	v, ok := lookup(s.tree, path)
	if !ok {
		s.logger.Warn("context path not found", zap.String("path", path))
		return map[string]any{}
	}
	return deepCopy(v)
}

// GetTree is Get for sub-trees. It returns an empty map when the path is
// missing or addresses a leaf.
func (s *Store) GetTree(path string) map[string]any {
	if m, ok := s.Get(path).(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// Lookup reads a value without logging a miss.
func (s *Store) Lookup(path string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := lookup(s.tree, path)
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

// Update deep-merges partial into the tree and returns the changed dotted
// paths. Subscribers are notified once, synchronously, when anything
// changed. Metadata is stamped only for effective updates so that
// reapplying the same partial leaves the tree untouched.
func (s *Store) Update(partial map[string]any, source string) []string {
	if len(partial) == 0 {
		return nil
	}
	incoming, _ := normalize(partial).(map[string]any)

	s.mu.Lock()
	changed := merge(s.tree, incoming, "")
	if len(changed) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.stampLocked(source)
	s.enqueueLocked(changed, source)
	s.mu.Unlock()

	s.logger.Debug("context updated",
		zap.String("source", source),
		zap.Strings("changed", changed))

	s.drain()
	return changed
}

// Seed sets keys of partial that are absent from the tree, leaving present
// values alone. Used to install initial namespace state without resetting
// values restored from a snapshot.
func (s *Store) Seed(partial map[string]any, source string) []string {
	if len(partial) == 0 {
		return nil
	}
	incoming, _ := normalize(partial).(map[string]any)

	s.mu.Lock()
	added := seed(s.tree, incoming, "")
	if len(added) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.stampLocked(source)
	s.enqueueLocked(added, source)
	s.mu.Unlock()

	s.drain()
	return added
}

// Clear empties the tree, keeping metadata stamped with cleared_at, or
// deletes the sub-tree at path. Clearing does not notify subscribers.
func (s *Store) Clear(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if path == "" {
		meta, _ := s.tree[MetadataKey].(map[string]any)
		if meta == nil {
			meta = make(map[string]any)
		}
		meta["cleared_at"] = s.clock.Now().Format(time.RFC3339Nano)
		s.tree = map[string]any{MetadataKey: meta}
		s.logger.Info("context cleared")
		return
	}

	parts := splitPath(path)
	parent := s.tree
	for _, part := range parts[:len(parts)-1] {
		next, ok := parent[part].(map[string]any)
		if !ok {
			s.logger.Warn("context path not found for clearing", zap.String("path", path))
			return
		}
		parent = next
	}
	last := parts[len(parts)-1]
	if _, ok := parent[last]; !ok {
		s.logger.Warn("context path not found for clearing", zap.String("path", path))
		return
	}
	delete(parent, last)
	s.logger.Info("context path cleared", zap.String("path", path))
}

// Subscribe registers callback under id, replacing any earlier registration
// with the same id. With no paths the subscriber sees every change.
func (s *Store) Subscribe(callback ChangeFunc, id string, paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscribers[id]; !ok {
		s.order = append(s.order, id)
	}
	s.subscribers[id] = &subscription{
		id:       id,
		callback: callback,
		paths:    append([]string(nil), paths...),
	}
	s.logger.Debug("context subscriber registered", zap.String("subscriber", id))
}

// Unsubscribe removes the registration for id, if any.
func (s *Store) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscribers[id]; !ok {
		return
	}
	delete(s.subscribers, id)
	for i, sid := range s.order {
		if sid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.logger.Debug("context subscriber removed", zap.String("subscriber", id))
}

// Handle returns a capability scoped to namespace ns.
func (s *Store) Handle(ns string) *Handle {
	return &Handle{store: s, ns: ns}
}

func (s *Store) stampLocked(source string) {
	meta, ok := s.tree[MetadataKey].(map[string]any)
	if !ok {
		meta = make(map[string]any)
		s.tree[MetadataKey] = meta
	}
	meta["last_updated"] = s.clock.Now().Format(time.RFC3339Nano)
	meta["last_updated_by"] = source
}

func (s *Store) matchLocked(changed []string, source string) []*subscription {
	var targets []*subscription
	for _, id := range s.order {
		sub := s.subscribers[id]
		if sub.id == source {
			continue
		}
		if matches(sub.paths, changed) {
			targets = append(targets, sub)
		}
	}
	return targets
}

func matches(prefixes, changed []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, key := range changed {
		for _, p := range prefixes {
			if strings.HasPrefix(key, p) {
				return true
			}
		}
	}
	return false
}

func (s *Store) enqueueLocked(changed []string, source string) {
	targets := s.matchLocked(changed, source)
	if len(targets) == 0 {
		return
	}
	s.pending = append(s.pending, delivery{targets: targets, changed: changed, source: source})
}

// drain delivers queued notifications in apply order. Only one goroutine
// drains at a time; a caller that finds a drain in progress returns and
// leaves its batch to that drain.
func (s *Store) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		next := s.pending[0]
		s.pending[0] = delivery{}
		s.pending = s.pending[1:]
		s.mu.Unlock()

		for _, sub := range next.targets {
			s.deliver(sub, append([]string(nil), next.changed...), next.source)
		}

		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

func (s *Store) deliver(sub *subscription, changed []string, source string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("context change callback panicked",
				zap.String("subscriber", sub.id),
				zap.Any("panic", r))
		}
	}()
	sub.callback(changed, source)
}
