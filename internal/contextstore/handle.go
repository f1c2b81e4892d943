package contextstore

import "time"

// Handle is a namespace-scoped capability. Reads may address any
// namespace; writes are always wrapped under the handle's own namespace
// and attributed to it.
type Handle struct {
	store *Store
	ns    string
}

// Namespace returns the namespace this handle writes to.
func (h *Handle) Namespace() string { return h.ns }

// Get reads any dotted path in the tree.
func (h *Handle) Get(path string) any {
	return h.store.Get(path)
}

// Own reads a path relative to the handle's namespace.
func (h *Handle) Own(path string) map[string]any {
	if path == "" {
		return h.store.GetTree(h.ns)
	}
	return h.store.GetTree(h.ns + "." + path)
}

// Update merges partial under the handle's namespace.
func (h *Handle) Update(partial map[string]any) []string {
	if len(partial) == 0 {
		return nil
	}
	return h.store.Update(map[string]any{h.ns: partial}, h.ns)
}

// Seed installs initial namespace state without overwriting present keys.
func (h *Handle) Seed(partial map[string]any) []string {
	if len(partial) == 0 {
		return nil
	}
	return h.store.Seed(map[string]any{h.ns: partial}, h.ns)
}

// Subscribe registers a change listener identified by the namespace.
func (h *Handle) Subscribe(callback ChangeFunc, paths ...string) {
	h.store.Subscribe(callback, h.ns, paths...)
}

// Unsubscribe removes the namespace's listener.
func (h *Handle) Unsubscribe() {
	h.store.Unsubscribe(h.ns)
}

// GetString reads a string leaf.
func (h *Handle) GetString(path string) (string, bool) {
	v, ok := h.store.Lookup(path)
	if !ok {
		return "", false
	}
	return AsString(v)
}

// GetFloat reads a numeric leaf.
func (h *Handle) GetFloat(path string) (float64, bool) {
	v, ok := h.store.Lookup(path)
	if !ok {
		return 0, false
	}
	return AsFloat(v)
}

// GetInt reads a numeric leaf truncated to int.
func (h *Handle) GetInt(path string) (int, bool) {
	v, ok := h.store.Lookup(path)
	if !ok {
		return 0, false
	}
	return AsInt(v)
}

// GetBool reads a boolean leaf.
func (h *Handle) GetBool(path string) (bool, bool) {
	v, ok := h.store.Lookup(path)
	if !ok {
		return false, false
	}
	return AsBool(v)
}

// Lookup reads any dotted path without logging a miss.
func (h *Handle) Lookup(path string) (any, bool) {
	return h.store.Lookup(path)
}

// GetTime reads an RFC3339 timestamp leaf.
func (h *Handle) GetTime(path string) (time.Time, bool) {
	v, ok := h.store.Lookup(path)
	if !ok {
		return time.Time{}, false
	}
	return AsTime(v)
}
