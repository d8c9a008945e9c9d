package symbol

import "sync"

// HistoryEntry records one candidate considered for a name, when history
// recording is enabled (spec.md section 4.1: "this log is opt-in, costly
// for large links").
type HistoryEntry struct {
	Origin    Origin
	Candidate *ResolveInfo
	Overrode  bool
}

// NamePool is the process-wide symbol table keyed by name (spec.md section
// 2 item 6 and section 3). Insertion order is preserved for non-locals so
// that output is reproducible given the same input order.
type NamePool struct {
	mu sync.Mutex

	order    []string
	byName   map[string]*ResolveInfo
	locals   []*ResolveInfo
	history  map[string][]HistoryEntry
	recordHistory bool

	// wrap maps a wrapped symbol name to the redirect table entries
	// installed by --wrap (SPEC_FULL.md section C).
	wrap map[string]*wrapEntry
}

type wrapEntry struct {
	// wrapName is the name a reference to realName (the map key) is
	// redirected to: --wrap redirects every reference to S to __wrap_S, and
	// every reference to __real_S back to S.
	wrapName string
	realName string
}

// NewNamePool creates an empty NamePool. recordHistory enables the
// per-name candidate log (costly; spec.md section 4.1).
func NewNamePool(recordHistory bool) *NamePool {
	np := &NamePool{
		byName:        make(map[string]*ResolveInfo),
		recordHistory: recordHistory,
		wrap:          make(map[string]*wrapEntry),
	}
	if recordHistory {
		np.history = make(map[string][]HistoryEntry)
	}
	return np
}

// SetWrap installs a --wrap redirect for symbol name: references to name
// resolve to "__wrap_<name>", and references to "__real_<name>" resolve to
// name itself (SPEC_FULL.md section C).
func (np *NamePool) SetWrap(name string) {
	np.mu.Lock()
	defer np.mu.Unlock()
	np.wrap[name] = &wrapEntry{wrapName: "__wrap_" + name, realName: name}
	np.wrap["__real_"+name] = &wrapEntry{wrapName: name, realName: "__real_" + name}
}

// Redirect applies any active --wrap redirection to name, returning the
// name that should actually be looked up/inserted.
func (np *NamePool) Redirect(name string) string {
	np.mu.Lock()
	defer np.mu.Unlock()
	if e, ok := np.wrap[name]; ok {
		return e.wrapName
	}
	return name
}

// InsertLocal adds a local symbol's ResolveInfo to the per-file local list.
// Local inserts need no global lock beyond appending to NamePool.locals
// (spec.md section 4.1 concurrency: "local inserts append to a per-file
// list and need no global lock") — callers typically keep their own
// per-InputFile slice and only flush into the NamePool's combined list at a
// phase barrier, which is what this method does.
func (np *NamePool) InsertLocal(info *ResolveInfo, ld *LDSymbol) {
	info.Out = ld
	np.mu.Lock()
	np.locals = append(np.locals, info)
	np.mu.Unlock()
}

// FindInfo returns the current winning ResolveInfo for name, or nil.
func (np *NamePool) FindInfo(name string) *ResolveInfo {
	np.mu.Lock()
	defer np.mu.Unlock()
	return np.byName[name]
}

// FindSymbol returns the current winning LDSymbol for name, or nil.
func (np *NamePool) FindSymbol(name string) *LDSymbol {
	info := np.FindInfo(name)
	if info == nil {
		return nil
	}
	return info.Out
}

// Locals returns every local ResolveInfo inserted so far, in insertion
// order.
func (np *NamePool) Locals() []*ResolveInfo {
	np.mu.Lock()
	defer np.mu.Unlock()
	out := make([]*ResolveInfo, len(np.locals))
	copy(out, np.locals)
	return out
}

// Names returns every non-local name in insertion order (for reproducible
// symbol table emission).
func (np *NamePool) Names() []string {
	np.mu.Lock()
	defer np.mu.Unlock()
	out := make([]string, len(np.order))
	copy(out, np.order)
	return out
}

// History returns the recorded candidate history for name, if history
// recording was enabled.
func (np *NamePool) History(name string) []HistoryEntry {
	np.mu.Lock()
	defer np.mu.Unlock()
	return np.history[name]
}

// lockedInsert installs info as the winner for name, creating the ordering
// slot if this is the first time name has been seen. Callers must hold
// np.mu.
func (np *NamePool) lockedInsert(name string, info *ResolveInfo) (existed bool) {
	_, existed = np.byName[name]
	if !existed {
		np.order = append(np.order, name)
	}
	np.byName[name] = info
	return existed
}

func (np *NamePool) lockedRecord(name string, origin Origin, candidate *ResolveInfo, overrode bool) {
	if !np.recordHistory {
		return
	}
	np.history[name] = append(np.history[name], HistoryEntry{origin, candidate, overrode})
}
