package ofswitch

import (
	"sort"

	"github.com/sdnforge/lpft/exprcompile"
)

type flowKey struct {
	table    uint8
	priority int
	match    string
}

type entry struct {
	owners         []string // insertion order, deduplicated
	actionsByOwner map[string][]string
	metered        bool
	conjunction    bool
	asInfo         ASInfo
}

func (e *entry) addOwner(owner string) {
	for _, o := range e.owners {
		if o == owner {
			return
		}
	}
	e.owners = append(e.owners, owner)
}

func (e *entry) removeOwner(owner string) {
	delete(e.actionsByOwner, owner)
	for i, o := range e.owners {
		if o == owner {
			e.owners = append(e.owners[:i], e.owners[i+1:]...)
			return
		}
	}
}

// MemSink is a deterministic, in-process Sink: a content-addressed map
// from (table, priority, match) to the merged set of action clauses
// every owning flow has contributed, plus the cookie/as_info bookkeeping
// RemoveFlows and RemoveFlowsForASIP need.
type MemSink struct {
	entries map[flowKey]*entry
}

// NewMemSink returns an empty MemSink.
func NewMemSink() *MemSink {
	return &MemSink{entries: make(map[flowKey]*entry)}
}

func keyOf(f exprcompile.DesiredFlow) flowKey {
	return flowKey{table: f.Table, priority: f.Priority, match: f.Match}
}

func (s *MemSink) install(f exprcompile.DesiredFlow, metered, appendClause bool) {
	k := keyOf(f)
	e, ok := s.entries[k]
	if !ok {
		e = &entry{actionsByOwner: make(map[string][]string)}
		s.entries[k] = e
	}
	e.metered = e.metered || metered
	owner := string(f.Owner)

	if appendClause {
		e.conjunction = true
		clauses := e.actionsByOwner[owner]
		for _, c := range clauses {
			if c == f.Actions {
				e.addOwner(owner)
				return
			}
		}
		e.actionsByOwner[owner] = append(clauses, f.Actions)
	} else {
		e.actionsByOwner[owner] = []string{f.Actions}
	}
	e.addOwner(owner)

	if f.ASName != "" {
		e.asInfo = ASInfo{Name: f.ASName, IP: f.ASIP, Mask: f.ASMask}
	}
}

// AddFlow implements Sink.
func (s *MemSink) AddFlow(f exprcompile.DesiredFlow) error {
	s.install(f, false, false)
	return nil
}

// AddFlowMetered implements Sink.
func (s *MemSink) AddFlowMetered(f exprcompile.DesiredFlow) error {
	s.install(f, true, false)
	return nil
}

// AddOrAppendFlow implements Sink.
func (s *MemSink) AddOrAppendFlow(f exprcompile.DesiredFlow) error {
	s.install(f, false, true)
	return nil
}

// RemoveFlows implements Sink.
func (s *MemSink) RemoveFlows(owner string) {
	for k, e := range s.entries {
		e.removeOwner(owner)
		if len(e.owners) == 0 {
			delete(s.entries, k)
		}
	}
}

// RemoveFlowsForASIP implements Sink.
func (s *MemSink) RemoveFlowsForASIP(owner string, info ASInfo, refCount int) bool {
	var matches []flowKey
	for k, e := range s.entries {
		if e.asInfo != info {
			continue
		}
		owns := false
		for _, o := range e.owners {
			if o == owner {
				owns = true
				break
			}
		}
		if owns {
			matches = append(matches, k)
		}
	}
	if len(matches) != refCount {
		return false
	}
	for _, k := range matches {
		e := s.entries[k]
		e.removeOwner(owner)
		if len(e.owners) == 0 {
			delete(s.entries, k)
		}
	}
	return true
}

// FloodRemoveFlows implements Sink.
func (s *MemSink) FloodRemoveFlows(ids []string) []string {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = false
	}

	for k, e := range s.entries {
		for _, o := range e.owners {
			if _, ok := want[o]; ok {
				want[o] = true
			}
		}
		changed := false
		for owner := range want {
			if !want[owner] {
				continue
			}
			if _, had := e.actionsByOwner[owner]; had {
				e.removeOwner(owner)
				changed = true
			}
		}
		if changed && len(e.owners) == 0 {
			delete(s.entries, k)
		}
	}

	var removed []string
	for id, hit := range want {
		if hit {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// Len reports the number of distinct (table, priority, match) entries
// currently installed, for tests and diagnostics.
func (s *MemSink) Len() int { return len(s.entries) }

// ActionsFor returns the merged action string currently installed for
// (table, priority, match), for test assertions. Clauses are joined in
// owner-insertion order.
func (s *MemSink) ActionsFor(table uint8, priority int, match string) (string, bool) {
	e, ok := s.entries[flowKey{table: table, priority: priority, match: match}]
	if !ok {
		return "", false
	}
	var out string
	for i, o := range e.owners {
		for j, c := range e.actionsByOwner[o] {
			if i > 0 || j > 0 {
				out += "; "
			}
			out += c
		}
	}
	return out, true
}
