package actionencode

import "fmt"

// MeterTable is the "extend-table" abstraction spec.md section 4.4
// names for controller-meter interning: a finite associative allocator
// keyed by (name, flow_id), handing back small integer ids for use as
// the OpenFlow meter_id in a set_meter action.
//
// It is intentionally bounded: once Capacity distinct keys have been
// interned, further distinct keys are refused rather than evicted,
// since a silently reassigned meter id would misdirect packets onto the
// wrong rate limiter, a correctness bug far worse than "no meter".
type MeterTable struct {
	capacity int
	ids      map[string]uint32
	next     uint32
}

// NewMeterTable returns an empty MeterTable bounded to capacity distinct
// (name, flow_id) keys. Meter id 0 is never handed out; it is the
// reserved "no meter" sentinel.
func NewMeterTable(capacity int) *MeterTable {
	return &MeterTable{
		capacity: capacity,
		ids:      make(map[string]uint32),
		next:     1,
	}
}

// Intern returns the id for (name, flowID), allocating one if this is
// the first time the pair has been seen. ok is false, and the returned
// id meaningless, once the table is full and the pair is new: callers
// must drop the meter and emit a rate-limited warning (spec.md section
// 4.4).
func (m *MeterTable) Intern(name, flowID string) (uint32, bool) {
	key := meterKey(name, flowID)
	if id, ok := m.ids[key]; ok {
		return id, true
	}
	if len(m.ids) >= m.capacity {
		return 0, false
	}
	id := m.next
	m.next++
	m.ids[key] = id
	return id, true
}

// Len reports how many distinct (name, flow_id) pairs are currently
// interned.
func (m *MeterTable) Len() int { return len(m.ids) }

func meterKey(name, flowID string) string {
	return fmt.Sprintf("%s\x00%s", name, flowID)
}
