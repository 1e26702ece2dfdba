package index

import "errors"

// DefaultCapacity bounds the registration table unless overridden.
const DefaultCapacity = 512

var (
	ErrDuplicate = errors.New("peer already registered this content")
	ErrTableFull = errors.New("registration table is full")
	ErrNotFound  = errors.New("no matching registration")
)

// Registration is one active directory entry. UseCount grows by one each
// time the entry is handed out as a search result and never decreases.
type Registration struct {
	Peer     string
	Content  string
	IP       string
	Port     uint16
	UseCount uint32
}

type slot struct {
	inUse bool
	reg   Registration
}

// Table is a bounded arena of registration slots. Lookup is a full scan;
// slot order is the deterministic tie-break order for provider selection.
type Table struct {
	slots []slot
}

func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{slots: make([]slot, capacity)}
}

// Add stores a new registration with a zero use count. The (peer, content)
// pair must be unique among active entries.
func (t *Table) Add(reg Registration) error {
	free := -1
	for i := range t.slots {
		if !t.slots[i].inUse {
			if free < 0 {
				free = i
			}
			continue
		}
		if t.slots[i].reg.Peer == reg.Peer && t.slots[i].reg.Content == reg.Content {
			return ErrDuplicate
		}
	}
	if free < 0 {
		return ErrTableFull
	}
	reg.UseCount = 0
	t.slots[free] = slot{inUse: true, reg: reg}
	return nil
}

// Remove frees the slot holding (peer, content). Returns ErrNotFound when
// no active entry matches.
func (t *Table) Remove(peer, content string) error {
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].reg.Peer == peer && t.slots[i].reg.Content == content {
			t.slots[i] = slot{}
			return nil
		}
	}
	return ErrNotFound
}

// PickProvider selects the least-used registration for a content tag and
// charges the hand-out to its use count. Ties go to the earliest slot, so
// repeated ties keep returning the same provider until its count passes
// the others.
func (t *Table) PickProvider(content string) (Registration, error) {
	sel := -1
	var best uint32
	for i := range t.slots {
		if !t.slots[i].inUse || t.slots[i].reg.Content != content {
			continue
		}
		if sel < 0 || t.slots[i].reg.UseCount < best {
			sel = i
			best = t.slots[i].reg.UseCount
		}
	}
	if sel < 0 {
		return Registration{}, ErrNotFound
	}
	picked := t.slots[sel].reg
	t.slots[sel].reg.UseCount++
	return picked, nil
}

// Snapshot returns the active registrations in slot order.
func (t *Table) Snapshot() []Registration {
	var regs []Registration
	for i := range t.slots {
		if t.slots[i].inUse {
			regs = append(regs, t.slots[i].reg)
		}
	}
	return regs
}

// Len reports the number of active registrations.
func (t *Table) Len() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].inUse {
			n++
		}
	}
	return n
}
