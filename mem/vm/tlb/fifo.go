package tlb

import "container/list"

// fifoTLB keeps entries in a list ordered by insertion time, with a map for
// constant-time lookups.
type fifoTLB struct {
	capacity int
	order    *list.List
	entries  map[uint64]*list.Element
}

func newFIFOTLB(capacity int) *fifoTLB {
	return &fifoTLB{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[uint64]*list.Element, capacity),
	}
}

func (t *fifoTLB) Lookup(vpn uint64) (uint64, bool) {
	elem, found := t.entries[vpn]
	if !found {
		return 0, false
	}

	return elem.Value.(Entry).PFN, true
}

func (t *fifoTLB) Insert(vpn, pfn uint64) (Entry, bool) {
	if elem, found := t.entries[vpn]; found {
		elem.Value = Entry{VPN: vpn, PFN: pfn}
		return Entry{}, false
	}

	var (
		evicted  Entry
		didEvict bool
	)

	if t.order.Len() >= t.capacity {
		oldest := t.order.Front()
		evicted = t.order.Remove(oldest).(Entry)
		delete(t.entries, evicted.VPN)
		didEvict = true
	}

	t.entries[vpn] = t.order.PushBack(Entry{VPN: vpn, PFN: pfn})

	return evicted, didEvict
}

func (t *fifoTLB) Invalidate(vpn uint64) bool {
	elem, found := t.entries[vpn]
	if !found {
		return false
	}

	t.order.Remove(elem)
	delete(t.entries, vpn)

	return true
}

func (t *fifoTLB) Clear() {
	t.order.Init()
	t.entries = make(map[uint64]*list.Element, t.capacity)
}

func (t *fifoTLB) Len() int {
	return t.order.Len()
}

func (t *fifoTLB) Capacity() int {
	return t.capacity
}

func (t *fifoTLB) Policy() Policy {
	return PolicyFIFO
}

func (t *fifoTLB) Entries() []Entry {
	entries := make([]Entry, 0, t.order.Len())
	for e := t.order.Front(); e != nil; e = e.Next() {
		entries = append(entries, e.Value.(Entry))
	}

	return entries
}
