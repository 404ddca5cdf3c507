package mmu

// Statistics counts the outcomes of translations. Page faults are counted
// both as misses and as faults.
type Statistics struct {
	hits   uint64
	misses uint64
	faults uint64
}

// A StatisticsSnapshot is a copy of the counters at one moment.
type StatisticsSnapshot struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Faults  uint64  `json:"faults"`
	Total   uint64  `json:"total"`
	HitRate float64 `json:"hit_rate"`
}

// RecordHit counts a TLB hit.
func (s *Statistics) RecordHit() {
	s.hits++
}

// RecordMiss counts a TLB miss.
func (s *Statistics) RecordMiss() {
	s.misses++
}

// RecordFault counts a page fault.
func (s *Statistics) RecordFault() {
	s.faults++
}

// Reset sets all the counters to zero.
func (s *Statistics) Reset() {
	*s = Statistics{}
}

// Snapshot returns the counters and the hit rate. The hit rate is 0 before
// the first translation.
func (s *Statistics) Snapshot() StatisticsSnapshot {
	snapshot := StatisticsSnapshot{
		Hits:   s.hits,
		Misses: s.misses,
		Faults: s.faults,
		Total:  s.hits + s.misses,
	}

	if snapshot.Total > 0 {
		snapshot.HitRate = float64(s.hits) / float64(snapshot.Total)
	}

	return snapshot
}
