package obd

import (
	"github.com/pkg/errors"
)

type slot struct {
	entry   Entry
	current int
}

// Scheduler hands out parameters in smooth weighted round-robin order. Over
// any run of slots in which the same parameters are eligible, each one is
// picked in proportion to its weight and picks are spread evenly instead of
// bunched together.
//
// Not safe for concurrent use; the diagnostic poller owns it.
type Scheduler struct {
	slots []slot
}

func NewScheduler(entries []Entry) (*Scheduler, error) {
	if len(entries) == 0 {
		return nil, errors.New("no obd parameters scheduled")
	}
	seen := map[string]bool{}
	s := &Scheduler{}
	for _, e := range entries {
		if e.Weight <= 0 {
			return nil, errors.Errorf("parameter %s: weight must be positive, got %d", e.Param.Name, e.Weight)
		}
		if seen[e.Param.Name] {
			return nil, errors.Errorf("parameter %s scheduled twice", e.Param.Name)
		}
		seen[e.Param.Name] = true
		s.slots = append(s.slots, slot{entry: e})
	}
	return s, nil
}

// Next returns the parameter to query in the next bus slot. Parameters for
// which eligible returns false neither take the slot nor accumulate credit.
// A nil eligible treats every parameter as eligible. ok is false when
// nothing is eligible.
func (s *Scheduler) Next(eligible func(Param) bool) (Param, bool) {
	total := 0
	best := -1
	for i := range s.slots {
		sl := &s.slots[i]
		if eligible != nil && !eligible(sl.entry.Param) {
			continue
		}
		sl.current += sl.entry.Weight
		total += sl.entry.Weight
		// ties go to the earlier entry, keeping the configured order
		if best < 0 || sl.current > s.slots[best].current {
			best = i
		}
	}
	if best < 0 {
		return Param{}, false
	}
	s.slots[best].current -= total
	return s.slots[best].entry.Param, true
}

// Remove drops a parameter from the rotation, used when the vehicle does not
// support it.
func (s *Scheduler) Remove(name string) {
	for i := range s.slots {
		if s.slots[i].entry.Param.Name == name {
			s.slots = append(s.slots[:i], s.slots[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) Len() int {
	return len(s.slots)
}

func (s *Scheduler) Entries() []Entry {
	out := make([]Entry, len(s.slots))
	for i, sl := range s.slots {
		out[i] = sl.entry
	}
	return out
}
