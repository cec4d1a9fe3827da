// Package budget supplies per-queue session and total budgets.
package budget

import "sync"

// Override replaces the default budgets for one queue key.
type Override struct {
	Session int64 `mapstructure:"session"`
	Total   int64 `mapstructure:"total"`
}

// Static hands out the same budgets to every queue, except keys with an
// override. Overrides may be changed at runtime; the frontier picks them up
// on the next activation, completion or ReconsiderRetired.
type Static struct {
	session int64
	total   int64

	mu        sync.RWMutex
	overrides map[string]Override
}

// NewStatic builds a policy. A negative total is unlimited; a session of zero
// disables session rotation.
func NewStatic(session, total int64, overrides map[string]Override) *Static {
	o := make(map[string]Override, len(overrides))
	for k, v := range overrides {
		o[k] = v
	}
	return &Static{session: session, total: total, overrides: o}
}

// Budgets implements frontier.BudgetPolicy.
func (s *Static) Budgets(key string) (int64, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.overrides[key]; ok {
		return o.Session, o.Total
	}
	return s.session, s.total
}

// SetOverride installs or replaces the budgets for key.
func (s *Static) SetOverride(key string, o Override) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[key] = o
}
