// Package state holds the per-run records shared by the engine components.
// A Run is created once per matrix run and passed explicitly; nothing here is
// package-global.
package state

import (
	"sort"
	"sync"

	"quicinterop/internal/implementations"
)

// Key identifies an implementation acting in one role.
type Key struct {
	Implementation string
	Role           implementations.Role
}

// Run is the run context: compliance, unsupported-test and provisioning
// records. Entries are only ever added.
type Run struct {
	ID string

	mu          sync.RWMutex
	compliance  map[Key]bool
	unsupported map[Key]map[string]struct{}
	provisioned map[Key]error
}

// NewRun creates an empty run context.
func NewRun(id string) *Run {
	return &Run{
		ID:          id,
		compliance:  make(map[Key]bool),
		unsupported: make(map[Key]map[string]struct{}),
		provisioned: make(map[Key]error),
	}
}

// Compliance returns the recorded probe result and whether one exists.
func (r *Run) Compliance(k Key) (compliant, known bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	compliant, known = r.compliance[k]
	return compliant, known
}

// SetCompliance records a probe result. The first result wins.
func (r *Run) SetCompliance(k Key, compliant bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.compliance[k]; !ok {
		r.compliance[k] = compliant
	}
}

// MarkUnsupported records that k does not support test.
func (r *Run) MarkUnsupported(k Key, test string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.unsupported[k]
	if !ok {
		set = make(map[string]struct{})
		r.unsupported[k] = set
	}
	set[test] = struct{}{}
}

// IsUnsupported reports whether test is known to be unsupported by k.
func (r *Run) IsUnsupported(k Key, test string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.unsupported[k][test]
	return ok
}

// UnsupportedTests returns the sorted unsupported tests of k.
func (r *Run) UnsupportedTests(k Key) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tests := make([]string, 0, len(r.unsupported[k]))
	for test := range r.unsupported[k] {
		tests = append(tests, test)
	}
	sort.Strings(tests)
	return tests
}

// Provisioned returns the recorded provisioning error, if any, and whether
// provisioning was attempted.
func (r *Run) Provisioned(k Key) (err error, attempted bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	err, attempted = r.provisioned[k]
	return err, attempted
}

// SetProvisioned records the result of provisioning k.
func (r *Run) SetProvisioned(k Key, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.provisioned[k]; !ok {
		r.provisioned[k] = err
	}
}
