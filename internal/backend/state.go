package backend

import (
	"sync"

	"batchbridge/internal/apperrors"
	"batchbridge/internal/gate"
	"batchbridge/internal/job"
)

// record holds the runtime state for a single job. Its mutex serializes
// poll against kill on the same handle; all other components are stateless
// or per-call.
type record struct {
	mu sync.Mutex

	spec     *job.Spec
	identity job.Identity
	status   job.Status
	slot     *gate.Slot
	exitCode *int
	reason   string
}

// reportLocked builds a StatusReport. Caller holds rec.mu.
func (r *record) reportLocked() job.StatusReport {
	external, _ := r.identity.External()
	return job.StatusReport{
		ID:         r.identity.Internal(),
		ExternalID: external,
		Status:     r.status,
		ExitCode:   r.exitCode,
		Reason:     r.reason,
	}
}

// stateRepo manages job records with thread-safe access.
type stateRepo struct {
	mu   sync.RWMutex
	jobs map[string]*record
}

func newStateRepo() *stateRepo {
	return &stateRepo{jobs: make(map[string]*record)}
}

// reserve creates the record for a new job in Pending state. Returns a
// conflict error if the name is already taken.
func (s *stateRepo) reserve(spec *job.Spec) (*record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[spec.Name]; exists {
		return nil, apperrors.Conflict("job", spec.Name, "job already exists")
	}
	rec := &record{
		spec:     spec,
		identity: job.Provisional(spec.Name),
		status:   job.StatusPending,
	}
	s.jobs[spec.Name] = rec
	return rec, nil
}

// remove drops a record, undoing a reservation that never reached the
// scheduler.
func (s *stateRepo) remove(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
}

// get retrieves a job's record.
func (s *stateRepo) get(jobID string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, exists := s.jobs[jobID]
	return rec, exists
}

// list returns all records.
func (s *stateRepo) list() []*record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*record, 0, len(s.jobs))
	for _, rec := range s.jobs {
		out = append(out, rec)
	}
	return out
}
