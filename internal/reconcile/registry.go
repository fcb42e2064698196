// Package reconcile runs the periodic self-healing sweeps that keep the
// durable queue and the record store consistent with each other: claims
// abandoned by crashes, pending records that lost their event, events that
// lost their record, and completed events past retention.
package reconcile

import "context"

// Job is one reconciliation sweep.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry tracks registered sweeps.
type Registry struct {
	jobs []Job
}

// NewRegistry builds a registry preloaded with the provided jobs.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{}
	for _, job := range jobs {
		if job == nil {
			continue
		}
		registry.jobs = append(registry.jobs, job)
	}
	return registry
}

// Register adds a job to the registry.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	r.jobs = append(r.jobs, job)
}

// Jobs returns the registered jobs in the order they were added.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}
