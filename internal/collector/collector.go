// Package collector implements the sampling contract from the spec: one
// collector per metric family, each an idempotent, side-effect-free sample
// operation bounded by a caller-supplied deadline (spec §4.1).
package collector

import (
	"context"
	"fmt"
)

// FailureReason enumerates the stable failure codes collectors may report.
// These strings are persisted verbatim in Snapshot.CollectorErrors.
type FailureReason string

const (
	ReasonTimeout            FailureReason = "timeout"
	ReasonUnsupported        FailureReason = "unsupported"
	ReasonPermissionDenied   FailureReason = "permission_denied"
	ReasonTransientError     FailureReason = "transient_error"
	ReasonMissingDependency  FailureReason = "missing_dependency"
)

// Failure is the structured error a collector returns when it cannot
// produce a fragment this tick. It is never a panic and never aborts the
// tick (spec §4.1 contract, §7 error taxonomy).
type Failure struct {
	Reason FailureReason
	Detail string
}

func (f *Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s: %s", f.Reason, f.Detail)
	}
	return string(f.Reason)
}

// Permanent reports whether this failure should auto-disable the collector
// for the remainder of the process lifetime (spec §7).
func (f *Failure) Permanent() bool {
	switch f.Reason {
	case ReasonUnsupported, ReasonMissingDependency, ReasonPermissionDenied:
		return true
	default:
		return false
	}
}

// Collector is the capability-set contract every metric family implements.
// Sample MUST honor ctx's deadline, MUST NOT mutate shared state beyond its
// own delta-tracking fields, and MUST be safe to call concurrently with
// other collectors (never with itself — the pipeline serializes calls to
// a single instance across ticks).
type Collector interface {
	Name() string
	Sample(ctx context.Context) (any, error)
}

// Registry maps collector name to instance, the polymorphism model spec §9
// recommends in place of an inheritance hierarchy.
type Registry struct {
	collectors map[string]Collector
	order      []string
}

// NewRegistry builds a registry from an ordered list of collectors.
func NewRegistry(collectors ...Collector) *Registry {
	r := &Registry{collectors: make(map[string]Collector, len(collectors))}
	for _, c := range collectors {
		r.collectors[c.Name()] = c
		r.order = append(r.order, c.Name())
	}
	return r
}

// Get returns the collector registered under name, if any.
func (r *Registry) Get(name string) (Collector, bool) {
	c, ok := r.collectors[name]
	return c, ok
}

// Names returns collector names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Disable removes a collector from Get lookups (spec §7: permanent
// collector unavailability auto-disables for the session). Names still
// lists it in registration order; callers skip names Get no longer resolves.
func (r *Registry) Disable(name string) {
	delete(r.collectors, name)
}
