package cron

import (
	"context"
	"slices"
	"time"

	"gorm.io/gorm"
)

// Job is one unit of scheduled maintenance.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Periodic jobs run at most once per Every(). Jobs without it run on every tick.
type Periodic interface {
	Every() time.Duration
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Registry keeps jobs in the order they run within a tick.
type Registry struct {
	jobs []Job
}

// NewRegistry drops nil entries so optional jobs can be passed unconditionally.
func NewRegistry(jobs ...Job) *Registry {
	return &Registry{jobs: slices.DeleteFunc(slices.Clone(jobs), func(j Job) bool { return j == nil })}
}

func (r *Registry) Jobs() []Job {
	return slices.Clone(r.jobs)
}
