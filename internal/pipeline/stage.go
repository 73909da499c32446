package pipeline

import (
	"context"
	"time"
)

// Default stage names, in execution order.
const (
	StageValidation    = "validation"
	StagePreprocessing = "preprocessing"
	StageComposition   = "composition"
	StageEncoding      = "encoding"
	StageFinalization  = "finalization"
)

// Stage is one step of a render job.
type Stage interface {
	Name() string
	// EstimatedDuration is advisory and only used for logging.
	EstimatedDuration(*Context) time.Duration
	CanSkip(*Context) bool
	Process(context.Context, *Context) error
}

// HealthChecker is implemented by stages that depend on external resources.
type HealthChecker interface {
	HealthCheck(context.Context) Health
}

// Health summarizes the readiness of a stage.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// StageFunc adapts plain functions to Stage, mostly for tests and extensions.
type StageFunc struct {
	StageName string
	Estimate  time.Duration
	Skip      func(*Context) bool
	Run       func(context.Context, *Context) error
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) EstimatedDuration(*Context) time.Duration { return s.Estimate }

func (s StageFunc) CanSkip(pc *Context) bool {
	if s.Skip == nil {
		return false
	}
	return s.Skip(pc)
}

func (s StageFunc) Process(ctx context.Context, pc *Context) error {
	if s.Run == nil {
		return nil
	}
	return s.Run(ctx, pc)
}
