// Package component defines the lifecycle and introspection contract that
// long-running pieces of the engine implement, plus a NATS-publishing
// logger for operational visibility.
package component

import (
	"context"
	"time"
)

// State represents the current lifecycle state of a component.
type State int

// Lifecycle states.
const (
	StateCreated State = iota
	StateStarted
	StateStopped
	StateFailed
)

// String returns a string representation of the component state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Component is the contract for long-running engine pieces:
//   - Start(ctx) begins work, returning once the component is running
//   - Stop(timeout) shuts down gracefully within the timeout
//   - the remaining methods expose identity, health, and throughput
type Component interface {
	Metadata() Metadata
	Health() HealthStatus
	DataFlow() FlowMetrics
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// Metadata describes what a component is.
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "input", "processor", "output", "storage"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus describes the current health state of a component.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics describes the current data flow through a component.
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}
