// Package health tracks and aggregates component health for the service
// endpoint.
package health

import (
	"fmt"
	"time"
)

// Status values.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status represents the health state of a component or the whole system.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // healthy, degraded, unhealthy
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries health-related counters for a component.
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        int           `json:"error_count"`
	MessagesProcessed int64         `json:"messages_processed,omitempty"`
	LastActivity      time.Time     `json:"last_activity,omitempty"`
}

// NewHealthy builds a healthy status.
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    StateHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded builds a degraded status. Degraded components still serve.
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    StateDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy builds an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    StateUnhealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// IsHealthy reports whether the status is healthy.
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded reports whether the status is degraded.
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// WithMetrics returns a copy of the status with metrics attached.
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// Aggregate folds component statuses into one system status: any unhealthy
// component makes the system unhealthy, any degraded one makes it degraded.
func Aggregate(systemName string, statuses []Status) Status {
	state := StateHealthy
	unhealthy, degraded := 0, 0
	for _, s := range statuses {
		switch s.Status {
		case StateUnhealthy:
			unhealthy++
		case StateDegraded:
			degraded++
		}
	}
	switch {
	case unhealthy > 0:
		state = StateUnhealthy
	case degraded > 0:
		state = StateDegraded
	}

	return Status{
		Component:   systemName,
		Healthy:     state == StateHealthy,
		Status:      state,
		Message:     fmt.Sprintf("%d components: %d unhealthy, %d degraded", len(statuses), unhealthy, degraded),
		Timestamp:   time.Now(),
		SubStatuses: statuses,
	}
}
