package engine

import (
	"time"

	"github.com/c360/replyflow/component"
)

// Metadata implements component.Component.
func (e *Engine) Metadata() component.Metadata {
	return component.Metadata{
		Name:        "engine",
		Type:        "processor",
		Description: "Evaluates inbound messages against reply and moderation rules",
		Version:     "1.0.0",
	}
}

// Health implements component.Component.
func (e *Engine) Health() component.HealthStatus {
	e.mu.RLock()
	state := e.state
	startedAt := e.startedAt
	lastErr := e.lastErr
	e.mu.RUnlock()

	status := component.HealthStatus{
		Healthy:    state == component.StateStarted,
		LastCheck:  time.Now(),
		ErrorCount: int(e.errorCount.Load()),
	}
	if lastErr != nil {
		status.LastError = lastErr.Error()
	}
	if !startedAt.IsZero() {
		status.Uptime = time.Since(startedAt)
	}
	return status
}

// DataFlow implements component.Component.
func (e *Engine) DataFlow() component.FlowMetrics {
	e.mu.RLock()
	startedAt := e.startedAt
	e.mu.RUnlock()

	flow := component.FlowMetrics{}
	if last, ok := e.lastActive.Load().(time.Time); ok {
		flow.LastActivity = last
	}

	processed := e.processed.Load()
	if !startedAt.IsZero() && processed > 0 {
		elapsed := time.Since(startedAt).Seconds()
		if elapsed > 0 {
			flow.MessagesPerSecond = float64(processed) / elapsed
		}
		flow.ErrorRate = float64(e.errorCount.Load()) / float64(processed)
	}
	return flow
}

// State returns the current lifecycle state.
func (e *Engine) State() component.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}
