package health

import (
	"fmt"
	"time"
)

// Status values, ordered from best to worst.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

func severity(state string) int {
	switch state {
	case StateHealthy:
		return 0
	case StateDegraded:
		return 1
	default:
		return 2
	}
}

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy returns a healthy status.
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy returns an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded returns a degraded status. A reconnecting connection is
// degraded, not unhealthy.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// Aggregate takes the worst sub-status and reports how many components
// share it. No sub-statuses is healthy.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "no components registered")
	}

	worst := StateHealthy
	count := 0
	for _, sub := range subStatuses {
		switch s := severity(sub.Status); {
		case s > severity(worst):
			worst, count = sub.Status, 1
			if s == 2 {
				worst = StateUnhealthy
			}
		case s == severity(worst):
			count++
		}
	}

	var msg string
	if worst == StateHealthy {
		msg = fmt.Sprintf("all %d components healthy", len(subStatuses))
	} else {
		msg = fmt.Sprintf("%d of %d components %s", count, len(subStatuses), worst)
	}

	status := newStatus(component, worst, msg)
	status.SubStatuses = append([]Status(nil), subStatuses...)
	return status
}
