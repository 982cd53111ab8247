// Package healthcheck holds health probes for optional components.
package healthcheck

import (
	"context"
	"fmt"

	"github.com/lllypuk/libranotify/internal/infrastructure/httpserver"
)

// DeadLetterComponent is the component name reported by DeadLetterChecker.
const DeadLetterComponent = "dead_letters"

// DeadLetterQueue reports how many events failed delivery.
// Declared on the consumer side per project guidelines.
type DeadLetterQueue interface {
	QueueLength(ctx context.Context) (int64, error)
}

// DeadLetterChecker reports the dead letter queue as a health component.
type DeadLetterChecker struct {
	queue DeadLetterQueue
}

// NewDeadLetterChecker creates a new dead letter queue health checker.
func NewDeadLetterChecker(queue DeadLetterQueue) *DeadLetterChecker {
	return &DeadLetterChecker{queue: queue}
}

// Check reads the queue length. A non-empty queue is degraded; an
// unreadable one is unhealthy.
func (c *DeadLetterChecker) Check(ctx context.Context) httpserver.ComponentStatus {
	status := httpserver.ComponentStatus{Name: DeadLetterComponent, Status: httpserver.StatusHealthy}

	count, err := c.queue.QueueLength(ctx)
	if err != nil {
		status.Status = httpserver.StatusUnhealthy
		status.Message = fmt.Sprintf("failed to get dead letter queue length: %v", err)
		return status
	}

	if count > 0 {
		status.Status = httpserver.StatusDegraded
		status.Message = fmt.Sprintf("dead letter queue: %d events", count)
	}
	return status
}
