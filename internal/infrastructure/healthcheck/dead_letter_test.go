package healthcheck_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lllypuk/libranotify/internal/infrastructure/healthcheck"
	"github.com/lllypuk/libranotify/internal/infrastructure/httpserver"
)

type queueStub struct {
	length int64
	err    error
}

func (q queueStub) QueueLength(context.Context) (int64, error) {
	return q.length, q.err
}

func TestDeadLetterChecker_Check(t *testing.T) {
	tests := []struct {
		name        string
		queue       queueStub
		wantStatus  string
		wantMessage string
	}{
		{"empty", queueStub{}, httpserver.StatusHealthy, ""},
		{"pending", queueStub{length: 3}, httpserver.StatusDegraded, "dead letter queue: 3 events"},
		{"error", queueStub{err: errors.New("conn refused")}, httpserver.StatusUnhealthy,
			"failed to get dead letter queue length: conn refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := healthcheck.NewDeadLetterChecker(tt.queue).Check(t.Context())

			assert.Equal(t, healthcheck.DeadLetterComponent, status.Name)
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, tt.wantMessage, status.Message)
		})
	}
}
