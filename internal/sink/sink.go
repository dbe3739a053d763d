// Package sink delivers decision records to durable outputs.
package sink

import (
	"context"

	"github.com/shortontech/trafficgate/internal/event"
)

type Sink interface {
	Start(ctx context.Context) error
	Enqueue(e event.Decision) error
	Close() error
	Name() string // Returns the sink name for metrics and logging
}
