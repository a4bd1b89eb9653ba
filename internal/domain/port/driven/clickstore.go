package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/productcache/internal/domain/model"
)

// ClickStore defines the driven port for click analytics records.
type ClickStore interface {
	Record(ctx context.Context, click model.Click) error
	// PruneBefore deletes clicks older than cutoff and returns how many were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}
