package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/productcache/internal/domain/model"
	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ClickStore = (*ClickRepo)(nil)

// ClickRepo is the SQLite implementation of the ClickStore port interface.
type ClickRepo struct {
	db *DB
}

// NewClickRepo creates a new ClickRepo backed by the given DB.
func NewClickRepo(db *DB) *ClickRepo {
	return &ClickRepo{db: db}
}

// Record appends one click.
func (r *ClickRepo) Record(ctx context.Context, click model.Click) error {
	if click.ClickedAt.IsZero() {
		click.ClickedAt = time.Now()
	}

	const query = `INSERT INTO clicks (identifier, marketplace, referrer, clicked_at) VALUES (?, ?, ?, ?)`
	_, err := r.db.Writer.ExecContext(ctx, query,
		click.Identifier, click.Marketplace, click.Referrer, formatTime(click.ClickedAt),
	)
	if err != nil {
		return fmt.Errorf("record click %s:%s: %w", click.Marketplace, click.Identifier, err)
	}
	return nil
}

// PruneBefore deletes clicks recorded before cutoff.
func (r *ClickRepo) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.Writer.ExecContext(ctx, `DELETE FROM clicks WHERE clicked_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune clicks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune clicks: rows affected: %w", err)
	}
	return int(n), nil
}
