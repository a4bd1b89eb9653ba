package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/productcache/internal/domain/model"
	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ProductStore = (*ProductRepo)(nil)

// timeLayout is the column format of every timestamp: UTC, second resolution.
// Text in this layout sorts chronologically, which ListStale relies on.
const timeLayout = "2006-01-02 15:04:05"

const productColumns = `
	id, identifier, marketplace, title, url, image_small, image_medium, image_large,
	price_display, price_amount, price_currency, list_price_amount, savings_percentage,
	rating, review_count, is_prime, availability, brand, description, features,
	category, is_manual, badge, button_text, last_updated, created_at`

// productRow is the persisted shape of a Product.
type productRow struct {
	ID                int64   `db:"id"`
	Identifier        string  `db:"identifier"`
	Marketplace       string  `db:"marketplace"`
	Title             string  `db:"title"`
	URL               string  `db:"url"`
	ImageSmall        string  `db:"image_small"`
	ImageMedium       string  `db:"image_medium"`
	ImageLarge        string  `db:"image_large"`
	PriceDisplay      string  `db:"price_display"`
	PriceAmount       float64 `db:"price_amount"`
	PriceCurrency     string  `db:"price_currency"`
	ListPriceAmount   float64 `db:"list_price_amount"`
	SavingsPercentage int     `db:"savings_percentage"`
	Rating            float64 `db:"rating"`
	ReviewCount       int     `db:"review_count"`
	IsPrime           bool    `db:"is_prime"`
	Availability      string  `db:"availability"`
	Brand             string  `db:"brand"`
	Description       string  `db:"description"`
	Features          string  `db:"features"`
	Category          string  `db:"category"`
	IsManual          bool    `db:"is_manual"`
	Badge             string  `db:"badge"`
	ButtonText        string  `db:"button_text"`
	LastUpdated       string  `db:"last_updated"`
	CreatedAt         string  `db:"created_at"`
}

// toRow converts a Product into its persisted shape. Features are stored as
// a JSON array; a nil list is stored as "[]".
func toRow(p model.Product) (productRow, error) {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	featuresJSON, err := json.Marshal(features)
	if err != nil {
		return productRow{}, fmt.Errorf("marshal features: %w", err)
	}

	return productRow{
		ID:                p.ID,
		Identifier:        p.Identifier,
		Marketplace:       p.Marketplace,
		Title:             p.Title,
		URL:               p.URL,
		ImageSmall:        p.ImageSmall,
		ImageMedium:       p.ImageMedium,
		ImageLarge:        p.ImageLarge,
		PriceDisplay:      p.PriceDisplay,
		PriceAmount:       p.PriceAmount,
		PriceCurrency:     p.PriceCurrency,
		ListPriceAmount:   p.ListPriceAmount,
		SavingsPercentage: p.SavingsPercentage,
		Rating:            p.Rating,
		ReviewCount:       p.ReviewCount,
		IsPrime:           p.IsPrime,
		Availability:      p.Availability,
		Brand:             p.Brand,
		Description:       p.Description,
		Features:          string(featuresJSON),
		Category:          p.Category,
		IsManual:          p.IsManual,
		Badge:             p.Badge,
		ButtonText:        p.ButtonText,
		LastUpdated:       formatTime(p.LastUpdated),
		CreatedAt:         formatTime(p.CreatedAt),
	}, nil
}

// fromRow converts a persisted row back into a Product. A features column
// that is not a JSON string array decodes to an empty list.
func fromRow(row productRow) (model.Product, error) {
	features := []string{}
	if err := json.Unmarshal([]byte(row.Features), &features); err != nil || features == nil {
		features = []string{}
	}

	lastUpdated, err := parseTime(row.LastUpdated)
	if err != nil {
		return model.Product{}, fmt.Errorf("parse last_updated: %w", err)
	}
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return model.Product{}, fmt.Errorf("parse created_at: %w", err)
	}

	return model.Product{
		ID:                row.ID,
		Identifier:        row.Identifier,
		Marketplace:       row.Marketplace,
		Title:             row.Title,
		URL:               row.URL,
		ImageSmall:        row.ImageSmall,
		ImageMedium:       row.ImageMedium,
		ImageLarge:        row.ImageLarge,
		PriceDisplay:      row.PriceDisplay,
		PriceAmount:       row.PriceAmount,
		PriceCurrency:     row.PriceCurrency,
		ListPriceAmount:   row.ListPriceAmount,
		SavingsPercentage: row.SavingsPercentage,
		Rating:            row.Rating,
		ReviewCount:       row.ReviewCount,
		IsPrime:           row.IsPrime,
		Availability:      row.Availability,
		Brand:             row.Brand,
		Description:       row.Description,
		Features:          features,
		Category:          row.Category,
		IsManual:          row.IsManual,
		Badge:             row.Badge,
		ButtonText:        row.ButtonText,
		LastUpdated:       lastUpdated,
		CreatedAt:         createdAt,
	}, nil
}

// ProductRepo is the SQLite implementation of the ProductStore port interface.
type ProductRepo struct {
	db  *DB
	now func() time.Time
}

// NewProductRepo creates a new ProductRepo backed by the given DB.
func NewProductRepo(db *DB) *ProductRepo {
	return &ProductRepo{db: db, now: time.Now}
}

// Upsert inserts or replaces a product. On conflict every column except
// created_at is overwritten, so the first-seen time survives refreshes.
func (r *ProductRepo) Upsert(ctx context.Context, p model.Product) error {
	if !p.IsValid() {
		return fmt.Errorf("upsert product %s: %w", p.Key(), driven.ErrInvalidProduct)
	}

	now := r.now().UTC()
	if p.LastUpdated.IsZero() {
		p.LastUpdated = now
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}

	row, err := toRow(p)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.Key(), err)
	}

	const query = `
		INSERT INTO products (
			identifier, marketplace, title, url, image_small, image_medium, image_large,
			price_display, price_amount, price_currency, list_price_amount, savings_percentage,
			rating, review_count, is_prime, availability, brand, description, features,
			category, is_manual, badge, button_text, last_updated, created_at
		) VALUES (
			:identifier, :marketplace, :title, :url, :image_small, :image_medium, :image_large,
			:price_display, :price_amount, :price_currency, :list_price_amount, :savings_percentage,
			:rating, :review_count, :is_prime, :availability, :brand, :description, :features,
			:category, :is_manual, :badge, :button_text, :last_updated, :created_at
		)
		ON CONFLICT(identifier, marketplace) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			image_small = excluded.image_small,
			image_medium = excluded.image_medium,
			image_large = excluded.image_large,
			price_display = excluded.price_display,
			price_amount = excluded.price_amount,
			price_currency = excluded.price_currency,
			list_price_amount = excluded.list_price_amount,
			savings_percentage = excluded.savings_percentage,
			rating = excluded.rating,
			review_count = excluded.review_count,
			is_prime = excluded.is_prime,
			availability = excluded.availability,
			brand = excluded.brand,
			description = excluded.description,
			features = excluded.features,
			category = excluded.category,
			is_manual = excluded.is_manual,
			badge = excluded.badge,
			button_text = excluded.button_text,
			last_updated = excluded.last_updated
	`

	if _, err := r.db.Writer.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("upsert product %s: %w", p.Key(), err)
	}
	return nil
}

// Get retrieves a single product by key.
// Returns nil, nil if the product does not exist.
func (r *ProductRepo) Get(ctx context.Context, key model.ProductKey) (*model.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE identifier = ? AND marketplace = ?`

	var row productRow
	err := r.db.Reader.GetContext(ctx, &row, query, key.Identifier, key.Marketplace)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", key, err)
	}

	p, err := fromRow(row)
	if err != nil {
		return nil, fmt.Errorf("decode product %s: %w", key, err)
	}
	return &p, nil
}

// Delete removes a product by key. Missing rows are not an error.
func (r *ProductRepo) Delete(ctx context.Context, key model.ProductKey) error {
	const query = `DELETE FROM products WHERE identifier = ? AND marketplace = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, key.Identifier, key.Marketplace); err != nil {
		return fmt.Errorf("delete product %s: %w", key, err)
	}
	return nil
}

// DeleteAll removes every product and reports how many rows were removed.
func (r *ProductRepo) DeleteAll(ctx context.Context) (int, error) {
	res, err := r.db.Writer.ExecContext(ctx, `DELETE FROM products`)
	if err != nil {
		return 0, fmt.Errorf("delete all products: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete all products: rows affected: %w", err)
	}
	return int(n), nil
}

// ListStale returns the keys of upstream-sourced products last updated before
// cutoff, least recently touched first. Products whose refresh was attempted
// after cutoff are skipped so delisted items cannot fill every run. Manual
// products have no upstream source and are never returned.
func (r *ProductRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]model.ProductKey, error) {
	if limit <= 0 {
		return []model.ProductKey{}, nil
	}

	const query = `
		SELECT identifier, marketplace
		FROM products
		WHERE is_manual = 0 AND last_updated < ? AND refresh_attempted_at < ?
		ORDER BY MAX(last_updated, refresh_attempted_at) ASC, id ASC
		LIMIT ?
	`

	var rows []struct {
		Identifier  string `db:"identifier"`
		Marketplace string `db:"marketplace"`
	}
	if err := r.db.Reader.SelectContext(ctx, &rows, query, formatTime(cutoff), formatTime(cutoff), limit); err != nil {
		return nil, fmt.Errorf("list stale products: %w", err)
	}

	keys := make([]model.ProductKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, model.ProductKey{Identifier: row.Identifier, Marketplace: row.Marketplace})
	}
	return keys, nil
}

// MarkRefreshAttempted stamps refresh_attempted_at on every key in one
// transaction. last_updated is left alone so the rows stay stale for readers.
func (r *ProductRepo) MarkRefreshAttempted(ctx context.Context, keys []model.ProductKey, at time.Time) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := r.db.Writer.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark refresh attempted: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `UPDATE products SET refresh_attempted_at = ? WHERE identifier = ? AND marketplace = ?`
	stamp := formatTime(at)
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, query, stamp, key.Identifier, key.Marketplace); err != nil {
			return fmt.Errorf("mark refresh attempted %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark refresh attempted: commit: %w", err)
	}
	return nil
}

// SearchManual returns manual products whose title, identifier or brand
// contains query, case-insensitively, newest first.
func (r *ProductRepo) SearchManual(ctx context.Context, query string) ([]model.Product, error) {
	stmt := `SELECT ` + productColumns + ` FROM products WHERE is_manual = 1`
	var args []any

	if q := strings.TrimSpace(query); q != "" {
		pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
		stmt += ` AND (LOWER(title) LIKE ? ESCAPE '\' OR LOWER(identifier) LIKE ? ESCAPE '\' OR LOWER(brand) LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern, pattern)
	}
	stmt += ` ORDER BY created_at DESC, id DESC`

	var rows []productRow
	if err := r.db.Reader.SelectContext(ctx, &rows, stmt, args...); err != nil {
		return nil, fmt.Errorf("search manual products: %w", err)
	}

	products := make([]model.Product, 0, len(rows))
	for _, row := range rows {
		p, err := fromRow(row)
		if err != nil {
			return nil, fmt.Errorf("decode product %s:%s: %w", row.Marketplace, row.Identifier, err)
		}
		products = append(products, p)
	}
	return products, nil
}

// escapeLike escapes the LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// parseTime tries multiple SQLite datetime formats. An empty value is the
// zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	formats := []string{
		timeLayout,
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %q", s)
}
