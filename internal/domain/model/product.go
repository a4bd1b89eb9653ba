package model

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Product is a normalized snapshot of one marketplace item. Identifier and
// Marketplace together form its unique key.
type Product struct {
	ID                int64
	Identifier        string
	Marketplace       string
	Title             string
	URL               string
	ImageSmall        string
	ImageMedium       string
	ImageLarge        string
	PriceDisplay      string
	PriceAmount       float64
	PriceCurrency     string
	ListPriceAmount   float64
	SavingsPercentage int
	Rating            float64
	ReviewCount       int
	IsPrime           bool
	Availability      string
	Brand             string
	Description       string
	Features          []string
	Category          string
	IsManual          bool
	Badge             string
	ButtonText        string
	LastUpdated       time.Time
	CreatedAt         time.Time
}

// ProductKey identifies a product within a marketplace.
type ProductKey struct {
	Identifier  string
	Marketplace string
}

// String returns the key as MARKETPLACE:IDENTIFIER.
func (k ProductKey) String() string {
	return k.Marketplace + ":" + k.Identifier
}

// Key returns the (identifier, marketplace) pair of the product.
func (p Product) Key() ProductKey {
	return ProductKey{Identifier: p.Identifier, Marketplace: p.Marketplace}
}

// IsValid reports whether the product carries the minimum data worth storing.
func (p Product) IsValid() bool {
	return strings.TrimSpace(p.Identifier) != "" && strings.TrimSpace(p.Title) != ""
}

// IsStale reports whether the product was last updated more than maxAge
// before now. A product that was never stamped is always stale.
func (p Product) IsStale(now time.Time, maxAge time.Duration) bool {
	if p.LastUpdated.IsZero() {
		return true
	}
	return now.Sub(p.LastUpdated) > maxAge
}

// Clamp forces the numeric attributes into their documented ranges.
func (p *Product) Clamp() {
	switch {
	case p.Rating < 0:
		p.Rating = 0
	case p.Rating > 5:
		p.Rating = 5
	}
	switch {
	case p.SavingsPercentage < 0:
		p.SavingsPercentage = 0
	case p.SavingsPercentage > 100:
		p.SavingsPercentage = 100
	}
	if p.ReviewCount < 0 {
		p.ReviewCount = 0
	}
	if p.Features == nil {
		p.Features = []string{}
	}
}

var (
	currencyPrefix = regexp.MustCompile(`^[^\d\s]+`)
	amountPrinter  = message.NewPrinter(language.English)
)

// ListPrice formats the pre-discount amount with the currency symbol used in
// PriceDisplay, e.g. "$1,299.00" for a display price of "$999.00". Returns an
// empty string when the product has no list price.
func (p Product) ListPrice() string {
	if p.ListPriceAmount <= 0 {
		return ""
	}

	amount := amountPrinter.Sprintf("%.2f", p.ListPriceAmount)

	if prefix := currencyPrefix.FindString(strings.TrimSpace(p.PriceDisplay)); prefix != "" {
		return prefix + amount
	}
	if p.PriceCurrency != "" {
		return p.PriceCurrency + " " + amount
	}
	return "$" + amount
}
