package application

import (
	"bytes"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	gpvalidator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/ericfisherdev/productcache/internal/domain/model"
	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
)

var (
	validateOnce sync.Once
	validate     *gpvalidator.Validate

	// textPolicy strips all markup from single-line fields and feature bullets.
	textPolicy = bluemonday.StrictPolicy()
	// descriptionPolicy keeps basic formatting in descriptions.
	descriptionPolicy = bluemonday.UGCPolicy()

	// Raw HTML passes through the renderer; descriptionPolicy removes what
	// is unsafe afterwards.
	descriptionRenderer = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(goldmarkhtml.WithUnsafe()),
	)
)

func validator() *gpvalidator.Validate {
	validateOnce.Do(func() {
		validate = gpvalidator.New()
	})
	return validate
}

// manualInput holds the parsed attributes of a manual product before they
// are copied onto a Product.
type manualInput struct {
	Identifier        string  `validate:"omitempty,alphanum,min=10,max=13"`
	Title             string  `validate:"required,max=500"`
	URL               string  `validate:"omitempty,url"`
	Image             string  `validate:"omitempty,url"`
	PriceAmount       float64 `validate:"gte=0"`
	ListPriceAmount   float64 `validate:"gte=0"`
	SavingsPercentage int     `validate:"gte=0,lte=100"`
	Rating            float64 `validate:"gte=0,lte=5"`
	ReviewCount       int     `validate:"gte=0"`
}

// NewManualProduct builds a manually-created product from flat attributes.
//
// Recognized keys: identifier, marketplace, title, url, image (or
// image_small/image_medium/image_large), price, price_amount, currency,
// list_price, savings, rating, review_count, prime, availability, brand,
// description, features (one per line), category, badge, button_text.
//
// Missing marketplace selects defaultMarketplace and missing currency "USD".
// A missing identifier is generated. Markup is stripped from text fields.
// Descriptions are Markdown and keep safe formatting.
func NewManualProduct(attrs map[string]string, defaultMarketplace string, now time.Time) (model.Product, error) {
	a := make(map[string]string, len(attrs))
	for k, v := range attrs {
		a[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	var in manualInput
	var err error

	in.Identifier = strings.ToUpper(a["identifier"])
	in.Title = plainText(a["title"])
	in.URL = a["url"]
	in.Image = a["image"]

	if in.PriceAmount, err = parseFloat(a, "price_amount"); err != nil {
		return model.Product{}, err
	}
	if in.ListPriceAmount, err = parseFloat(a, "list_price"); err != nil {
		return model.Product{}, err
	}
	if in.SavingsPercentage, err = parseInt(a, "savings"); err != nil {
		return model.Product{}, err
	}
	if in.Rating, err = parseFloat(a, "rating"); err != nil {
		return model.Product{}, err
	}
	if in.ReviewCount, err = parseInt(a, "review_count"); err != nil {
		return model.Product{}, err
	}

	if err := validator().Struct(in); err != nil {
		return model.Product{}, fmt.Errorf("manual product: %s: %w", err.Error(), driven.ErrValidation)
	}

	prime := false
	if v := a["prime"]; v != "" {
		if prime, err = strconv.ParseBool(v); err != nil {
			return model.Product{}, fmt.Errorf("manual product: prime %q is not a boolean: %w", v, driven.ErrValidation)
		}
	}

	marketplace := defaultMarketplace
	if v := a["marketplace"]; v != "" {
		if !model.IsValidMarketplace(v) {
			return model.Product{}, fmt.Errorf("manual product: unknown marketplace %q: %w", v, driven.ErrValidation)
		}
		marketplace = v
	}
	marketplace = model.LookupMarketplace(marketplace).Code

	currency := strings.ToUpper(a["currency"])
	if currency == "" {
		currency = "USD"
	}

	if in.Identifier == "" {
		in.Identifier = generateIdentifier()
	}

	images := [3]string{a["image_small"], a["image_medium"], a["image_large"]}
	for i := range images {
		if images[i] == "" {
			images[i] = in.Image
		}
	}

	priceDisplay := plainText(a["price"])
	if priceDisplay == "" && in.PriceAmount > 0 {
		priceDisplay = model.Product{ListPriceAmount: in.PriceAmount, PriceCurrency: currency}.ListPrice()
	}

	now = now.UTC().Truncate(time.Second)

	p := model.Product{
		Identifier:        in.Identifier,
		Marketplace:       marketplace,
		Title:             in.Title,
		URL:               in.URL,
		ImageSmall:        images[0],
		ImageMedium:       images[1],
		ImageLarge:        images[2],
		PriceDisplay:      priceDisplay,
		PriceAmount:       in.PriceAmount,
		PriceCurrency:     currency,
		ListPriceAmount:   in.ListPriceAmount,
		SavingsPercentage: in.SavingsPercentage,
		Rating:            in.Rating,
		ReviewCount:       in.ReviewCount,
		IsPrime:           prime,
		Availability:      plainText(a["availability"]),
		Brand:             plainText(a["brand"]),
		Description:       renderDescription(a["description"]),
		Features:          splitFeatures(a["features"]),
		Category:          plainText(a["category"]),
		IsManual:          true,
		Badge:             plainText(a["badge"]),
		ButtonText:        plainText(a["button_text"]),
		LastUpdated:       now,
		CreatedAt:         now,
	}
	p.Clamp()

	return p, nil
}

// generateIdentifier returns "M" followed by nine upper-case hex digits.
func generateIdentifier() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "M" + strings.ToUpper(hex[:9])
}

// renderDescription converts a Markdown description to sanitized HTML.
func renderDescription(src string) string {
	if src == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := descriptionRenderer.Convert([]byte(src), &buf); err != nil {
		return strings.TrimSpace(descriptionPolicy.Sanitize(src))
	}
	return strings.TrimSpace(descriptionPolicy.Sanitize(buf.String()))
}

// plainText strips all markup and decodes the entities the sanitizer emits.
func plainText(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

func splitFeatures(s string) []string {
	out := []string{}
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if f := plainText(line); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func parseFloat(a map[string]string, key string) (float64, error) {
	v := a[key]
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("manual product: %s %q is not a number: %w", key, v, driven.ErrValidation)
	}
	return f, nil
}

func parseInt(a map[string]string, key string) (int, error) {
	v := a[key]
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("manual product: %s %q is not a whole number: %w", key, v, driven.ErrValidation)
	}
	return n, nil
}
