package model

import (
	"sort"
	"strings"
)

// DefaultMarketplace is the code used when a caller passes an unknown or
// empty marketplace.
const DefaultMarketplace = "US"

// Marketplace describes a regional storefront and the API endpoint that
// serves it.
type Marketplace struct {
	Code     string
	Host     string
	Region   string
	Domain   string
	Label    string
	Currency string
}

var marketplaces = map[string]Marketplace{
	"US": {Code: "US", Host: "webservices.amazon.com", Region: "us-east-1", Domain: "www.amazon.com", Label: "United States", Currency: "USD"},
	"CA": {Code: "CA", Host: "webservices.amazon.ca", Region: "us-east-1", Domain: "www.amazon.ca", Label: "Canada", Currency: "CAD"},
	"MX": {Code: "MX", Host: "webservices.amazon.com.mx", Region: "us-east-1", Domain: "www.amazon.com.mx", Label: "Mexico", Currency: "MXN"},
	"BR": {Code: "BR", Host: "webservices.amazon.com.br", Region: "us-east-1", Domain: "www.amazon.com.br", Label: "Brazil", Currency: "BRL"},
	"UK": {Code: "UK", Host: "webservices.amazon.co.uk", Region: "eu-west-1", Domain: "www.amazon.co.uk", Label: "United Kingdom", Currency: "GBP"},
	"DE": {Code: "DE", Host: "webservices.amazon.de", Region: "eu-west-1", Domain: "www.amazon.de", Label: "Germany", Currency: "EUR"},
	"FR": {Code: "FR", Host: "webservices.amazon.fr", Region: "eu-west-1", Domain: "www.amazon.fr", Label: "France", Currency: "EUR"},
	"IT": {Code: "IT", Host: "webservices.amazon.it", Region: "eu-west-1", Domain: "www.amazon.it", Label: "Italy", Currency: "EUR"},
	"ES": {Code: "ES", Host: "webservices.amazon.es", Region: "eu-west-1", Domain: "www.amazon.es", Label: "Spain", Currency: "EUR"},
	"IN": {Code: "IN", Host: "webservices.amazon.in", Region: "eu-west-1", Domain: "www.amazon.in", Label: "India", Currency: "INR"},
	"JP": {Code: "JP", Host: "webservices.amazon.co.jp", Region: "us-west-2", Domain: "www.amazon.co.jp", Label: "Japan", Currency: "JPY"},
	"AU": {Code: "AU", Host: "webservices.amazon.com.au", Region: "us-west-2", Domain: "www.amazon.com.au", Label: "Australia", Currency: "AUD"},
}

// normalizeMarketplaceCode upper-cases the code and maps aliases.
func normalizeMarketplaceCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "GB" {
		return "UK"
	}
	return code
}

// LookupMarketplace returns the marketplace for code. Unknown codes resolve
// to the US marketplace instead of failing.
func LookupMarketplace(code string) Marketplace {
	if m, ok := marketplaces[normalizeMarketplaceCode(code)]; ok {
		return m
	}
	return marketplaces[DefaultMarketplace]
}

// IsValidMarketplace reports whether code names a known marketplace.
func IsValidMarketplace(code string) bool {
	_, ok := marketplaces[normalizeMarketplaceCode(code)]
	return ok
}

// MarketplaceCodes returns every known marketplace code in sorted order.
func MarketplaceCodes() []string {
	codes := make([]string, 0, len(marketplaces))
	for code := range marketplaces {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
