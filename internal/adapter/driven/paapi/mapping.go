package paapi

import (
	"math"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ericfisherdev/productcache/internal/domain/model"
)

// mapItem converts one item of a SearchItems or GetItems response into a
// domain Product. Every path is optional: a missing branch yields the zero
// value of the field, never an error.
func mapItem(item gjson.Result, marketplace string, now time.Time) model.Product {
	listing := item.Get("Offers.Listings.0")

	brand := item.Get("ItemInfo.ByLineInfo.Brand.DisplayValue").String()
	if brand == "" {
		brand = item.Get("ItemInfo.ByLineInfo.Manufacturer.DisplayValue").String()
	}

	category := item.Get("BrowseNodeInfo.BrowseNodes.0.DisplayName").String()
	if category == "" {
		category = item.Get("ItemInfo.Classifications.ProductGroup.DisplayValue").String()
	}

	features := stringList(item.Get("ItemInfo.Features.DisplayValues"))

	var description string
	if len(features) > 0 {
		description = features[0]
	}

	now = now.UTC().Truncate(time.Second)

	p := model.Product{
		Identifier:        strings.TrimSpace(item.Get("ASIN").String()),
		Marketplace:       marketplace,
		Title:             strings.TrimSpace(item.Get("ItemInfo.Title.DisplayValue").String()),
		URL:               item.Get("DetailPageURL").String(),
		ImageSmall:        item.Get("Images.Primary.Small.URL").String(),
		ImageMedium:       item.Get("Images.Primary.Medium.URL").String(),
		ImageLarge:        item.Get("Images.Primary.Large.URL").String(),
		PriceDisplay:      listing.Get("Price.DisplayAmount").String(),
		PriceAmount:       listing.Get("Price.Amount").Float(),
		PriceCurrency:     listing.Get("Price.Currency").String(),
		ListPriceAmount:   listing.Get("SavingBasis.Amount").Float(),
		SavingsPercentage: int(listing.Get("Price.Savings.Percentage").Int()),
		Rating:            math.Round(item.Get("CustomerReviews.StarRating.Value").Float()*10) / 10,
		ReviewCount:       int(item.Get("CustomerReviews.Count").Int()),
		IsPrime:           listing.Get("DeliveryInfo.IsPrimeEligible").Bool(),
		Availability:      listing.Get("Availability.Message").String(),
		Brand:             brand,
		Description:       description,
		Features:          features,
		Category:          category,
		LastUpdated:       now,
		CreatedAt:         now,
	}
	p.Clamp()

	return p
}

// stringList returns the non-empty trimmed strings of a JSON array; any
// other JSON value yields an empty list.
func stringList(r gjson.Result) []string {
	out := []string{}
	if !r.IsArray() {
		return out
	}
	for _, v := range r.Array() {
		if s := strings.TrimSpace(v.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}
