package model

import "time"

// Click records one outbound visit to a product's detail page.
type Click struct {
	ID          int64
	Identifier  string
	Marketplace string
	Referrer    string
	ClickedAt   time.Time
}
