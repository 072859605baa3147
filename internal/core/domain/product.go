package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	DiscountedPrice decimal.Decimal `json:"discounted_price"`
	Quantity        int             `json:"quantity"`
	Category        string          `json:"category"`
	Image           string          `json:"image"`
	Description     string          `json:"description"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type ProductFilter struct {
	Offset   int
	Limit    int
	Category string
	Query    string
}

type ProductPage struct {
	Total    int       `json:"total"`
	Products []Product `json:"products"`
}
