package domain

import "time"

// Client описывает арендатора (tenant) каталога.
// Все данные и запросы жёстко разделены по клиентам.
type Client struct {
	ID             int64
	Name           string
	Slug           string
	CurrencyCode   string
	CurrencySymbol string
	CreatedAt      time.Time
	UpdatedAt      *time.Time
	IsActive       bool
}

func NewClient(name string, slug string, currencyCode string, currencySymbol string) *Client {
	return &Client{
		Name:           name,
		Slug:           slug,
		CurrencyCode:   currencyCode,
		CurrencySymbol: currencySymbol,
	}
}
