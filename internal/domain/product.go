package domain

import "time"

// Product описывает продукт каталога
type Product struct {
	ID         int64
	ClientID   int64
	Name       string
	SKU        string
	Price      int64 // Цена хранится в копейках
	StockLevel int32
	CreatedAt  time.Time
	UpdatedAt  *time.Time
	IsActive   bool
}

func NewProduct(clientID int64, name string, sku string, price int64) *Product {
	return &Product{
		ClientID: clientID,
		Name:     name,
		SKU:      sku,
		Price:    price,
	}
}
