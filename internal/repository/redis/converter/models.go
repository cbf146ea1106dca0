package converter

// ProductCardRedisModel — JSON-представление карточки продукта в кэше.
type ProductCardRedisModel struct {
	ID         int64  `json:"id"`
	ClientID   int64  `json:"client_id"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	Price      int64  `json:"price"`
	StockLevel int32  `json:"stock_level"`
}
