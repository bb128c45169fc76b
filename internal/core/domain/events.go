package domain

const (
	EventStockAdjusted = "inventory.stock.adjusted"
	EventStockLow      = "inventory.stock.low"
	EventStockReserved = "inventory.stock.reserved"
	EventStockReleased = "inventory.stock.released"
)

// Event is a record produced by a successful aggregate call. Delivery is
// left to whoever receives it.
type Event interface {
	EventName() string
	AggregateID() string
}

type StockAdjusted struct {
	StockItemID string `json:"stock_item_id"`
	ProductID   string `json:"product_id"`
	Adjustment  int    `json:"adjustment"`
	NewQuantity int    `json:"new_quantity"`
}

func (e StockAdjusted) EventName() string   { return EventStockAdjusted }
func (e StockAdjusted) AggregateID() string { return e.StockItemID }

type StockLow struct {
	StockItemID string `json:"stock_item_id"`
	ProductID   string `json:"product_id"`
	NewQuantity int    `json:"new_quantity"`
}

func (e StockLow) EventName() string   { return EventStockLow }
func (e StockLow) AggregateID() string { return e.StockItemID }

type StockReserved struct {
	StockItemID   string `json:"stock_item_id"`
	ProductID     string `json:"product_id"`
	ReservationID string `json:"reservation_id"`
	Quantity      int    `json:"quantity"`
}

func (e StockReserved) EventName() string   { return EventStockReserved }
func (e StockReserved) AggregateID() string { return e.StockItemID }

type StockReleased struct {
	StockItemID   string `json:"stock_item_id"`
	ProductID     string `json:"product_id"`
	ReservationID string `json:"reservation_id"`
	Quantity      int    `json:"quantity"`
}

func (e StockReleased) EventName() string   { return EventStockReleased }
func (e StockReleased) AggregateID() string { return e.StockItemID }
