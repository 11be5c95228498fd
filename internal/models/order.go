package models

type Side string

const (
	SideNone Side = ""
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderRequest — то, что гардиан отдаёт наружу; сабмитит его шедулер.
type OrderRequest struct {
	Side       Side      `json:"side"`
	Type       OrderType `json:"type"`
	Qty        float64   `json:"qty"`
	Contract   Contract  `json:"contract"`
	LimitPrice float64   `json:"limit_price,omitempty"`
	TIF        string    `json:"tif"`
	Reason     string    `json:"reason"` // для аудита/телеметрии
}

// FillEvent приходит от гейтвея через шедулер.
type FillEvent struct {
	OrderID   string  `json:"order_id"`
	CumFilled float64 `json:"cum_filled"`
	AvgPrice  float64 `json:"avg_price"`
	Remaining float64 `json:"remaining"`
	Status    string  `json:"status"`
}

// OrderDeath — ордер умер без полного исполнения (cancel/reject).
type OrderDeath struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}
