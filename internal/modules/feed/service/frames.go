package service

import "deal_guardian/internal/models"

// opFrame — исходящая команда гейтвею.
type opFrame struct {
	Op       string           `json:"op"`
	ReqID    int64            `json:"req_id,omitempty"`
	Contract *models.Contract `json:"contract,omitempty"`
}

// tickFrame — входящий тик. px/sz несут одно поле, greeks — пачку.
type tickFrame struct {
	Type  string  `json:"type"`
	ReqID int64   `json:"req_id"`
	Field string  `json:"field,omitempty"`
	Value float64 `json:"value,omitempty"`

	IV    float64 `json:"iv,omitempty"`
	Delta float64 `json:"delta,omitempty"`
	Gamma float64 `json:"gamma,omitempty"`
	Vega  float64 `json:"vega,omitempty"`
	Theta float64 `json:"theta,omitempty"`
}
