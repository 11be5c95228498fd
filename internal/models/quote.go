package models

import "time"

// Quote — снэпшот последних тиков по одному инструменту.
// Читатели получают копию, мутирует только кэш.
type Quote struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Last float64 `json:"last"`

	BidSize      float64 `json:"bid_size"`
	AskSize      float64 `json:"ask_size"`
	Volume       float64 `json:"volume"`
	OpenInterest float64 `json:"open_interest"`

	// опционы
	IV    float64 `json:"iv,omitempty"`
	Delta float64 `json:"delta,omitempty"`
	Gamma float64 `json:"gamma,omitempty"`
	Vega  float64 `json:"vega,omitempty"`
	Theta float64 `json:"theta,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Mid — середина спреда, при пустом стакане откатываемся на last.
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

func (q Quote) Spread() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return q.Ask - q.Bid
	}
	return 0
}

func (q Quote) Age() time.Duration {
	if q.UpdatedAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return time.Since(q.UpdatedAt)
}
