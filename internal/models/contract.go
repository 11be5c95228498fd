package models

import "fmt"

type SecType string

const (
	SecStock    SecType = "STK"
	SecOption   SecType = "OPT"
	SecFuture   SecType = "FUT"
	SecCurrency SecType = "CASH"
)

type Right string

const (
	RightCall Right = "C"
	RightPut  Right = "P"
)

// Contract описывает инструмент так, как его ждёт фид и ордер-гейтвей.
type Contract struct {
	Symbol   string  `json:"symbol"`
	SecType  SecType `json:"sec_type"`
	Exchange string  `json:"exchange"`
	Currency string  `json:"currency"`

	// только для деривативов
	Strike     float64 `json:"strike,omitempty"`
	Expiry     string  `json:"expiry,omitempty"` // YYYYMMDD
	Right      Right   `json:"right,omitempty"`
	Multiplier float64 `json:"multiplier,omitempty"`
}

// CacheKey — логический ключ в кэше котировок.
// Акции: "AAPL"; опционы: "AAPL:190:20261218:C".
func (c Contract) CacheKey() string {
	if c.SecType == SecOption {
		return fmt.Sprintf("%s:%g:%s:%s", c.Symbol, c.Strike, c.Expiry, c.Right)
	}
	return c.Symbol
}
