package models

import "time"

// OptionType represents the type of option contract.
type OptionType string

const (
	// OptionTypeCall represents a call option contract
	OptionTypeCall OptionType = "call"
	// OptionTypePut represents a put option contract
	OptionTypePut OptionType = "put"
)

// Valid returns true if the OptionType is one of the defined constants.
func (t OptionType) Valid() bool {
	return t == OptionTypeCall || t == OptionTypePut
}

// OptionQuote is a single contract row from an option-chain snapshot.
// Quotes are read-only inside the engine; providers own their lifecycle.
type OptionQuote struct {
	Symbol       string     `json:"symbol"`
	Strike       float64    `json:"strike"`
	OptionType   OptionType `json:"option_type"`
	Bid          float64    `json:"bid"`
	Ask          float64    `json:"ask"`
	Last         float64    `json:"last"`
	Volume       int64      `json:"volume"`
	OpenInterest int64      `json:"open_interest"`
	Expiry       time.Time  `json:"expiry"`
}

// Mid returns the bid/ask midpoint, falling back to the last trade when
// the book is one-sided or empty.
func (q OptionQuote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 && q.Ask >= q.Bid {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// Moneyness returns the signed offset of the strike from spot as a fraction
// of spot. Positive values are above spot.
func (q OptionQuote) Moneyness(spot float64) float64 {
	if spot == 0 {
		return 0
	}
	return (q.Strike - spot) / spot
}

// ChainSnapshot is one point-in-time view of a same-day-expiry option chain.
type ChainSnapshot struct {
	Symbol    string        `json:"symbol"`
	Timestamp time.Time     `json:"timestamp"`
	Quotes    []OptionQuote `json:"quotes"`
}

// Calls returns the call quotes in the snapshot.
func (c *ChainSnapshot) Calls() []OptionQuote {
	return c.filter(OptionTypeCall)
}

// Puts returns the put quotes in the snapshot.
func (c *ChainSnapshot) Puts() []OptionQuote {
	return c.filter(OptionTypePut)
}

func (c *ChainSnapshot) filter(t OptionType) []OptionQuote {
	out := make([]OptionQuote, 0, len(c.Quotes)/2)
	for _, q := range c.Quotes {
		if q.OptionType == t {
			out = append(out, q)
		}
	}
	return out
}

// TotalVolume sums traded contract volume across the whole chain.
func (c *ChainSnapshot) TotalVolume() int64 {
	var total int64
	for _, q := range c.Quotes {
		total += q.Volume
	}
	return total
}

// IsEmpty reports whether the snapshot carries no quotes at all.
func (c *ChainSnapshot) IsEmpty() bool {
	return c == nil || len(c.Quotes) == 0
}

// TermStructure is an optional pair of volatility-index levels used to read
// the short-dated volatility curve (e.g. VIX9D vs VIX).
type TermStructure struct {
	ShortTermLevel float64 `json:"short_term_level"`
	NearTermLevel  float64 `json:"near_term_level"`
}

// Slope returns shortTerm minus nearTerm. Positive slope (inverted curve)
// signals near-dated stress.
func (ts TermStructure) Slope() float64 {
	return ts.ShortTermLevel - ts.NearTermLevel
}

// PriceBar is one trailing price/volume observation for the underlying.
type PriceBar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}
