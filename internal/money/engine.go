package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultTaxRate is the rate applied when no rate has been configured.
const DefaultTaxRate = 0.10

// ErrInvalidAmount is reported by ValidateAmount for amounts that cannot be charged.
var ErrInvalidAmount = errors.New("money: amount must be a positive finite number")

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Policy identifies which reduction produced a Breakdown.
type Policy string

const (
	// PolicyBase derives tax and total from a canonical pre-tax price.
	PolicyBase Policy = "base"
	// PolicyTotal back-derives base and tax from a caller-finalised total.
	PolicyTotal Policy = "total"
)

// Breakdown is the priced result handed to the payment processor and to
// downstream notification payloads. Decimal amounts carry two fractional
// digits; minor units are floored per component and then summed.
type Breakdown struct {
	BaseAmount      decimal.Decimal
	TaxAmount       decimal.Decimal
	TotalAmount     decimal.Decimal
	BaseMinorUnits  int64
	TaxMinorUnits   int64
	TotalMinorUnits int64
	TaxRate         decimal.Decimal
	Policy          Policy
}

// FromBase prices a canonical pre-tax amount: the base is rounded to cents,
// tax is computed on the rounded base and the total is their sum.
func FromBase(nominal decimal.Decimal, rate float64) Breakdown {
	r, _ := NormalizeRate(rate)
	base := round2(nominal)
	tax := round2(base.Mul(r))
	total := round2(base.Add(tax))
	return assemble(base, tax, total, r, PolicyBase)
}

// FromTotal splits a caller-finalised total (for example an already discounted
// price) into base and tax for bookkeeping. The total itself is preserved.
func FromTotal(callerTotal decimal.Decimal, rate float64) Breakdown {
	r, _ := NormalizeRate(rate)
	total := round2(callerTotal)
	base := total.DivRound(one.Add(r), 2)
	tax := round2(total.Sub(base))
	return assemble(base, tax, total, r, PolicyTotal)
}

// MinorUnits converts a decimal amount to integer minor units, flooring any
// fraction of a cent. Refunds use it on a previously charged TotalAmount so the
// refunded amount can never exceed the charged one.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Floor().IntPart()
}

// NormalizeRate returns the effective tax rate. Non-finite and negative rates
// are coerced to zero and reported as not ok so callers can log the degradation.
func NormalizeRate(rate float64) (decimal.Decimal, bool) {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate < 0 {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(rate), true
}

// ValidateAmount rejects amounts that must never reach the engine.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// Parse reads a decimal amount from text and validates it.
func Parse(text string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// AmountText extracts the decimal text of a JSON amount that may arrive as a
// number or as a string. Absent and null values yield "".
func AmountText(raw json.RawMessage) (string, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return "", nil
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		return strings.TrimSpace(s), nil
	}
	return text, nil
}

// Fixed renders an amount with exactly two fractional digits.
func Fixed(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

type breakdownJSON struct {
	BaseAmount      string `json:"baseAmount"`
	TaxAmount       string `json:"taxAmount"`
	TotalAmount     string `json:"totalAmount"`
	BaseMinorUnits  int64  `json:"baseMinorUnits"`
	TaxMinorUnits   int64  `json:"taxMinorUnits"`
	TotalMinorUnits int64  `json:"totalMinorUnits"`
	TaxRate         string `json:"taxRate"`
	Policy          Policy `json:"policy,omitempty"`
}

// MarshalJSON renders decimal amounts as fixed two-digit strings.
func (b Breakdown) MarshalJSON() ([]byte, error) {
	return json.Marshal(breakdownJSON{
		BaseAmount:      Fixed(b.BaseAmount),
		TaxAmount:       Fixed(b.TaxAmount),
		TotalAmount:     Fixed(b.TotalAmount),
		BaseMinorUnits:  b.BaseMinorUnits,
		TaxMinorUnits:   b.TaxMinorUnits,
		TotalMinorUnits: b.TotalMinorUnits,
		TaxRate:         b.TaxRate.String(),
		Policy:          b.Policy,
	})
}

func assemble(base, tax, total, rate decimal.Decimal, policy Policy) Breakdown {
	baseMinor := MinorUnits(base)
	taxMinor := MinorUnits(tax)
	return Breakdown{
		BaseAmount:      base,
		TaxAmount:       tax,
		TotalAmount:     total,
		BaseMinorUnits:  baseMinor,
		TaxMinorUnits:   taxMinor,
		TotalMinorUnits: baseMinor + taxMinor,
		TaxRate:         rate,
		Policy:          policy,
	}
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
