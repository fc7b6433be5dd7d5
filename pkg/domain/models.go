package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency represents ISO 4217 currency codes
type Currency string

const (
	PHP Currency = "PHP"
	USD Currency = "USD"
)

// DefaultCurrency is used when a payment carries no currency of its own.
const DefaultCurrency = PHP

// Money represents a monetary amount with currency
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

// MinorUnits converts an amount to the smallest currency unit (centavos for PHP).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// Metadata is a JSON-compatible map
type Metadata map[string]interface{}

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("type assertion to []byte failed")
	}
}

// String returns the value stored under key formatted as a string, or "".
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Merge returns a copy of m with the entries of other applied on top.
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// UserType distinguishes platform administrators from regular members.
type UserType string

const (
	UserTypeMember UserType = "member"
	UserTypeAdmin  UserType = "admin"
)
