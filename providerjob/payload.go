package providerjob

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"creditflow/report"
)

const unknown = "Unknown"

// Payload is the accepted shape of a provider report import.
type Payload struct {
	ID         *string            `json:"id,omitempty"`
	Tradelines []PayloadTradeline `json:"tradelines"`
}

// PayloadTradeline is one account line as sent by a provider. Type and
// AccountType are aliases; Type wins when both are present.
type PayloadTradeline struct {
	Furnisher     string   `json:"furnisher"`
	Type          string   `json:"type"`
	AccountType   string   `json:"accountType"`
	Status        string   `json:"status"`
	Bureau        *string  `json:"bureau"`
	Balance       *float64 `json:"balance"`
	Limit         *float64 `json:"limit"`
	PaymentStatus *string  `json:"paymentStatus"`
	Remarks       *string  `json:"remarks"`
	OpenedDate    *string  `json:"openedDate"`
}

// ParsePayload decodes and checks a raw provider payload.
func ParsePayload(raw []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Payload{}, fmt.Errorf("%w: payload must be a JSON object", ErrValidation)
	}

	var p Payload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	for i, t := range p.Tradelines {
		if t.OpenedDate != nil && strings.TrimSpace(*t.OpenedDate) != "" {
			if _, err := parseDate(*t.OpenedDate); err != nil {
				return Payload{}, fmt.Errorf("%w: tradelines[%d].openedDate: %v", ErrValidation, i, err)
			}
		}
	}
	return p, nil
}

// TradelineInputs maps the payload onto snapshot tradelines, filling
// missing furnisher, type and status with "Unknown".
func (p Payload) TradelineInputs() []report.TradelineInput {
	out := make([]report.TradelineInput, len(p.Tradelines))
	for i, t := range p.Tradelines {
		in := report.TradelineInput{
			Furnisher:     orUnknown(t.Furnisher),
			AccountType:   orUnknown(firstNonEmpty(t.Type, t.AccountType)),
			Status:        orUnknown(t.Status),
			Bureau:        t.Bureau,
			Balance:       wholeUnits(t.Balance),
			Limit:         wholeUnits(t.Limit),
			PaymentStatus: t.PaymentStatus,
			Remarks:       t.Remarks,
		}
		if t.OpenedDate != nil && strings.TrimSpace(*t.OpenedDate) != "" {
			if d, err := parseDate(*t.OpenedDate); err == nil {
				in.OpenedDate = &d
			}
		}
		out[i] = in
	}
	return out
}

func wholeUnits(v *float64) *int64 {
	if v == nil {
		return nil
	}
	n := int64(math.Round(*v))
	return &n
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return unknown
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
