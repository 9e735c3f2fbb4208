package audit

import (
	"fmt"
	"math"
	"strings"

	"creditflow/report"
)

// EngineVersion is stamped on every audit run.
const EngineVersion = "1.0.0"

const (
	RuleMissingOpenDate  = "TL_MISSING_OPEN_DATE"
	RuleDerogatoryStatus = "TL_DEROGATORY_STATUS"
	RuleHighUtilization  = "TL_HIGH_UTIL"
)

const (
	highUtilThreshold   = 0.5
	severeUtilThreshold = 0.9
)

// Severity runs from 1 (most severe) to 3 (least).
const (
	SeverityHigh   = 1
	SeverityMedium = 2
	SeverityLow    = 3
)

var (
	derogatoryMarkers = []string{"collection", "charge", "repo"}
	revolvingMarkers  = []string{"revolving", "card", "credit"}
)

// Evaluate applies every rule to every tradeline. Findings come out grouped by
// tradeline in input order, and within a tradeline in rule order.
func Evaluate(tradelines []report.Tradeline) []Finding {
	findings := make([]Finding, 0, len(tradelines))

	for _, t := range tradelines {
		ref := tradelineRef(t)

		if t.OpenedDate == nil || t.OpenedDate.IsZero() {
			findings = append(findings, Finding{
				RuleID:      RuleMissingOpenDate,
				Severity:    SeverityLow,
				Title:       "Missing opened date",
				Description: fmt.Sprintf(`Tradeline "%s" is missing an opened date.`, t.Furnisher),
				TradelineID: ref,
			})
		}

		if containsAny(t.Status, derogatoryMarkers) {
			findings = append(findings, Finding{
				RuleID:      RuleDerogatoryStatus,
				Severity:    SeverityHigh,
				Title:       "Derogatory status",
				Description: fmt.Sprintf(`Tradeline "%s" appears derogatory (%s).`, t.Furnisher, t.Status),
				TradelineID: ref,
			})
		}

		if util, ok := utilization(t); ok && util >= highUtilThreshold {
			severity := SeverityMedium
			if util >= severeUtilThreshold {
				severity = SeverityHigh
			}
			findings = append(findings, Finding{
				RuleID:      RuleHighUtilization,
				Severity:    severity,
				Title:       "High utilization",
				Description: fmt.Sprintf(`Utilization is %d%% for "%s".`, int(math.Round(util*100)), t.Furnisher),
				TradelineID: ref,
			})
		}
	}

	return findings
}

// utilization is defined only for revolving accounts with a positive limit
// and a known balance.
func utilization(t report.Tradeline) (float64, bool) {
	if !containsAny(t.AccountType, revolvingMarkers) {
		return 0, false
	}
	if t.Balance == nil || t.Limit == nil || *t.Limit <= 0 {
		return 0, false
	}
	return float64(*t.Balance) / float64(*t.Limit), true
}

func containsAny(s string, markers []string) bool {
	s = strings.ToLower(s)
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func tradelineRef(t report.Tradeline) *string {
	if t.ID == "" {
		return nil
	}
	id := t.ID
	return &id
}
