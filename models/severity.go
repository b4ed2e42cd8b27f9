package models

import "strings"

// SeverityLevel represents the severity of an analysis finding.
type SeverityLevel string

const (
	SeverityCritical SeverityLevel = "critical"
	SeverityHigh     SeverityLevel = "high"
	SeverityMedium   SeverityLevel = "medium"
	SeverityLow      SeverityLevel = "low"
	SeverityInfo     SeverityLevel = "info"
)

// AllSeverities lists the canonical levels from most to least severe.
func AllSeverities() []SeverityLevel {
	return []SeverityLevel{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
}

// Weight returns a numeric weight for sorting (higher = more severe).
func (s SeverityLevel) Weight() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

func (s SeverityLevel) String() string {
	return string(s)
}

// NormalizeSeverity maps tool-specific severity tokens to a canonical level
// using case-insensitive substring matching. Unrecognized or empty tokens
// resolve to def — never to an error.
func NormalizeSeverity(raw string, def SeverityLevel) SeverityLevel {
	token := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case token == "":
		return def
	case strings.Contains(token, "crit"):
		return SeverityCritical
	case strings.Contains(token, "high") || strings.Contains(token, "error"):
		return SeverityHigh
	case strings.Contains(token, "warn") || strings.Contains(token, "medium") || strings.Contains(token, "moderate"):
		return SeverityMedium
	case strings.Contains(token, "note") || strings.Contains(token, "minor") || strings.Contains(token, "low"):
		return SeverityLow
	case strings.Contains(token, "info") || strings.Contains(token, "none") || strings.Contains(token, "negligible"):
		return SeverityInfo
	default:
		return def
	}
}

// MapSarifLevel maps a SARIF result level to a canonical severity.
// SARIF defines exactly four levels: error, warning, note, none.
func MapSarifLevel(level string) SeverityLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		return SeverityHigh
	case "warning":
		return SeverityMedium
	case "note":
		return SeverityLow
	default:
		return SeverityInfo
	}
}
