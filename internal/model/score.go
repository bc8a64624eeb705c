package model

import "time"

// ScoreRecord is an immutable snapshot of one scoring computation.
// Records are append-only; Company.LeadScore mirrors the latest one.
type ScoreRecord struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`

	TotalScore int    `json:"total_score"`
	Grade      string `json:"grade"`

	IndustryScore    int `json:"industry_score"`
	SizeScore        int `json:"size_score"`
	ContactScore     int `json:"contact_score"`
	DataQualityScore int `json:"data_quality_score"`

	IndustryRiskLevel string  `json:"industry_risk_level,omitempty"`
	IndustryWeight    float64 `json:"industry_weight,omitempty"`
	EmployeeCountUsed int     `json:"employee_count_used"`
	SizeCategory      string  `json:"size_category,omitempty"`

	Reasons []string `json:"reasons,omitempty"`

	AlgorithmVersion string     `json:"algorithm_version"`
	Variant          string     `json:"variant"`
	ComputedAt       time.Time  `json:"computed_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

// IsHighQuality reports whether the score clears the deal-creation band.
func (r *ScoreRecord) IsHighQuality() bool { return r.TotalScore >= 80 }

// Grade maps a numeric score to a display letter grade. Display only —
// never used for control flow.
func Grade(score int) string {
	switch {
	case score >= 95:
		return "A+"
	case score >= 90:
		return "A"
	case score >= 85:
		return "A-"
	case score >= 80:
		return "B+"
	case score >= 75:
		return "B"
	case score >= 70:
		return "B-"
	case score >= 65:
		return "C+"
	case score >= 60:
		return "C"
	case score >= 55:
		return "C-"
	default:
		return "D"
	}
}
