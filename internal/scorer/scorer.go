// Package scorer computes lead scores from enriched company records.
// Scoring is pure: no I/O, no clock reads beyond the injected now, so
// identical inputs always produce identical records.
package scorer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/model"
)

// Scorer computes ScoreRecords under a fixed configuration.
type Scorer struct {
	cfg     Config
	nowFunc func() time.Time
}

// New creates a Scorer.
func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg, nowFunc: time.Now}
}

// WithNow injects a clock for testing.
func (s *Scorer) WithNow(now func() time.Time) *Scorer {
	s.nowFunc = now
	return s
}

// Score computes a full score record for the company and its contacts.
func (s *Scorer) Score(company *model.Company, contacts []model.Contact) model.ScoreRecord {
	variant, weights, version := s.variantFor(company.ID)

	industry := s.industryScore(company)
	size := s.sizeScore(company)
	contact := s.contactScore(contacts)
	quality := s.qualityScore(company)

	total := float64(industry)*weights.Industry +
		float64(size)*weights.Size +
		float64(contact)*weights.Contact +
		float64(quality)*weights.DataQuality
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}

	rule := s.cfg.IndustryFor(company.NAICSCode)
	count := company.EmployeeCount()
	bracket := s.cfg.BracketFor(count)

	record := model.ScoreRecord{
		ID:                uuid.NewString(),
		CompanyID:         company.ID,
		TotalScore:        int(total),
		Grade:             model.Grade(int(total)),
		IndustryScore:     industry,
		SizeScore:         size,
		ContactScore:      contact,
		DataQualityScore:  quality,
		IndustryRiskLevel: rule.RiskLevel,
		IndustryWeight:    rule.Weight,
		EmployeeCountUsed: count,
		SizeCategory:      bracket.Category,
		AlgorithmVersion:  version,
		Variant:           variant,
		ComputedAt:        s.nowFunc().UTC(),
	}
	record.Reasons = s.reasons(company, contacts, record)

	zap.L().Debug("scored company",
		zap.String("company_id", company.ID),
		zap.Int("total", record.TotalScore),
		zap.String("grade", record.Grade),
		zap.String("variant", variant),
	)
	return record
}

func (s *Scorer) variantFor(companyID string) (name string, w Weights, version string) {
	if !s.cfg.AB.Enabled || len(s.cfg.AB.Variants) == 0 {
		return "control", s.cfg.Weights, s.cfg.Version
	}
	v := PickVariant(s.cfg.AB.TestName, companyID, s.cfg.AB.Variants)
	return v.Name, v.Weights, v.Version
}

func (s *Scorer) industryScore(company *model.Company) int {
	rule := s.cfg.IndustryFor(company.NAICSCode)
	score := float64(rule.BaseScore) * rule.Weight
	if score > 100 {
		score = 100
	}
	return int(score)
}

func (s *Scorer) sizeScore(company *model.Company) int {
	count := company.EmployeeCount()
	if count == 0 {
		// Unknown size scores like the smallest bracket.
		return s.cfg.SizeBrackets[0].Score
	}
	bracket := s.cfg.BracketFor(count)
	score := bracket.Score + bracket.Bonus
	if count >= s.cfg.OptimalMin && count <= s.cfg.OptimalMax {
		score += s.cfg.OptimalBonus
	}
	if score > 100 {
		score = 100
	}
	return score
}

func (s *Scorer) contactScore(contacts []model.Contact) int {
	if len(contacts) == 0 {
		return 0
	}
	rules := s.cfg.Contacts
	score := 0
	for i := range contacts {
		c := &contacts[i]
		if c.IsDecisionMaker() {
			score += rules.DecisionMakerPoints
		}
		if c.IsExecutive() {
			score += rules.ExecutiveBonus
		}
		if c.IsHRRelated() {
			score += rules.HRBonus
		}
		if c.EmailVerified {
			score += rules.VerifiedEmailBonus
		}
	}
	if len(contacts) >= rules.MultipleThreshold {
		score += rules.MultipleBonus
	}
	if score > rules.Cap {
		score = rules.Cap
	}
	return scaleToPercent(score, rules.Cap)
}

func (s *Scorer) qualityScore(company *model.Company) int {
	rules := s.cfg.Quality
	score := 0
	if company.Website != "" {
		score += rules.Website
	}
	if company.Phone != "" {
		score += rules.Phone
	}
	if company.EmailDomain != "" {
		score += rules.EmailDomain
	}
	if company.HasCompleteAddress() {
		score += rules.CompleteAddress
	}
	if company.EIN != "" {
		score += rules.EIN
	}
	if s.recentlyUpdated(company) {
		score += rules.RecentUpdate
	}
	if score > rules.Cap {
		score = rules.Cap
	}
	return scaleToPercent(score, rules.Cap)
}

// scaleToPercent maps raw capped points onto the 0-100 scale the
// industry and size factors already use, so the weighted composite can
// actually reach 100.
func scaleToPercent(points, limit int) int {
	if limit <= 0 {
		return 0
	}
	return int(float64(points) / float64(limit) * 100)
}

func (s *Scorer) recentlyUpdated(company *model.Company) bool {
	if company.UpdatedAt.IsZero() {
		return false
	}
	window := time.Duration(s.cfg.Quality.RecentWindow) * 24 * time.Hour
	return s.nowFunc().Sub(company.UpdatedAt) <= window
}

func (s *Scorer) reasons(company *model.Company, contacts []model.Contact, record model.ScoreRecord) []string {
	var reasons []string
	rule := s.cfg.IndustryFor(company.NAICSCode)

	switch rule.RiskLevel {
	case "low":
		reasons = append(reasons, "Low-risk industry: "+rule.Description)
	case "high":
		reasons = append(reasons, "High-risk industry: "+rule.Description)
	}

	count := record.EmployeeCountUsed
	switch {
	case count >= s.cfg.OptimalMin && count <= s.cfg.OptimalMax:
		reasons = append(reasons, fmt.Sprintf("Optimal company size: %d employees", count))
	case count > 1000:
		reasons = append(reasons, "Large company size may indicate complex decision-making")
	case count > 0 && count < 50:
		reasons = append(reasons, "Small company size may limit insurance budget")
	}

	decisionMakers, executives, hr := 0, 0, 0
	for i := range contacts {
		c := &contacts[i]
		if c.IsDecisionMaker() {
			decisionMakers++
		}
		if c.IsExecutive() {
			executives++
		}
		if c.IsHRRelated() {
			hr++
		}
	}
	if decisionMakers > 0 {
		reasons = append(reasons, fmt.Sprintf("Found %d decision-maker contact(s)", decisionMakers))
	}
	if executives > 0 {
		reasons = append(reasons, fmt.Sprintf("Found %d executive contact(s)", executives))
	}
	if hr > 0 {
		reasons = append(reasons, fmt.Sprintf("Found %d HR/benefits contact(s)", hr))
	}
	if len(contacts) == 0 {
		reasons = append(reasons, "No contacts found - may require additional prospecting")
	}

	completeness := 0
	for _, present := range []bool{
		company.Website != "",
		company.Phone != "",
		company.EmailDomain != "",
		company.HasCompleteAddress(),
		company.EIN != "",
		s.recentlyUpdated(company),
	} {
		if present {
			completeness++
		}
	}
	if completeness >= 4 {
		reasons = append(reasons, "High data quality with complete company information")
	} else if completeness <= 2 {
		reasons = append(reasons, "Limited data quality - may need enrichment")
	}

	return reasons
}
