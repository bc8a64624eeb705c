package scorer

import (
	"math"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// IndustryRule maps a NAICS prefix to its scoring parameters.
type IndustryRule struct {
	Weight      float64 `yaml:"weight"`
	BaseScore   int     `yaml:"base_score"`
	RiskLevel   string  `yaml:"risk_level"`
	Description string  `yaml:"description"`
}

// SizeBracket scores one employee-count band.
type SizeBracket struct {
	Min      int    `yaml:"min"`
	Max      int    `yaml:"max"` // 0 means open-ended
	Score    int    `yaml:"score"`
	Bonus    int    `yaml:"bonus"`
	Category string `yaml:"category"`
}

// Contains reports whether count falls in the bracket.
func (b SizeBracket) Contains(count int) bool {
	if count < b.Min {
		return false
	}
	return b.Max == 0 || count <= b.Max
}

// ContactRules holds the per-contact point values.
type ContactRules struct {
	DecisionMakerPoints int `yaml:"decision_maker_points"`
	ExecutiveBonus      int `yaml:"executive_bonus"`
	HRBonus             int `yaml:"hr_bonus"`
	VerifiedEmailBonus  int `yaml:"verified_email_bonus"`
	MultipleBonus       int `yaml:"multiple_bonus"`
	MultipleThreshold   int `yaml:"multiple_threshold"`
	Cap                 int `yaml:"cap"`
}

// QualityRules holds the data-completeness point values.
type QualityRules struct {
	Website         int `yaml:"website"`
	Phone           int `yaml:"phone"`
	EmailDomain     int `yaml:"email_domain"`
	CompleteAddress int `yaml:"complete_address"`
	EIN             int `yaml:"ein"`
	RecentUpdate    int `yaml:"recent_update"`
	RecentWindow    int `yaml:"recent_window_days"`
	Cap             int `yaml:"cap"`
}

// Weights are the component weights for the composite score. They must
// sum to 1.0.
type Weights struct {
	Industry    float64 `yaml:"industry"`
	Size        float64 `yaml:"size"`
	Contact     float64 `yaml:"contact"`
	DataQuality float64 `yaml:"data_quality"`
}

func (w Weights) sum() float64 {
	return w.Industry + w.Size + w.Contact + w.DataQuality
}

// Variant is one arm of an A/B test with its own component weights.
type Variant struct {
	Name    string  `yaml:"name"`
	Version string  `yaml:"version"`
	Traffic float64 `yaml:"traffic"` // fraction of companies, 0..1
	Weights Weights `yaml:"weights"`
}

// ABConfig controls variant assignment.
type ABConfig struct {
	Enabled  bool      `yaml:"enabled"`
	TestName string    `yaml:"test_name"`
	Variants []Variant `yaml:"variants"`
}

// Config is the full scoring configuration.
type Config struct {
	Version         string                  `yaml:"version"`
	Industries      map[string]IndustryRule `yaml:"industries"`
	DefaultIndustry IndustryRule            `yaml:"default_industry"`
	SizeBrackets    []SizeBracket           `yaml:"size_brackets"`
	OptimalMin      int                     `yaml:"optimal_min"`
	OptimalMax      int                     `yaml:"optimal_max"`
	OptimalBonus    int                     `yaml:"optimal_bonus"`
	Contacts        ContactRules            `yaml:"contacts"`
	Quality         QualityRules            `yaml:"quality"`
	Weights         Weights                 `yaml:"weights"`
	AB              ABConfig                `yaml:"ab_testing"`
}

// DefaultConfig returns the built-in scoring tables. Healthcare NAICS
// families rank highest; retail and hospitality lowest.
func DefaultConfig() Config {
	return Config{
		Version: "1.0",
		Industries: map[string]IndustryRule{
			"621": {Weight: 1.8, BaseScore: 85, RiskLevel: "low", Description: "Ambulatory Health Care Services"},
			"622": {Weight: 1.7, BaseScore: 80, RiskLevel: "low", Description: "Hospitals"},
			"623": {Weight: 1.6, BaseScore: 75, RiskLevel: "medium", Description: "Nursing and Residential Care Facilities"},
			"541": {Weight: 1.4, BaseScore: 70, RiskLevel: "low", Description: "Professional, Scientific, and Technical Services"},
			"551": {Weight: 1.3, BaseScore: 68, RiskLevel: "low", Description: "Management of Companies and Enterprises"},
			"518": {Weight: 1.3, BaseScore: 68, RiskLevel: "low", Description: "Data Processing, Hosting, and Related Services"},
			"519": {Weight: 1.3, BaseScore: 68, RiskLevel: "low", Description: "Other Information Services"},
			"31":  {Weight: 1.2, BaseScore: 65, RiskLevel: "medium", Description: "Manufacturing"},
			"32":  {Weight: 1.2, BaseScore: 65, RiskLevel: "medium", Description: "Manufacturing"},
			"33":  {Weight: 1.2, BaseScore: 65, RiskLevel: "medium", Description: "Manufacturing"},
			"52":  {Weight: 1.1, BaseScore: 60, RiskLevel: "medium", Description: "Finance and Insurance"},
			"23":  {Weight: 0.9, BaseScore: 45, RiskLevel: "high", Description: "Construction"},
			"44":  {Weight: 0.8, BaseScore: 40, RiskLevel: "high", Description: "Retail Trade"},
			"45":  {Weight: 0.8, BaseScore: 40, RiskLevel: "high", Description: "Retail Trade"},
			"72":  {Weight: 0.7, BaseScore: 35, RiskLevel: "high", Description: "Accommodation and Food Services"},
		},
		DefaultIndustry: IndustryRule{Weight: 1.0, BaseScore: 50, RiskLevel: "medium", Description: "Unknown Industry"},
		SizeBrackets: []SizeBracket{
			{Min: 1, Max: 10, Score: 20, Category: "micro"},
			{Min: 11, Max: 50, Score: 40, Category: "small"},
			{Min: 51, Max: 100, Score: 60, Category: "small-medium"},
			{Min: 101, Max: 250, Score: 85, Bonus: 15, Category: "medium"},
			{Min: 251, Max: 500, Score: 80, Bonus: 10, Category: "medium-large"},
			{Min: 501, Max: 1000, Score: 70, Category: "large"},
			{Min: 1001, Max: 5000, Score: 50, Category: "enterprise"},
			{Min: 5001, Score: 30, Category: "mega"},
		},
		OptimalMin:   100,
		OptimalMax:   500,
		OptimalBonus: 15,
		Contacts: ContactRules{
			DecisionMakerPoints: 10,
			ExecutiveBonus:      5,
			HRBonus:             8,
			VerifiedEmailBonus:  3,
			MultipleBonus:       5,
			MultipleThreshold:   3,
			Cap:                 30,
		},
		Quality: QualityRules{
			Website:         5,
			Phone:           5,
			EmailDomain:     3,
			CompleteAddress: 3,
			EIN:             2,
			RecentUpdate:    2,
			RecentWindow:    30,
			Cap:             20,
		},
		Weights: Weights{Industry: 0.4, Size: 0.3, Contact: 0.2, DataQuality: 0.1},
		AB: ABConfig{
			Enabled:  false,
			TestName: "contact_weight_lift",
			Variants: []Variant{
				{Name: "control", Version: "1.0", Traffic: 0.5, Weights: Weights{Industry: 0.4, Size: 0.3, Contact: 0.2, DataQuality: 0.1}},
				{Name: "variant_a", Version: "1.1", Traffic: 0.5, Weights: Weights{Industry: 0.35, Size: 0.25, Contact: 0.3, DataQuality: 0.1}},
			},
		},
	}
}

// LoadConfig reads a YAML overlay on top of the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, eris.Wrap(err, "scorer: read config")
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, eris.Wrap(err, "scorer: parse config")
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural invariants of the configuration.
func (c Config) Validate() error {
	if !weightsSumToOne(c.Weights) {
		return eris.Errorf("scorer: component weights sum to %.3f, want 1.0", c.Weights.sum())
	}
	for _, v := range c.AB.Variants {
		if !weightsSumToOne(v.Weights) {
			return eris.Errorf("scorer: variant %q weights sum to %.3f, want 1.0", v.Name, v.Weights.sum())
		}
	}
	if c.AB.Enabled {
		total := 0.0
		for _, v := range c.AB.Variants {
			total += v.Traffic
		}
		if math.Abs(total-1.0) > 1e-6 {
			return eris.Errorf("scorer: variant traffic sums to %.3f, want 1.0", total)
		}
	}
	if len(c.SizeBrackets) == 0 {
		return eris.New("scorer: no size brackets configured")
	}
	return nil
}

func weightsSumToOne(w Weights) bool {
	return math.Abs(w.sum()-1.0) <= 1e-6
}

// IndustryFor resolves a NAICS code to its rule by trying the exact
// code then progressively shorter prefixes.
func (c Config) IndustryFor(naicsCode string) IndustryRule {
	code := strings.TrimSpace(naicsCode)
	for len(code) >= 2 {
		if rule, ok := c.Industries[code]; ok {
			return rule
		}
		code = code[:len(code)-1]
	}
	return c.DefaultIndustry
}

// BracketFor returns the size bracket containing count. Counts below
// every bracket fall into the first one.
func (c Config) BracketFor(count int) SizeBracket {
	for _, b := range c.SizeBrackets {
		if b.Contains(count) {
			return b
		}
	}
	return c.SizeBrackets[0]
}
