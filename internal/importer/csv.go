// Package importer reads collector CSV exports into company records.
package importer

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen/internal/model"
)

// row mirrors the collector export columns. Only name and state are
// required; everything else enriches scoring when present.
type row struct {
	Name             string  `csv:"name"`
	LegalName        string  `csv:"legal_name,omitempty"`
	NAICSCode        string  `csv:"naics_code,omitempty"`
	NAICSDescription string  `csv:"naics_description,omitempty"`
	EmployeeRange    string  `csv:"employee_range,omitempty"`
	EmployeeMin      int     `csv:"employee_min,omitempty"`
	EmployeeMax      int     `csv:"employee_max,omitempty"`
	AnnualRevenue    float64 `csv:"annual_revenue,omitempty"`
	StreetAddress    string  `csv:"street_address,omitempty"`
	City             string  `csv:"city,omitempty"`
	State            string  `csv:"state,omitempty"`
	ZipCode          string  `csv:"zip_code,omitempty"`
	Phone            string  `csv:"phone,omitempty"`
	Website          string  `csv:"website,omitempty"`
	EmailDomain      string  `csv:"email_domain,omitempty"`
	EIN              string  `csv:"ein,omitempty"`
	SourceID         string  `csv:"source_id,omitempty"`
}

// ParseCSV reads a collector export and returns deduplicated companies
// tagged with the given source. Rows without a name are skipped.
func ParseCSV(path, source string) ([]model.Company, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "importer: open csv")
	}
	defer f.Close()

	return Parse(f, source)
}

// Parse reads CSV content from r. Exposed separately for piped input.
func Parse(r io.Reader, source string) ([]model.Company, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true

	dec, err := csvutil.NewDecoder(reader)
	if err != nil {
		return nil, eris.Wrap(err, "importer: read header")
	}

	seen := make(map[string]bool)
	var companies []model.Company

	for {
		var rec row
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, eris.Wrap(err, "importer: decode row")
		}

		name := strings.TrimSpace(rec.Name)
		if name == "" {
			continue
		}
		state := stateAbbreviation(rec.State)

		key := strings.ToLower(rec.SourceID)
		if key == "" {
			key = strings.ToLower(name) + "|" + state
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		companies = append(companies, model.Company{
			Name:             name,
			LegalName:        strings.TrimSpace(rec.LegalName),
			NAICSCode:        strings.TrimSpace(rec.NAICSCode),
			NAICSDescription: strings.TrimSpace(rec.NAICSDescription),
			EmployeeRange:    strings.TrimSpace(rec.EmployeeRange),
			EmployeeCountMin: rec.EmployeeMin,
			EmployeeCountMax: rec.EmployeeMax,
			AnnualRevenue:    rec.AnnualRevenue,
			StreetAddress:    strings.TrimSpace(rec.StreetAddress),
			City:             titleCase(rec.City),
			State:            state,
			ZipCode:          strings.TrimSpace(rec.ZipCode),
			Phone:            strings.TrimSpace(rec.Phone),
			Website:          strings.TrimSpace(rec.Website),
			EmailDomain:      strings.ToLower(strings.TrimSpace(rec.EmailDomain)),
			EIN:              strings.TrimSpace(rec.EIN),
			Source:           source,
			SourceID:         strings.TrimSpace(rec.SourceID),
		})
	}

	if len(companies) == 0 {
		return nil, eris.New("importer: no valid companies found in csv")
	}
	return companies, nil
}

// titleCase converts "WEST JORDAN" to "West Jordan".
func titleCase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// stateAbbreviation converts full state names to two-letter abbreviations.
// Already-abbreviated input is uppercased and returned as-is.
func stateAbbreviation(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	upper := strings.ToUpper(s)
	if len(upper) == 2 {
		return upper
	}
	if abbr, ok := stateMap[upper]; ok {
		return abbr
	}
	return upper
}

var stateMap = map[string]string{
	"ALABAMA":              "AL",
	"ALASKA":               "AK",
	"ARIZONA":              "AZ",
	"ARKANSAS":             "AR",
	"CALIFORNIA":           "CA",
	"COLORADO":             "CO",
	"CONNECTICUT":          "CT",
	"DELAWARE":             "DE",
	"FLORIDA":              "FL",
	"GEORGIA":              "GA",
	"HAWAII":               "HI",
	"IDAHO":                "ID",
	"ILLINOIS":             "IL",
	"INDIANA":              "IN",
	"IOWA":                 "IA",
	"KANSAS":               "KS",
	"KENTUCKY":             "KY",
	"LOUISIANA":            "LA",
	"MAINE":                "ME",
	"MARYLAND":             "MD",
	"MASSACHUSETTS":        "MA",
	"MICHIGAN":             "MI",
	"MINNESOTA":            "MN",
	"MISSISSIPPI":          "MS",
	"MISSOURI":             "MO",
	"MONTANA":              "MT",
	"NEBRASKA":             "NE",
	"NEVADA":               "NV",
	"NEW HAMPSHIRE":        "NH",
	"NEW JERSEY":           "NJ",
	"NEW MEXICO":           "NM",
	"NEW YORK":             "NY",
	"NORTH CAROLINA":       "NC",
	"NORTH DAKOTA":         "ND",
	"OHIO":                 "OH",
	"OKLAHOMA":             "OK",
	"OREGON":               "OR",
	"PENNSYLVANIA":         "PA",
	"RHODE ISLAND":         "RI",
	"SOUTH CAROLINA":       "SC",
	"SOUTH DAKOTA":         "SD",
	"TENNESSEE":            "TN",
	"TEXAS":                "TX",
	"UTAH":                 "UT",
	"VERMONT":              "VT",
	"VIRGINIA":             "VA",
	"WASHINGTON":           "WA",
	"WEST VIRGINIA":        "WV",
	"WISCONSIN":            "WI",
	"WYOMING":              "WY",
	"DISTRICT OF COLUMBIA": "DC",
}
