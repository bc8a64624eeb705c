package importer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `name,naics_code,employee_min,employee_max,city,state,website,source_id
Acme Health Partners,621111,100,200,COLUMBUS,Ohio,https://acmehealth.test,row-1
Summit Manufacturing,332710,50,100,dayton,OH,,row-2
Acme Health Partners,621111,100,200,COLUMBUS,Ohio,https://acmehealth.test,row-1
,621111,10,20,Toledo,OH,,row-4
`

func TestParse(t *testing.T) {
	companies, err := Parse(strings.NewReader(sampleCSV), "csv")
	require.NoError(t, err)
	require.Len(t, companies, 2)

	acme := companies[0]
	assert.Equal(t, "Acme Health Partners", acme.Name)
	assert.Equal(t, "621111", acme.NAICSCode)
	assert.Equal(t, 100, acme.EmployeeCountMin)
	assert.Equal(t, 200, acme.EmployeeCountMax)
	assert.Equal(t, "Columbus", acme.City)
	assert.Equal(t, "OH", acme.State)
	assert.Equal(t, "csv", acme.Source)
	assert.Equal(t, "row-1", acme.SourceID)

	assert.Equal(t, "Dayton", companies[1].City)
}

func TestParseDedupByNameStateWithoutSourceID(t *testing.T) {
	csv := `name,state
Acme Health Partners,OH
ACME HEALTH PARTNERS,Ohio
Acme Health Partners,MI
`
	companies, err := Parse(strings.NewReader(csv), "csv")
	require.NoError(t, err)
	assert.Len(t, companies, 2)
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse(strings.NewReader("name,state\n"), "csv")
	require.Error(t, err)
}

func TestStateAbbreviation(t *testing.T) {
	assert.Equal(t, "OH", stateAbbreviation("Ohio"))
	assert.Equal(t, "OH", stateAbbreviation("oh"))
	assert.Equal(t, "DC", stateAbbreviation("District of Columbia"))
	assert.Equal(t, "", stateAbbreviation(" "))
}
