package coding

import (
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return New(zerolog.Nop())
}

func TestAddCoding_KnownSystemByName(t *testing.T) {
	r := newTestRegistry()
	c, err := r.AddCoding("LOINC", "8867-4", "Heart rate")
	require.NoError(t, err)
	assert.Equal(t, "http://loinc.org", c.System)
	assert.Equal(t, "8867-4", c.Code)
}

func TestAddCoding_UnknownSystem(t *testing.T) {
	r := newTestRegistry()
	_, err := r.AddCoding("NOT-A-SYSTEM", "123", "")
	require.Error(t, err)
	var unknownErr *UnknownCodingSystemError
	assert.ErrorAs(t, err, &unknownErr)
}

func TestAddCoding_InvalidCodeFormat(t *testing.T) {
	r := newTestRegistry()
	_, err := r.AddCoding("LOINC", "not-a-loinc-code", "")
	require.Error(t, err)
	var fmtErr *InvalidCodeFormatError
	assert.ErrorAs(t, err, &fmtErr)
}

func TestValidateCode_PerSystem(t *testing.T) {
	cases := []struct {
		system string
		code   string
		want   bool
	}{
		{"http://loinc.org", "8867-4", true},
		{"http://loinc.org", "88674", false},
		{"http://snomed.info/sct", "123456", true},
		{"http://snomed.info/sct", "12345", false},
		{"http://www.nlm.nih.gov/research/umls/rxnorm", "860975", true},
		{"http://hl7.org/fhir/sid/icd-10", "E11.9", true},
		{"http://hl7.org/fhir/sid/icd-10", "e11.9", true},
		{"http://hl7.org/fhir/sid/icd-10", "E119", false},
		{"http://www.ama-assn.org/go/cpt", "99213", true},
		{"http://www.ama-assn.org/go/cpt", "9921", false},
		{"http://hl7.org/fhir/sid/cvx", "207", true},
		{"http://hl7.org/fhir/sid/cvx", "2071", false},
		{"http://hl7.org/fhir/sid/ndc", "0002-1433-80", true},
		{"http://hl7.org/fhir/sid/ndc", "00021433", false},
		{"http://example.org/custom", "abc-123.x", true},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, ValidateCode(tc.system, tc.code), "system=%s code=%s", tc.system, tc.code)
	}
}

func TestCreateCodeableConcept_TextFallsBackToDisplay(t *testing.T) {
	r := newTestRegistry()
	cc, err := r.CreateCodeableConcept("LOINC", "8867-4", "Heart rate", "")
	require.NoError(t, err)
	assert.Equal(t, "Heart rate", cc.Text)
	require.Len(t, cc.Coding, 1)
}

func TestCreateMultipleCodings_PreservesOrderAndTextFallback(t *testing.T) {
	r := newTestRegistry()
	cc, err := r.CreateMultipleCodings([]CodingInput{
		{System: "RXNORM", Code: "860975", Display: "Metformin 500 MG"},
		{System: "NDC", Code: "00002143380"},
	})
	require.NoError(t, err)
	require.Len(t, cc.Coding, 2)
	assert.Equal(t, "Metformin 500 MG", cc.Text)
	assert.Equal(t, "http://www.nlm.nih.gov/research/umls/rxnorm", cc.Coding[0].System)
}

func TestCreateQuantity_DefaultsToUCUM(t *testing.T) {
	r := newTestRegistry()
	q := r.CreateQuantity(500, "mg", "")
	assert.Equal(t, "http://unitsofmeasure.org", q.System)
	assert.Equal(t, "mg", q.Code)
}

func TestRegisterCustomSystem(t *testing.T) {
	r := newTestRegistry()
	r.RegisterCustomSystem("LOCAL", "http://hospital.local/codes")
	uri, ok := r.GetSystemURI("local")
	require.True(t, ok)
	assert.Equal(t, "http://hospital.local/codes", uri)
}

func TestClearCache(t *testing.T) {
	r := newTestRegistry()
	_, err := r.AddCoding("LOINC", "8867-4", "")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Statistics().CachedCodes)
	r.ClearCache()
	assert.Equal(t, 0, r.Statistics().CachedCodes)
}

func TestCacheEviction_BoundedAtCap(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < cacheCap+10; i++ {
		code := strconv.Itoa(10000 + i)
		_, _ = r.AddCoding("CPT", code, "")
	}
	assert.LessOrEqual(t, r.Statistics().CachedCodes, cacheCap)
}
