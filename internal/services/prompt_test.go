package services

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"tenderzen/smart-import/internal/models"
)

func TestTruncateDocument(t *testing.T) {
	short := "korte tekst"
	assert.Equal(t, short, TruncateDocument(short))

	exact := strings.Repeat("a", MaxDocumentChars)
	assert.Equal(t, exact, TruncateDocument(exact))

	long := strings.Repeat("a", MaxDocumentChars+10)
	got := TruncateDocument(long)
	assert.True(t, strings.HasSuffix(got, "[Document afgekapt...]"))
	assert.Equal(t, MaxDocumentChars+len(truncationMarker), len(got))
}

func TestTruncateDocument_KeepsRunesWhole(t *testing.T) {
	// "a" shifts every two-byte rune so the limit falls inside one
	text := "a" + strings.Repeat("é", MaxDocumentChars/2+10)

	got := TruncateDocument(text)

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, MaxDocumentChars-1+len(truncationMarker), len(got))
}

func TestBuildExtractionPrompt(t *testing.T) {
	pb := NewPromptBuilder()

	full := pb.BuildExtractionPrompt("DE LEIDRAAD", models.DefaultAnalysisOptions())
	assert.Contains(t, full, "DOCUMENT:\nDE LEIDRAAD")
	for _, f := range models.FieldCatalog {
		assert.Contains(t, full, `"`+f.Name+`"`, f.Name)
	}
	assert.Contains(t, full, `"gunningscriteria"`)
	assert.Contains(t, full, `"certificeringen"`)
	assert.Contains(t, full, `"deadline_indiening": { "value": "YYYY-MM-DDTHH:MM:SS of null"`)
	assert.Contains(t, full, `"geraamde_waarde": { "value": "number of null"`)

	bare := pb.BuildExtractionPrompt("DE LEIDRAAD", models.AnalysisOptions{})
	assert.NotContains(t, bare, `"gunningscriteria"`)
	assert.NotContains(t, bare, `"certificeringen"`)
	assert.Contains(t, bare, `"warnings"`)
}
