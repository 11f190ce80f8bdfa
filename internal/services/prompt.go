package services

import (
	"fmt"
	"strings"

	"tenderzen/smart-import/internal/models"
)

// MaxDocumentChars caps the document text sent to the model.
const MaxDocumentChars = 150000

const truncationMarker = "\n\n[Document afgekapt...]"

type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// ExtractionSystemPrompt holds the extraction rules.
func (pb *PromptBuilder) ExtractionSystemPrompt() string {
	return `Je bent een expert in het analyseren van Nederlandse aanbestedingsdocumenten.
Je taak is om alle relevante informatie te extraheren en terug te geven in een gestructureerd JSON formaat.

REGELS:
1. Gebruik ALLEEN informatie die EXPLICIET in de documenten staat
2. Als iets niet gevonden wordt, zet value op null en confidence op 0
3. Geef bij elke waarde de bron aan (source)
4. Confidence score: 0.0-1.0 (0=niet gevonden, 1=100% zeker)
5. Datums in ISO formaat: YYYY-MM-DD of YYYY-MM-DDTHH:MM:SS
6. Bedragen als integer (geen valutasymbool)
7. Retourneer ALLEEN valide JSON, geen uitleg ervoor of erna`
}

var typeHints = map[string]string{
	"type":            "europese_aanbesteding|nationale_aanbesteding|meervoudig_onderhands|enkelvoudig_onderhands of null",
	"geraamde_waarde": "number of null",
}

// BuildExtractionPrompt renders the user prompt for the combined document text.
func (pb *PromptBuilder) BuildExtractionPrompt(documentText string, opts models.AnalysisOptions) string {
	var sb strings.Builder
	sb.WriteString("Analyseer dit aanbestedingsdocument en extraheer alle informatie.\n\n")
	sb.WriteString("DOCUMENT:\n")
	sb.WriteString(TruncateDocument(documentText))
	sb.WriteString("\n\nEXTRAHEER (geef ALLEEN JSON terug):\n{\n")

	for _, group := range models.FieldGroups {
		fmt.Fprintf(&sb, "    %q: {\n", group)
		fields := fieldsOf(group)
		for i, f := range fields {
			sep := ","
			if i == len(fields)-1 {
				sep = ""
			}
			fmt.Fprintf(&sb, "        %q: { \"value\": %q, \"confidence\": 0.0-1.0, \"source\": \"document/pagina\" }%s\n", f.Name, valueHint(f), sep)
		}
		sb.WriteString("    },\n")
	}

	if opts.ExtractCriteria {
		sb.WriteString(`    "gunningscriteria": {
        "criteria": [
            { "code": "K1", "naam": "...", "percentage": 40, "confidence": 0.0-1.0 }
        ],
        "source": "..."
    },
`)
	}
	if opts.ExtractCertifications {
		sb.WriteString(`    "certificeringen": {
        "vereist": [
            { "naam": "ISO 9001", "verplicht": true, "confidence": 0.0-1.0 }
        ],
        "source": "..."
    },
`)
	}
	sb.WriteString(`    "warnings": ["lijst van waarschuwingen over ontbrekende of onzekere data"]
}`)
	return sb.String()
}

// TruncateDocument cuts text beyond MaxDocumentChars and appends a marker.
func TruncateDocument(text string) string {
	if len(text) <= MaxDocumentChars {
		return text
	}
	cut := MaxDocumentChars
	// keep multi-byte runes intact
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + truncationMarker
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func fieldsOf(group string) []models.FieldSpec {
	var out []models.FieldSpec
	for _, f := range models.FieldCatalog {
		if f.Group == group {
			out = append(out, f)
		}
	}
	return out
}

func valueHint(f models.FieldSpec) string {
	if h, ok := typeHints[f.Name]; ok {
		return h
	}
	switch f.Type {
	case models.FieldDate:
		return "YYYY-MM-DD of null"
	case models.FieldDateTime:
		return "YYYY-MM-DDTHH:MM:SS of null"
	case models.FieldNumber:
		return "number of null"
	default:
		return "string of null"
	}
}
