package llm

import (
	"strings"
	"time"

	"github.com/akio-matsumoto/print-etl/internal/config"
)

// BuildSystemPrompt composes the instruction text for a profile: the
// profile's description verbatim, today's date for inferring partial dates,
// and strict formatting rules. Purely a function of (profile, now).
func BuildSystemPrompt(p *config.Profile, now time.Time) string {
	today := now.Format("2006-01-02")

	parts := []string{
		"You are an expert document parser. Return ONLY JSON that matches the provided JSON Schema.",
		"Today's date is " + today + ".",
		"If the year, month, or day is missing or ambiguous in the document, infer it based on today's date.",
		"Use ISO-8601 dates (YYYY-MM-DD) for any date fields.",
		"Context/Description: " + strings.TrimSpace(p.Description),
		"Never output null. Extract every field declared in the schema.",
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages the filename hint and per-field guidance. Field
// descriptions are repeated here in declaration order; the schema alone
// carries them too, but models follow enumerated instructions more reliably.
func BuildUserPrompt(p *config.Profile, filename string) string {
	var b strings.Builder
	b.WriteString("Filename: ")
	b.WriteString(filename)
	b.WriteString("\n\nExtract the following fields from the attached document:\n")
	for _, f := range p.Fields {
		b.WriteString("- ")
		b.WriteString(f.Name)
		b.WriteString(" (")
		b.WriteString(string(f.Type))
		b.WriteString("): ")
		b.WriteString(f.Description)
		b.WriteString("\n")
	}
	b.WriteString("\nReturn ONLY JSON that matches the provided schema.")
	return b.String()
}
