package llm

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akio-matsumoto/print-etl/internal/config"
)

func sampleFields() config.Fields {
	return config.Fields{
		{Name: "event_date", Type: config.FieldString, Description: "行事の日付"},
		{Name: "headcount", Type: config.FieldInteger, Description: "人数"},
		{Name: "fee", Type: config.FieldNumber, Description: "費用"},
		{Name: "paid", Type: config.FieldBoolean, Description: "支払済み"},
		{Name: "items", Type: config.FieldStringList, Description: "持ち物"},
	}
}

func TestBuildSchemaShape(t *testing.T) {
	s := BuildSchema(sampleFields())
	assert.Equal(t, "object", s["type"])
	assert.Equal(t, []string{"event_date", "headcount", "fee", "paid", "items"}, s["required"])
	// Extra keys are the validator's concern (it drops them), so the schema
	// must not forbid them.
	assert.NotContains(t, s, "additionalProperties")

	props, ok := s["properties"].(map[string]any)
	require.True(t, ok)
	require.Len(t, props, 5)

	assert.Equal(t, "string", props["event_date"].(map[string]any)["type"])
	assert.Equal(t, []string{"integer", "string"}, props["headcount"].(map[string]any)["type"])
	assert.Equal(t, []string{"number", "string"}, props["fee"].(map[string]any)["type"])
	assert.Equal(t, []string{"boolean", "string"}, props["paid"].(map[string]any)["type"])

	list := props["items"].(map[string]any)
	assert.Equal(t, "array", list["type"])
	assert.Equal(t, map[string]any{"type": []string{"string", "number", "boolean"}}, list["items"])
	assert.Equal(t, "持ち物", list["description"])
}

func TestValidateAgainstSchema(t *testing.T) {
	s := BuildSchema(sampleFields())

	valid := []byte(`{"event_date":"2024-09-12","headcount":30,"fee":1200.5,"paid":true,"items":["水着"]}`)
	require.NoError(t, ValidateAgainstSchema(s, valid))

	missing := []byte(`{"event_date":"2024-09-12"}`)
	require.Error(t, ValidateAgainstSchema(s, missing))

	// Undeclared extras pass here; the validator drops them downstream.
	extra := []byte(`{"event_date":"x","headcount":1,"fee":1,"paid":true,"items":[],"bogus":1}`)
	require.NoError(t, ValidateAgainstSchema(s, extra))

	// Stringified numbers and booleans pass here; the validator coerces them.
	coercible := []byte(`{"event_date":"x","headcount":"42","fee":"12.5","paid":"true","items":["a",1,true]}`)
	require.NoError(t, ValidateAgainstSchema(s, coercible))

	// Shapes no coercion can save still fail at the boundary.
	wrongType := []byte(`{"event_date":true,"headcount":1,"fee":1,"paid":true,"items":[]}`)
	require.Error(t, ValidateAgainstSchema(s, wrongType))
	notAList := []byte(`{"event_date":"x","headcount":1,"fee":1,"paid":true,"items":{}}`)
	require.Error(t, ValidateAgainstSchema(s, notAList))
}

func TestCompileSchemaReusesCache(t *testing.T) {
	fields := config.Fields{{Name: "cache_reuse_field", Type: config.FieldString}}
	s := BuildSchema(fields)

	first, err := compileSchema(s)
	require.NoError(t, err)
	// Same profile, fresh map: the compiled schema must come from the cache.
	second, err := compileSchema(BuildSchema(fields))
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestBuildSystemPromptIncludesDateAndDescription(t *testing.T) {
	p := &config.Profile{
		Name:        "school_print",
		Description: "学校からのプリントです。",
		Fields:      sampleFields(),
	}
	now := time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)
	prompt := BuildSystemPrompt(p, now)
	assert.Contains(t, prompt, "2024-09-01")
	assert.Contains(t, prompt, "学校からのプリントです。")
	assert.Contains(t, prompt, "JSON")
}

func TestBuildUserPromptListsFieldsInOrder(t *testing.T) {
	p := &config.Profile{Name: "school_print", Fields: sampleFields()}
	prompt := BuildUserPrompt(p, "school_trip.pdf")
	assert.Contains(t, prompt, "school_trip.pdf")

	var last int
	for _, f := range p.Fields {
		idx := strings.Index(prompt, "- "+f.Name+" (")
		require.GreaterOrEqual(t, idx, 0, "field %s missing from prompt", f.Name)
		assert.Greater(t, idx, last, "field %s out of order", f.Name)
		last = idx
	}
}
