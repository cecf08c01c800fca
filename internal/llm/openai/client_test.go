package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akio-matsumoto/print-etl/internal/llm"
)

func testSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"event_date": map[string]any{"type": "string"},
		},
		"required": []string{"event_date"},
	}
}

func writeDoc(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("fake document bytes"), 0o644))
	return path
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(Config{APIKey: "test-key", BaseURL: baseURL, Model: "gpt-4o-mini"}, logger)
}

func completionResponse(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return string(b)
}

func TestExtractHappyPath(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionResponse(`{"event_date":"2024-09-12"}`)))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	req := llm.ExtractRequest{
		FilePath:     writeDoc(t, "school_trip.png"),
		MIMEType:     "image/png",
		Schema:       testSchema(),
		SystemPrompt: "system prompt",
		UserPrompt:   "user prompt",
	}
	fields, raw, err := c.Extract(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"event_date": "2024-09-12"}, fields)
	assert.JSONEq(t, `{"event_date":"2024-09-12"}`, string(raw))

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotBody["model"])
	msgs := gotBody["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, "system prompt", msgs[0].(map[string]any)["content"])
	// Images travel as image_url parts.
	parts := msgs[1].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "image_url", parts[1].(map[string]any)["type"])
	// The schema rides along as a trailing system message.
	assert.Contains(t, msgs[2].(map[string]any)["content"], "JSON Schema:")
}

func TestExtractAttachesPDFAsFilePart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		parts := body["messages"].([]any)[1].(map[string]any)["content"].([]any)
		require.Len(t, parts, 2)
		filePart := parts[1].(map[string]any)
		assert.Equal(t, "file", filePart["type"])
		assert.Equal(t, "invoice_7.pdf", filePart["file"].(map[string]any)["filename"])
		_, _ = w.Write([]byte(completionResponse(`{"event_date":"2024-09-12"}`)))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, _, err := c.Extract(context.Background(), llm.ExtractRequest{
		FilePath: writeDoc(t, "invoice_7.pdf"),
		MIMEType: "application/pdf",
		Schema:   testSchema(),
	})
	require.NoError(t, err)
}

func TestExtractSchemaViolationIsMalformed(t *testing.T) {
	// Required field absent: no coercion can save this, so it must be
	// classified malformed for the retry layer.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionResponse(`{"wrong_key":"x"}`)))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, raw, err := c.Extract(context.Background(), llm.ExtractRequest{
		FilePath: writeDoc(t, "a.png"),
		Schema:   testSchema(),
	})
	require.Error(t, err)
	require.ErrorIs(t, err, llm.ErrMalformed)
	// The offending output is preserved for logging.
	assert.JSONEq(t, `{"wrong_key":"x"}`, string(raw))
}

func TestExtractKeepsUndeclaredExtras(t *testing.T) {
	// Extras survive the boundary untouched; dropping them is the
	// validator's job, not the client's.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionResponse(`{"event_date":"2024-09-12","note":"extra"}`)))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	fields, _, err := c.Extract(context.Background(), llm.ExtractRequest{
		FilePath: writeDoc(t, "a.png"),
		Schema:   testSchema(),
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-09-12", fields["event_date"])
	assert.Equal(t, "extra", fields["note"])
}

func TestExtractNonJSONContentIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionResponse("I could not parse the document, sorry.")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, _, err := c.Extract(context.Background(), llm.ExtractRequest{
		FilePath: writeDoc(t, "a.png"),
		Schema:   testSchema(),
	})
	require.ErrorIs(t, err, llm.ErrMalformed)
}

func TestExtractStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, llm.ErrTransient},
		{http.StatusInternalServerError, llm.ErrTransient},
		{http.StatusBadGateway, llm.ErrTransient},
		{http.StatusBadRequest, llm.ErrFatal},
		{http.StatusUnauthorized, llm.ErrFatal},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := newTestClient(t, srv.URL)
		_, _, err := c.Extract(context.Background(), llm.ExtractRequest{
			FilePath: writeDoc(t, "a.png"),
			Schema:   testSchema(),
		})
		srv.Close()
		require.ErrorIs(t, err, tc.want, "status %d", tc.status)
	}
}

func TestExtractMissingFileIsFatal(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid")
	_, _, err := c.Extract(context.Background(), llm.ExtractRequest{
		FilePath: filepath.Join(t.TempDir(), "nope.pdf"),
		Schema:   testSchema(),
	})
	require.ErrorIs(t, err, llm.ErrFatal)
}

func TestExtractConnectionErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := newTestClient(t, srv.URL)
	_, _, err := c.Extract(context.Background(), llm.ExtractRequest{
		FilePath: writeDoc(t, "a.png"),
		Schema:   testSchema(),
	})
	require.ErrorIs(t, err, llm.ErrTransient)
}
