// Package openai implements llm.Extractor against an OpenAI-compatible
// chat/completions endpoint with inline document attachment.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/akio-matsumoto/print-etl/internal/llm"
)

// Extract issues exactly one request: document + prompts in, schema-checked
// JSON mapping out. It never retries internally; failures are classified so
// the retry layer can decide.
func (c *Client) Extract(ctx context.Context, req llm.ExtractRequest) (map[string]any, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.extract.request",
		"req_id", rid,
		"model", c.cfg.Model,
		"file", filepath.Base(req.FilePath),
		"mime", req.MIMEType,
	)

	dataURL, mimeType, err := llm.ReadAsDataURL(req.FilePath)
	if err != nil {
		return nil, nil, llm.Fatalf("read document: %v", err)
	}
	if req.MIMEType != "" {
		mimeType = req.MIMEType
	}

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": req.SystemPrompt},
			{"role": "user", "content": userContent(req, dataURL, mimeType)},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(req.Schema)},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		c.log.Error("llm.extract.http_error",
			"req_id", rid, "kind", llm.Kind(err), "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, nil, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, raw, llm.Malformedf("decode completion response: %v", err)
	}
	if len(cc.Choices) == 0 {
		return nil, raw, llm.Malformedf("no choices in completion response")
	}
	content := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))

	if err := llm.ValidateAgainstSchema(req.Schema, content); err != nil {
		c.log.Warn("llm.extract.schema_violation",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, content, llm.Malformedf("schema validation: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(content, &out); err != nil {
		return nil, content, llm.Malformedf("unmarshal fields: %v", err)
	}

	c.log.Info("llm.extract.ok",
		"req_id", rid,
		"fields", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, content, nil
}

// userContent builds the multimodal message parts: text plus the document,
// attached as an image part for images and a file part for PDFs.
func userContent(req llm.ExtractRequest, dataURL, mimeType string) []map[string]any {
	parts := []map[string]any{
		{"type": "text", "text": req.UserPrompt},
	}
	if strings.HasPrefix(mimeType, "image/") {
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": dataURL},
		})
	} else {
		parts = append(parts, map[string]any{
			"type": "file",
			"file": map[string]any{
				"filename":  filepath.Base(req.FilePath),
				"file_data": dataURL,
			},
		})
	}
	return parts
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, llm.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, llm.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		// Timeouts and connection errors are worth another attempt.
		return nil, llm.Transientf("http: %v", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.Warn("llm.response_body_close_error", "error", cerr)
		}
	}()

	raw, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode/100 == 2:
		return raw, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5:
		return nil, llm.Transientf("status %d: %s", resp.StatusCode, truncate(raw, 512))
	default:
		// 4xx other than rate limiting: the request itself is bad
		// (unsupported file, oversized payload, auth). Retrying won't help.
		return nil, llm.Fatalf("status %d: %s", resp.StatusCode, truncate(raw, 512))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
