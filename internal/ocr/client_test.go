package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func geminiReply(text string) string {
	payload := map[string]interface{}{
		"candidates": []interface{}{
			map[string]interface{}{
				"content": map[string]interface{}{
					"parts": []interface{}{map[string]string{"text": text}},
				},
			},
		},
	}
	body, _ := json.Marshal(payload)
	return string(body)
}

func TestExtractCallsGenerateContent(t *testing.T) {
	var gotPath, gotKey string
	var gotRequest generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotRequest); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(geminiReply("```json\n{\"vendor\":\"Cafe Blue\",\"date\":\"2026-01-05\",\"total_amount\":\"1,250.50\",\"expense_type\":\"Food & Beverage\",\"description\":null}\n```")))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k-123", BaseURL: server.URL})
	result, err := client.Extract(context.Background(), "image/png", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if gotPath != "/models/gemini-2.0-flash:generateContent" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotKey != "k-123" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}
	if len(gotRequest.Contents) != 1 || len(gotRequest.Contents[0].Parts) != 2 {
		t.Fatalf("expected prompt and inline data parts, got %+v", gotRequest.Contents)
	}
	inline := gotRequest.Contents[0].Parts[1].InlineData
	if inline == nil || inline.MimeType != "image/png" || inline.Data != "cG5nLWJ5dGVz" {
		t.Fatalf("unexpected inline data %+v", inline)
	}
	if result.Vendor != "Cafe Blue" || result.TotalAmount != "1250.5" || result.Category != "Meal" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Description != "" || result.Mock {
		t.Fatalf("expected empty description and real result, got %+v", result)
	}
}

func TestExtractUpstreamError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL})
	_, err := client.Extract(context.Background(), "image/jpeg", []byte("x"))
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status in error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestExtractTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(geminiReply("{}")))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL, Timeout: 20 * time.Millisecond})
	if _, err := client.Extract(context.Background(), "image/jpeg", []byte("x")); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream on timeout, got %v", err)
	}
}

func TestExtractMalformedReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(geminiReply("I could not read this receipt")))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL})
	if _, err := client.Extract(context.Background(), "application/pdf", []byte("%PDF")); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestExtractMockWithoutKey(t *testing.T) {
	client := NewClient(Config{})
	client.now = func() time.Time { return time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC) }
	result, err := client.Extract(context.Background(), "image/jpeg", []byte("x"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !result.Mock || result.Date != "2026-02-03" || result.Category != "Meal" {
		t.Fatalf("unexpected mock result %+v", result)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		mime string
		size int
		want error
	}{
		{"image/jpeg", 10, nil},
		{"IMAGE/PNG", 10, nil},
		{"application/pdf", MaxFileSize, nil},
		{"image/gif", 10, ErrUnsupportedType},
		{"image/png", MaxFileSize + 1, ErrFileTooLarge},
		{"image/png", 0, ErrEmptyFile},
	}
	for _, tt := range cases {
		if err := Validate(tt.mime, tt.size); !errors.Is(err, tt.want) {
			t.Fatalf("Validate(%q, %d)=%v, want %v", tt.mime, tt.size, err, tt.want)
		}
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
	}
	for in, want := range cases {
		if got := StripCodeFence(in); got != want {
			t.Fatalf("StripCodeFence(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestCategoryFor(t *testing.T) {
	cases := map[string]string{
		"Food & Beverage": "Meal",
		"Travel":          "Travel",
		"Accommodation":   "Accommodation",
		"Entertainment":   "Other",
		"":                "Other",
	}
	for in, want := range cases {
		if got := CategoryFor(in); got != want {
			t.Fatalf("CategoryFor(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestParseExtractionNumericAmount(t *testing.T) {
	result, err := ParseExtraction(`{"vendor":"Metro","total_amount":42.5,"expense_type":"Transportation"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if result.TotalAmount != "42.5" || result.Category != "Transportation" || result.Date != "" {
		t.Fatalf("unexpected result %+v", result)
	}
}
