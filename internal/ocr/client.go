// Package ocr extracts receipt fields through the Gemini generateContent API.
// Results are advisory: claim amounts are always entered by the employee.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"expenseflow/expense-service/internal/models"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	MaxFileSize     = 5 << 20
	DefaultModel    = "gemini-2.0-flash"
	DefaultBaseURL  = "https://generativelanguage.googleapis.com/v1beta"
	defaultTimeout  = 10 * time.Second
	maxErrorBodyLen = 512
)

var (
	ErrEmptyFile          = errors.New("receipt file is empty")
	ErrFileTooLarge       = errors.New("receipt file exceeds 5MB")
	ErrUnsupportedType    = errors.New("unsupported receipt type")
	ErrUpstream           = errors.New("ocr service error")
	ErrMalformedResponse  = errors.New("ocr response could not be parsed")
	allowedTypes          = map[string]bool{"image/jpeg": true, "image/png": true, "image/jpg": true, "application/pdf": true}
	expenseTypeCategories = map[string]string{
		"Food & Beverage": "Meal",
		"Travel":          "Travel",
		"Transportation":  "Transportation",
		"Office Supplies": "Office Supplies",
		"Accommodation":   "Accommodation",
	}
)

const extractionPrompt = `Analyze this receipt image and extract the following information in JSON format:
{
  "vendor": "Name of the business/vendor",
  "date": "Date from receipt in YYYY-MM-DD format",
  "total_amount": "Total amount as a number",
  "expense_type": "Type of expense (Food & Beverage, Travel, Office Supplies, etc.)",
  "description": "Brief description of the expense"
}

If any information is not clear or not found, use null for that field.
Return only the JSON object, no additional text.`

type Result struct {
	Vendor      string `json:"vendor"`
	Date        string `json:"date"`
	TotalAmount string `json:"total_amount"`
	ExpenseType string `json:"expense_type"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Mock        bool   `json:"mock"`
}

func (r Result) OCRData() models.OCRData {
	return models.OCRData{
		Vendor:      r.Vendor,
		Date:        r.Date,
		TotalAmount: r.TotalAmount,
		ExpenseType: r.ExpenseType,
	}
}

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
	now     func() time.Time
}

func NewClient(cfg Config) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   model,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		now:     time.Now,
	}
}

// Enabled reports whether a real API key is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != "" && c.apiKey != "your_gemini_api_key_here"
}

// CategoryFor maps the extracted expense type onto a claim category.
func CategoryFor(expenseType string) string {
	if category, ok := expenseTypeCategories[strings.TrimSpace(expenseType)]; ok {
		return category
	}
	return "Other"
}

func Validate(mimeType string, size int) error {
	if size == 0 {
		return ErrEmptyFile
	}
	if size > MaxFileSize {
		return ErrFileTooLarge
	}
	if !allowedTypes[strings.ToLower(mimeType)] {
		return ErrUnsupportedType
	}
	return nil
}

// Extract sends the receipt to the OCR service once; there is no retry.
func (c *Client) Extract(ctx context.Context, mimeType string, data []byte) (Result, error) {
	if err := Validate(mimeType, len(data)); err != nil {
		return Result{}, err
	}
	if !c.Enabled() {
		return c.mockResult(), nil
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{
			Parts: []part{
				{Text: extractionPrompt},
				{InlineData: &inlineData{MimeType: strings.ToLower(mimeType), Data: base64.StdEncoding.EncodeToString(data)}},
			},
		}},
		GenerationConfig: generationConfig{Temperature: 0.1, TopK: 32, TopP: 1, MaxOutputTokens: 1024},
	})
	if err != nil {
		return Result{}, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return Result{}, fmt.Errorf("%w: no candidates", ErrMalformedResponse)
	}
	return ParseExtraction(decoded.Candidates[0].Content.Parts[0].Text)
}

// ParseExtraction decodes the model's reply, tolerating markdown code fences
// and null or non-string field values.
func ParseExtraction(text string) (Result, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(StripCodeFence(text)), &raw); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	result := Result{
		Vendor:      rawString(raw["vendor"]),
		Date:        rawString(raw["date"]),
		TotalAmount: normalizeAmount(rawString(raw["total_amount"])),
		ExpenseType: rawString(raw["expense_type"]),
		Description: rawString(raw["description"]),
	}
	result.Category = CategoryFor(result.ExpenseType)
	return result, nil
}

func StripCodeFence(text string) string {
	clean := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(clean, "```json"):
		clean = strings.TrimPrefix(clean, "```json")
	case strings.HasPrefix(clean, "```"):
		clean = strings.TrimPrefix(clean, "```")
	default:
		return clean
	}
	clean = strings.TrimSpace(clean)
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(clean)
}

func (c *Client) mockResult() Result {
	return Result{
		Vendor:      "Sample Vendor",
		Date:        c.now().UTC().Format("2006-01-02"),
		TotalAmount: "1500",
		ExpenseType: "Food & Beverage",
		Description: "Mock receipt data - configure GEMINI_API_KEY for real OCR",
		Category:    CategoryFor("Food & Beverage"),
		Mock:        true,
	}
}

func rawString(value json.RawMessage) string {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(trimmed)
}

// normalizeAmount keeps only a parseable decimal; anything else is dropped.
func normalizeAmount(value string) string {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, value)
	if cleaned == "" {
		return ""
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return ""
	}
	return amount.String()
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}
