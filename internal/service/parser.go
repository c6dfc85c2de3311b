package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/visitscribe/internal/domain"
	"github.com/timmy/visitscribe/internal/prompts"
)

// SimulatedSummary is the summary of the simulate fixture.
const SimulatedSummary = "Patient with cough; likely acute bronchitis..."

// SimulatedClinicalFields returns the fixed structured payload used in simulate mode.
func SimulatedClinicalFields() *domain.ClinicalFields {
	return &domain.ClinicalFields{
		PastMedicalHistory: domain.NewFlexValue([]string{"seasonal allergies"}),
		CurrentSymptoms: domain.NewFlexValue(map[string]string{
			"cough":   "productive, 5 days",
			"fever":   "low-grade",
			"fatigue": "mild",
		}),
		PhysicalExamFindings: domain.NewFlexValue(map[string]string{
			"temperature": "37.9 C",
			"lungs":       "scattered wheezes, no crackles",
		}),
		Diagnosis:     domain.NewFlexValue("acute bronchitis"),
		TreatmentPlan: domain.NewFlexValue([]string{"rest", "oral fluids"}),
		Prescriptions: domain.Prescriptions{
			{Name: "Amoxicillin", Dosage: "500 mg", Frequency: "three times daily", Duration: "7 days"},
		},
		Summary: SimulatedSummary,
	}
}

// ParseResult is the structured output of the clinical parser.
type ParseResult struct {
	Structured *domain.ClinicalFields
	Summary    *string
	Raw        string
}

// ClinicalParser extracts clinical fields from a transcript with an
// OpenAI-compatible chat completion model.
type ClinicalParser struct {
	client   *resty.Client
	model    string
	apiKey   string
	endpoint string
}

// ClinicalParserConfig holds configuration for the clinical parser.
type ClinicalParserConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// NewClinicalParser creates a new ClinicalParser.
// Parameters:
//   - cfg: endpoint, model and credentials.
//
// Returns:
//   - *ClinicalParser: initialized parser.
func NewClinicalParser(cfg *ClinicalParserConfig) *ClinicalParser {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &ClinicalParser{
		client:   client,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		endpoint: strings.TrimSuffix(baseURL, "/") + "/chat/completions",
	}
}

// Configured reports whether the parser has credentials.
func (p *ClinicalParser) Configured() bool {
	return p.apiKey != ""
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Parse extracts clinical fields from transcript.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - transcript: transcript text.
//   - visitID: visit the transcript belongs to, included in the prompt.
//   - simulate: return the fixed fixture without calling the model.
//
// Returns:
//   - *ParseResult: structured fields and summary.
//   - error: non-nil on transport errors, non-2xx responses, or malformed JSON.
func (p *ClinicalParser) Parse(ctx context.Context, transcript, visitID string, simulate bool) (*ParseResult, error) {
	if simulate {
		fields := SimulatedClinicalFields()
		summary := fields.Summary
		return &ParseResult{Structured: fields, Summary: &summary}, nil
	}
	if !p.Configured() {
		return nil, fmt.Errorf("clinical parser is not configured")
	}

	req := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompts.ClinicalExtractionSystemPrompt},
			{Role: "user", Content: prompts.ClinicalExtractionUserPrompt(visitID, transcript)},
		},
		Temperature:    0,
		ResponseFormat: responseFormat{Type: "json_object"},
	}

	var resp chatResponse
	httpResp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call parser API: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		errorMsg := fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
		if resp.Error != nil {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		}
		return nil, fmt.Errorf("parser API returned error: %s", errorMsg)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("parser API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in parser response")
	}

	content := resp.Choices[0].Message.Content
	raw, err := extractJSONObject(content)
	if err != nil {
		return nil, err
	}

	var fields domain.ClinicalFields
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("failed to parse clinical fields: %w", err)
	}

	result := &ParseResult{Structured: &fields, Raw: content}
	if summary := strings.TrimSpace(fields.Summary); summary != "" {
		result.Summary = &summary
	}
	return result, nil
}
