package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/visitscribe/internal/domain"
)

// SimulatedTranscript is returned by the ASR client in simulate mode.
const SimulatedTranscript = "Patient reports a productive cough for five days with low-grade fever and mild fatigue. " +
	"History of seasonal allergies. No shortness of breath. On exam temperature 37.9, scattered wheezes, no crackles. " +
	"Impression is likely acute bronchitis. Plan rest and fluids, and start Amoxicillin 500 mg three times daily for 7 days."

// TranscriptionOutput is the decoded result of one ASR call.
type TranscriptionOutput struct {
	Text     string
	Provider string
	Raw      json.RawMessage
}

// TranscriptionClient calls the hosted speech-to-text model.
type TranscriptionClient struct {
	client   *resty.Client
	model    string
	apiKey   string
	endpoint string
	language string
}

// TranscriptionConfig holds configuration for the ASR client.
type TranscriptionConfig struct {
	BaseURL  string
	Model    string
	APIKey   string
	Language string
	Timeout  time.Duration
}

type transcriptionRequest struct {
	Model    string `json:"model"`
	AudioURL string `json:"audio_url"`
	Language string `json:"language,omitempty"`
}

// NewTranscriptionClient creates a new ASR client.
// Parameters:
//   - cfg: endpoint, model and credentials.
//
// Returns:
//   - *TranscriptionClient: initialized client.
func NewTranscriptionClient(cfg *TranscriptionConfig) *TranscriptionClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	return &TranscriptionClient{
		client:   client,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		endpoint: cfg.BaseURL,
		language: cfg.Language,
	}
}

// Configured reports whether the provider can be called.
func (c *TranscriptionClient) Configured() bool {
	return c.apiKey != "" && c.endpoint != ""
}

// Provider returns the model name recorded on transcripts.
func (c *TranscriptionClient) Provider() string {
	return c.model
}

// Transcribe converts the audio behind signedURL into text.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - signedURL: time-limited URL the provider downloads the audio from.
//   - simulate: return SimulatedTranscript without calling the provider.
//
// Returns:
//   - *TranscriptionOutput: decoded transcript.
//   - error: non-nil on transport errors, non-2xx responses, or empty text.
func (c *TranscriptionClient) Transcribe(ctx context.Context, signedURL string, simulate bool) (*TranscriptionOutput, error) {
	if simulate {
		return &TranscriptionOutput{Text: SimulatedTranscript, Provider: domain.ProviderSimulate}, nil
	}
	if !c.Configured() {
		return nil, fmt.Errorf("ASR provider is not configured")
	}

	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(transcriptionRequest{
			Model:    c.model,
			AudioURL: signedURL,
			Language: c.language,
		}).
		Post(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call ASR API: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		return nil, fmt.Errorf("ASR API returned error: HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
	}

	text, err := DecodeTranscription(httpResp.Body())
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("ASR API returned an empty transcript")
	}

	out := &TranscriptionOutput{Text: text, Provider: c.model}
	if json.Valid(httpResp.Body()) {
		out.Raw = json.RawMessage(httpResp.Body())
	}
	return out, nil
}
