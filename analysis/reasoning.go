package analysis

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cardeasec/cardea/alert"
	"github.com/cardeasec/cardea/config"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ReasoningClient is the typed adapter for the optional remote reasoning
// service. Every call carries a hard timeout and a token cap; any failure
// falls back to the deterministic scorer.
type ReasoningClient struct {
	baseURL   string
	maxTokens int32
	client    *http.Client
}

func NewReasoningClient(cfg *config.Config) *ReasoningClient {
	if cfg.Env.ReasoningServiceURL == "" {
		return nil
	}
	return &ReasoningClient{
		baseURL:   cfg.Env.ReasoningServiceURL,
		maxTokens: cfg.Oracle.ReasoningMaxTokens,
		client: &http.Client{
			Timeout: time.Duration(cfg.Oracle.ReasoningTimeoutSeconds) * time.Second,
		},
	}
}

type reasoningRequest struct {
	Alert     alert.Alert `json:"alert"`
	Prompt    string      `json:"prompt"`
	MaxTokens int32       `json:"max_tokens"`
}

type reasoningResponse struct {
	ThreatScore *float64 `json:"threat_score"`
	Confidence  *float64 `json:"confidence"`
}

const scoringPrompt = "Assess the threat represented by this alert. " +
	"Respond with JSON containing threat_score and confidence, both in [0,1]."

// Score asks the reasoning service for an assessment. The returned score is
// threat_score x confidence.
func (r *ReasoningClient) Score(ctx context.Context, built alert.Alert) (float64, error) {
	body, err := json.Marshal(reasoningRequest{
		Alert:     built,
		Prompt:    scoringPrompt,
		MaxTokens: r.maxTokens,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/assess", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("reasoning service returned status %d", resp.StatusCode)
	}

	var parsed reasoningResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decoding reasoning response: %w", err)
	}
	if parsed.ThreatScore == nil || parsed.Confidence == nil {
		return 0, fmt.Errorf("reasoning response missing threat_score or confidence")
	}
	return *parsed.ThreatScore * *parsed.Confidence, nil
}
