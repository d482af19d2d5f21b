// Package analysis provides judge.Analyzer implementations: a remote
// HTTP analyzer for the multimodal AI service and a local heuristic
// fallback for offline operation.
package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"guardiand/internal/judge"
)

// HTTPAnalyzer posts capture contexts to the analysis service. The
// Judge owns the timeout; this client only shapes the request.
type HTTPAnalyzer struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPAnalyzer targets the given endpoint. The API key is sent as a
// bearer token.
func NewHTTPAnalyzer(endpoint, apiKey string) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{},
	}
}

type analyzeRequest struct {
	Text       string `json:"text"`
	ImageB64   string `json:"image,omitempty"`
	AgeGroup   string `json:"age_group"`
	Strictness string `json:"strictness"`
}

type analyzeResponse struct {
	Category    string   `json:"category"`
	Confidence  float64  `json:"confidence"`
	Explanation string   `json:"explanation"`
	Keywords    []string `json:"keywords"`
	AgeBand     string   `json:"age_band"`
}

// Analyze implements judge.Analyzer.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, req judge.AnalysisRequest) (judge.Verdict, error) {
	body := analyzeRequest{
		Text:       req.Text,
		AgeGroup:   string(req.Profile.AgeGroup),
		Strictness: string(req.Profile.Strictness),
	}
	if len(req.Image) > 0 {
		body.ImageB64 = base64.StdEncoding.EncodeToString(req.Image)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return judge.Verdict{}, fmt.Errorf("encode analysis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return judge.Verdict{}, fmt.Errorf("build analysis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return judge.Verdict{}, fmt.Errorf("analysis call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return judge.Verdict{}, fmt.Errorf("analysis service returned %s", resp.Status)
	}

	var out analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return judge.Verdict{}, fmt.Errorf("decode analysis response: %w", err)
	}
	return judge.Verdict{
		Category:    judge.ParseCategory(out.Category),
		Confidence:  clamp(out.Confidence),
		Explanation: out.Explanation,
		Keywords:    out.Keywords,
		AgeBand:     judge.AgeGroup(out.AgeBand),
		AnalyzedAt:  time.Now(),
	}, nil
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
