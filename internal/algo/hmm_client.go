package algo

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// InferRequest is the body posted to the HMM inference service.
type InferRequest struct {
	Symbol   string    `json:"symbol"`
	Features []float64 `json:"features"`
	Ts       float64   `json:"ts"`
}

// InferResponse is the HMM service's regime inference.
type InferResponse struct {
	State      int       `json:"state"`
	Probs      []float64 `json:"probs"`
	Action     string    `json:"action,omitempty"`
	Confidence float64   `json:"confidence"`
}

// HMMClient calls an external regime-inference HTTP service, falling
// back to a uniform, confidence-1/3 response on any failure so a single
// flaky inference call never stalls the algo pipeline.
type HMMClient struct {
	http *resty.Client
}

// NewHMMClient returns a client pointed at baseURL with a short
// request timeout suited to an inline per-tick call.
func NewHMMClient(baseURL string) *HMMClient {
	return &HMMClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(750 * time.Millisecond).
			SetHeader("Content-Type", "application/json"),
	}
}

// Infer posts features for symbol and returns the parsed response.
func (c *HMMClient) Infer(symbol string, features []float64, ts float64) (*InferResponse, error) {
	var out InferResponse
	resp, err := c.http.R().
		SetBody(InferRequest{Symbol: symbol, Features: features, Ts: ts}).
		SetResult(&out).
		Post("/infer")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &httpStatusError{status: resp.StatusCode()}
	}
	return &out, nil
}

// Fallback is the uniform inference (state 1, confidence 1/3) used when Infer
// fails, matching the original service's three-state fallback.
func (c *HMMClient) Fallback() *InferResponse {
	probs := []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}
	return &InferResponse{State: 1, Probs: probs, Confidence: probs[0]}
}

type httpStatusError struct{ status int }

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("hmm inference returned status %d", e.status)
}
