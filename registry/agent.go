package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpAgent is the single Agent implementation backing every BackendType.
type httpAgent struct {
	baseURL     string
	apiKey      string
	authHeader  string // header name carrying the credential, e.g. "Authorization"
	authScheme  string // e.g. "Bearer "; empty for schemes that need no prefix
	chatPath    string
	healthPath  string
	healthCheck func(status int) bool
	client      *http.Client
	profile     AgentProfile
}

// AgentOptions carries the per-backend values NewAgent needs; everything
// else is derived from BackendType defaults.
type AgentOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Profile AgentProfile
}

// NewAgent builds the Agent for a given backend_type. baseURL and apiKey
// come from BackendConfig; zone/tier come from the already-resolved
// BackendConfig defaults.
func NewAgent(bt BackendType, opts AgentOptions) Agent {
	if opts.Timeout <= 0 {
		if bt.IsCloud() {
			opts.Timeout = 120 * time.Second
		} else {
			opts.Timeout = 300 * time.Second // local runtimes can be slow to load a model
		}
	}
	a := &httpAgent{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		chatPath:   "/v1/chat/completions",
		healthPath: "/v1/models",
		authHeader: "Authorization",
		authScheme: "Bearer ",
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		profile: opts.Profile,
	}
	a.healthCheck = func(status int) bool { return status == http.StatusOK }

	switch bt {
	case Ollama:
		if a.baseURL == "" {
			a.baseURL = "http://localhost:11434"
		}
		a.healthPath = "/api/tags"
	case LlamaCpp:
		if a.baseURL == "" {
			a.baseURL = "http://localhost:8080"
		}
		a.healthPath = "/health"
	case LMStudio:
		if a.baseURL == "" {
			a.baseURL = "http://localhost:1234"
		}
	case OpenAI:
		if a.baseURL == "" {
			a.baseURL = "https://api.openai.com"
		}
	case Anthropic:
		if a.baseURL == "" {
			a.baseURL = "https://api.anthropic.com"
		}
		a.authHeader = "x-api-key"
		a.authScheme = ""
	case Google:
		if a.baseURL == "" {
			a.baseURL = "https://generativelanguage.googleapis.com"
		}
	}
	return a
}

func (a *httpAgent) Profile() AgentProfile { return a.profile }

func (a *httpAgent) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set(a.authHeader, a.authScheme+a.apiKey)
	}
}

func (a *httpAgent) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	req.Stream = false
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+a.chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	a.setHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	chatResp.Raw = respBody
	return &chatResp, nil
}

func (a *httpAgent) ChatCompletionStream(ctx context.Context, req *ChatRequest) (Stream, error) {
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+a.chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	a.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return NewHTTPStream(resp.Body), nil
}

func (a *httpAgent) HealthCheck(ctx context.Context) HealthStatus {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+a.healthPath, nil)
	if err != nil {
		return HealthStatus{Healthy: false, Error: err.Error(), LastCheck: time.Now()}
	}
	a.setHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return HealthStatus{Healthy: false, Latency: latency, Error: err.Error(), LastCheck: time.Now()}
	}
	defer resp.Body.Close()

	healthy := a.healthCheck(resp.StatusCode)
	errMsg := ""
	if !healthy {
		errMsg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return HealthStatus{Healthy: healthy, Latency: latency, LastCheck: time.Now(), Error: errMsg}
}
