package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/comigor/chatvault/internal/config"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	defaultRequestTimeout   = 120 * time.Second
)

// Anthropic runs enrichment on the Anthropic Messages and Message Batches APIs.
//
// RequestTimeout bounds each JSON call (complete, submit, poll). Fetch is only
// bounded by its context since a results file can take long to stream.
type Anthropic struct {
	BaseURL        string
	APIKey         string
	Model          string
	MaxTokens      int
	RequestTimeout time.Duration
	Client         *http.Client
}

func NewAnthropic(apiKey string, cfg config.EnrichConfig) *Anthropic {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &Anthropic{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		APIKey:         apiKey,
		Model:          cfg.Model,
		MaxTokens:      cfg.MaxTokens,
		RequestTimeout: defaultRequestTimeout,
		Client:         &http.Client{},
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicParams struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
}

func (a *Anthropic) params(system, user string) anthropicParams {
	return anthropicParams{
		Model:     a.Model,
		MaxTokens: a.MaxTokens,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: user}},
	}
}

func (a *Anthropic) Complete(ctx context.Context, system, user string) (string, error) {
	var resp anthropicResponse
	if err := a.doJSON(ctx, "complete", http.MethodPost, a.BaseURL+"/v1/messages", a.params(system, user), &resp); err != nil {
		return "", err
	}
	text, ok := firstText(resp.Content)
	if !ok {
		return "", &TransportError{Op: "complete", Err: errors.New("no text content in response")}
	}
	return text, nil
}

func (a *Anthropic) Submit(ctx context.Context, reqs []Request) (string, error) {
	type item struct {
		CustomID string          `json:"custom_id"`
		Params   anthropicParams `json:"params"`
	}
	body := struct {
		Requests []item `json:"requests"`
	}{Requests: make([]item, 0, len(reqs))}
	for _, r := range reqs {
		body.Requests = append(body.Requests, item{CustomID: r.CustomID, Params: a.params(r.System, r.User)})
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := a.doJSON(ctx, "submit", http.MethodPost, a.BaseURL+"/v1/messages/batches", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &TransportError{Op: "submit", Err: errors.New("batch created without an id")}
	}
	return resp.ID, nil
}

func (a *Anthropic) Poll(ctx context.Context, jobID string) (Status, error) {
	var resp struct {
		ProcessingStatus string  `json:"processing_status"`
		ResultsURL       *string `json:"results_url"`
	}
	url := fmt.Sprintf("%s/v1/messages/batches/%s", a.BaseURL, jobID)
	if err := a.doJSON(ctx, "poll", http.MethodGet, url, nil, &resp); err != nil {
		return Status{}, err
	}
	st := Status{
		Done:  resp.ProcessingStatus == "ended",
		State: resp.ProcessingStatus,
	}
	if resp.ResultsURL != nil {
		st.Location = *resp.ResultsURL
	}
	return st, nil
}

func (a *Anthropic) Fetch(ctx context.Context, location string) (io.ReadCloser, error) {
	resp, err := a.do(ctx, "fetch", http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

type anthropicResultLine struct {
	CustomID string `json:"custom_id"`
	Result   struct {
		Type    string             `json:"type"`
		Message *anthropicResponse `json:"message"`
		Error   *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"result"`
}

func (a *Anthropic) ParseResult(line []byte) (Result, error) {
	var l anthropicResultLine
	if err := json.Unmarshal(line, &l); err != nil {
		return Result{}, err
	}
	res := Result{CustomID: l.CustomID, Detail: l.Result.Type}
	if l.Result.Type != "succeeded" || l.Result.Message == nil {
		if l.Result.Error != nil {
			res.Detail = l.Result.Type + ": " + l.Result.Error.Message
		}
		return res, nil
	}
	text, ok := firstText(l.Result.Message.Content)
	if !ok {
		res.Detail = "no text content"
		return res, nil
	}
	return Result{CustomID: l.CustomID, Succeeded: true, Text: text}, nil
}

func firstText(content []anthropicContent) (string, bool) {
	for _, c := range content {
		if c.Type == "text" {
			return c.Text, true
		}
	}
	return "", false
}

func (a *Anthropic) doJSON(ctx context.Context, op, method, url string, in, out any) error {
	if a.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.RequestTimeout)
		defer cancel()
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	resp, err := a.do(ctx, op, method, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// do sends one request and returns the response when the status is 2xx. Any
// other status becomes a TransportError carrying the (truncated) body.
func (a *Anthropic) do(ctx context.Context, op, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("x-api-key", a.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}
