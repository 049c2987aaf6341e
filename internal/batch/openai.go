package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/chatvault/internal/config"
	"github.com/comigor/chatvault/internal/llm"
)

var openAITerminal = map[string]bool{
	"completed": true,
	"failed":    true,
	"expired":   true,
	"cancelled": true,
}

// OpenAI runs enrichment on the OpenAI chat completions and Batch APIs.
type OpenAI struct {
	client    llm.Client
	model     string
	maxTokens int
	window    string
}

func NewOpenAI(client llm.Client, cfg config.EnrichConfig) *OpenAI {
	window := cfg.CompletionWindow
	if window == "" {
		window = "24h"
	}
	return &OpenAI{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		window:    window,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) chatRequest(system, user string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: o.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
}

func (o *OpenAI) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.chatRequest(system, user))
	if err != nil {
		return "", openAIError("complete", err)
	}
	if len(resp.Choices) == 0 {
		return "", &TransportError{Op: "complete", Err: errors.New("no choices in response")}
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) Submit(ctx context.Context, reqs []Request) (string, error) {
	upload := openai.UploadBatchFileRequest{
		FileName: fmt.Sprintf("chatvault-%s.jsonl", uuid.NewString()),
	}
	for _, r := range reqs {
		upload.AddChatCompletion(r.CustomID, o.chatRequest(r.System, r.User))
	}

	resp, err := o.client.CreateBatchWithUploadFile(ctx, openai.CreateBatchWithUploadFileRequest{
		Endpoint:               openai.BatchEndpointChatCompletions,
		CompletionWindow:       o.window,
		Metadata:               map[string]any{"source": "chatvault"},
		UploadBatchFileRequest: upload,
	})
	if err != nil {
		return "", openAIError("submit", err)
	}
	if resp.ID == "" {
		return "", &TransportError{Op: "submit", Err: errors.New("batch created without an id")}
	}
	return resp.ID, nil
}

func (o *OpenAI) Poll(ctx context.Context, jobID string) (Status, error) {
	resp, err := o.client.RetrieveBatch(ctx, jobID)
	if err != nil {
		return Status{}, openAIError("poll", err)
	}
	st := Status{
		Done:  openAITerminal[resp.Status],
		State: resp.Status,
	}
	if resp.OutputFileID != nil {
		st.Location = *resp.OutputFileID
	}
	return st, nil
}

func (o *OpenAI) Fetch(ctx context.Context, location string) (io.ReadCloser, error) {
	resp, err := o.client.GetFileContent(ctx, location)
	if err != nil {
		return nil, openAIError("fetch", err)
	}
	return resp.ReadCloser, nil
}

type openAIResultLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int                           `json:"status_code"`
		Body       openai.ChatCompletionResponse `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (o *OpenAI) ParseResult(line []byte) (Result, error) {
	var l openAIResultLine
	if err := json.Unmarshal(line, &l); err != nil {
		return Result{}, err
	}
	res := Result{CustomID: l.CustomID}
	switch {
	case l.Error != nil:
		res.Detail = l.Error.Code + ": " + l.Error.Message
	case l.Response == nil:
		res.Detail = "no response"
	case l.Response.StatusCode != 200:
		res.Detail = fmt.Sprintf("status %d", l.Response.StatusCode)
	case len(l.Response.Body.Choices) == 0:
		res.Detail = "no choices"
	default:
		res.Succeeded = true
		res.Text = l.Response.Body.Choices[0].Message.Content
	}
	return res, nil
}

// openAIError maps go-openai errors to TransportError, keeping the HTTP status.
func openAIError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &TransportError{Op: op, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &TransportError{Op: op, StatusCode: reqErr.HTTPStatusCode, Err: reqErr.Err}
	}
	return &TransportError{Op: op, Err: err}
}
