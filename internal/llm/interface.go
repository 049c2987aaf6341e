package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// Client is the subset of openai.Client used for enrichment; it is easy to mock in tests.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateBatchWithUploadFile(ctx context.Context, req openai.CreateBatchWithUploadFileRequest) (openai.BatchResponse, error)
	RetrieveBatch(ctx context.Context, batchID string) (openai.BatchResponse, error)
	GetFileContent(ctx context.Context, fileID string) (openai.RawResponse, error)
}
