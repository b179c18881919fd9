// Package extraction asks a vision model to read receipt images.
package extraction

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/groupspend/groupspend/internal/shared"
)

const prompt = `Read this receipt and reply with a single JSON object and nothing else.
Use this shape:
{"title": string, "totalAmount": number, "currency": string, "date": "YYYY-MM-DD",
 "items": [{"name": string, "quantity": number, "price": number, "category": string}]}
"price" is the price of one unit. Use the ISO 4217 code for currency.
Leave out any field you cannot read.`

// ErrEmptyResponse indicates the model returned no content.
var ErrEmptyResponse = errors.New("extraction: empty model response")

// Config configures the OpenAI extractor.
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
}

// Client extracts candidate receipt payloads through the OpenAI chat API.
type Client struct {
	client    *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

// NewClient builds an extractor. BaseURL is optional.
func NewClient(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Client{
		client:    openai.NewClientWithConfig(oc),
		model:     model,
		maxTokens: maxTokens,
		timeout:   cfg.Timeout,
	}
}

// ExtractReceipt sends the image to the model and returns its raw reply. The
// reply is untrusted and must go through the receipt parser.
func (c *Client) ExtractReceipt(ctx context.Context, image []byte, mimeType string) ([]byte, error) {
	if len(image) == 0 {
		return nil, &shared.ExtractionError{Err: errors.New("empty image")}
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, &shared.ExtractionError{Err: fmt.Errorf("unsupported content type %q", mimeType)}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: openai.ImageURLDetailHigh}},
			},
		}},
	})
	if err != nil {
		return nil, &shared.ExtractionError{Err: err}
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, &shared.ExtractionError{Err: ErrEmptyResponse}
	}
	return []byte(resp.Choices[0].Message.Content), nil
}
