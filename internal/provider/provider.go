package provider

import (
	"context"
	"time"
)

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
	DefaultTimeout     = 5 * time.Minute
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"` // nil means DefaultTemperature
	MaxTokens   int       `json:"max_tokens,omitempty"`  // 0 means DefaultMaxTokens
}

// EffectiveTemperature returns the requested temperature or the default.
func (r *ChatRequest) EffectiveTemperature() float64 {
	if r.Temperature == nil {
		return DefaultTemperature
	}
	return *r.Temperature
}

func (r *ChatRequest) EffectiveMaxTokens() int {
	if r.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return r.MaxTokens
}

type ChatResponse struct {
	Text             string `json:"text"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	Model            string `json:"model"`
	Provider         ID     `json:"provider"`
}

type ImageRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Images      []string `json:"images,omitempty"` // base64, optionally as data URIs
	AspectRatio string   `json:"aspect_ratio,omitempty"`
	OutputSize  string   `json:"output_size,omitempty"`
}

type ImageResponse struct {
	ImageBase64      string `json:"image_base64"` // data URI
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	Model            string `json:"model"`
	Provider         ID     `json:"provider"`
}

// Adapter speaks one upstream wire format. Implementations are bound to a
// single descriptor and credential.
type Adapter interface {
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	ImageGeneration(ctx context.Context, req *ImageRequest) (*ImageResponse, error)
}

// Factory builds the adapter for a descriptor's Kind.
type Factory func(desc Descriptor, credential string) (Adapter, error)
