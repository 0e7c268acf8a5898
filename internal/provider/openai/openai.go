package openai

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/vnmchuo/banana-gateway/internal/provider"
)

// OpenAIProvider talks to any OpenAI-compatible chat/completions endpoint.
type OpenAIProvider struct {
	desc   provider.Descriptor
	apiKey string
	client *http.Client
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Modalities  []string        `json:"modalities,omitempty"`
	ImageConfig *imageConfig    `json:"image_config,omitempty"`
}

// openAIMessage content is a string for chat and a []contentPart for
// multimodal requests.
type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type imageConfig struct {
	AspectRatio string `json:"aspect_ratio,omitempty"`
	ImageSize   string `json:"image_size,omitempty"`
}

// markdownImage matches ![alt](data:image/...;base64,...) in assistant text.
var markdownImage = regexp.MustCompile(`!\[[^\]]*\]\((data:image/[^)\s]+)\)`)

func New(desc provider.Descriptor, apiKey string, client *http.Client) *OpenAIProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIProvider{
		desc:   desc,
		apiKey: apiKey,
		client: client,
	}
}

func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.desc.Timeout())
	defer cancel()

	model := provider.ResolveModelName(p.desc, req.Model)
	body, err := provider.PostJSON(ctx, p.client, p.desc.ID, p.endpoint(), p.headers(), p.mapChatRequest(req, model))
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, provider.NewError(p.desc.ID, "failed to unmarshal response", nil)
	}
	parsed := gjson.ParseBytes(body)

	return &provider.ChatResponse{
		Text:             parsed.Get("choices.0.message.content").String(),
		PromptTokens:     int(parsed.Get("usage.prompt_tokens").Int()),
		CompletionTokens: int(parsed.Get("usage.completion_tokens").Int()),
		Model:            responseModel(parsed, model),
		Provider:         p.desc.ID,
	}, nil
}

func (p *OpenAIProvider) ImageGeneration(ctx context.Context, req *provider.ImageRequest) (*provider.ImageResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.desc.Timeout())
	defer cancel()

	model := provider.ResolveModelName(p.desc, req.Model)
	body, err := provider.PostJSON(ctx, p.client, p.desc.ID, p.endpoint(), p.headers(), p.mapImageRequest(req, model))
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, provider.NewError(p.desc.ID, "failed to unmarshal response", nil)
	}
	parsed := gjson.ParseBytes(body)

	image, ok := extractImage(parsed.Get("choices.0.message"))
	if !ok {
		return nil, provider.NewError(p.desc.ID, "", provider.ErrNoImageData)
	}

	return &provider.ImageResponse{
		ImageBase64:      image,
		PromptTokens:     int(parsed.Get("usage.prompt_tokens").Int()),
		CompletionTokens: int(parsed.Get("usage.completion_tokens").Int()),
		Model:            responseModel(parsed, model),
		Provider:         p.desc.ID,
	}, nil
}

func (p *OpenAIProvider) mapChatRequest(req *provider.ChatRequest, model string) openAIRequest {
	messages := make([]openAIMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openAIMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
	}

	temperature := req.EffectiveTemperature()
	return openAIRequest{
		Model:       model,
		Messages:    messages,
		Temperature: &temperature,
		MaxTokens:   req.EffectiveMaxTokens(),
	}
}

func (p *OpenAIProvider) mapImageRequest(req *provider.ImageRequest, model string) openAIRequest {
	parts := make([]contentPart, 0, len(req.Images)+1)
	parts = append(parts, contentPart{Type: "text", Text: req.Prompt})
	for _, img := range req.Images {
		mimeType, data := provider.SplitDataURI(img)
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: provider.DataURI(mimeType, data)},
		})
	}

	out := openAIRequest{
		Model:      model,
		Messages:   []openAIMessage{{Role: string(provider.RoleUser), Content: parts}},
		Modalities: []string{"image", "text"},
	}
	if req.AspectRatio != "" || req.OutputSize != "" {
		out.ImageConfig = &imageConfig{AspectRatio: req.AspectRatio, ImageSize: req.OutputSize}
	}
	return out
}

// extractImage prefers a structured images array and falls back to a
// markdown data URI embedded in the assistant text.
func extractImage(message gjson.Result) (string, bool) {
	for _, img := range message.Get("images").Array() {
		if url := img.Get("image_url.url").String(); strings.HasPrefix(url, "data:image/") {
			return url, true
		}
	}

	if m := markdownImage.FindStringSubmatch(message.Get("content").String()); m != nil {
		return m[1], true
	}
	return "", false
}

func responseModel(parsed gjson.Result, fallback string) string {
	if m := parsed.Get("model").String(); m != "" {
		return m
	}
	return fallback
}

func (p *OpenAIProvider) endpoint() string {
	return fmt.Sprintf("%s/chat/completions", p.desc.BaseURL)
}

func (p *OpenAIProvider) headers() map[string]string {
	h := make(map[string]string, len(p.desc.Headers)+1)
	for k, v := range p.desc.Headers {
		h[k] = v
	}
	h["Authorization"] = fmt.Sprintf("Bearer %s", p.apiKey)
	return h
}
