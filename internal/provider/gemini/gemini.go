package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/vnmchuo/banana-gateway/internal/provider"
)

// GeminiProvider talks to a generateContent endpoint, either Google's own
// or a gateway that mirrors it.
type GeminiProvider struct {
	desc   provider.Descriptor
	apiKey string
	client *http.Client
}

type geminiRequest struct {
	Contents         []geminiContent   `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature        *float64     `json:"temperature,omitempty"`
	MaxOutputTokens    int          `json:"maxOutputTokens,omitempty"`
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

func New(desc provider.Descriptor, apiKey string, client *http.Client) *GeminiProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &GeminiProvider{
		desc:   desc,
		apiKey: apiKey,
		client: client,
	}
}

func (p *GeminiProvider) ChatCompletion(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.desc.Timeout())
	defer cancel()

	model := provider.ResolveModelName(p.desc, req.Model)
	body, err := provider.PostJSON(ctx, p.client, p.desc.ID, p.endpoint(model), nil, p.mapChatRequest(req))
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, provider.NewError(p.desc.ID, "failed to unmarshal response", nil)
	}
	parsed := gjson.ParseBytes(body)

	var text string
	for _, part := range parsed.Get("candidates.0.content.parts").Array() {
		if t := part.Get("text"); t.Exists() {
			text = t.String()
			break
		}
	}

	return &provider.ChatResponse{
		Text:             text,
		PromptTokens:     int(parsed.Get("usageMetadata.promptTokenCount").Int()),
		CompletionTokens: int(parsed.Get("usageMetadata.candidatesTokenCount").Int()),
		Model:            model,
		Provider:         p.desc.ID,
	}, nil
}

func (p *GeminiProvider) ImageGeneration(ctx context.Context, req *provider.ImageRequest) (*provider.ImageResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.desc.Timeout())
	defer cancel()

	model := provider.ResolveModelName(p.desc, req.Model)
	body, err := provider.PostJSON(ctx, p.client, p.desc.ID, p.endpoint(model), nil, p.mapImageRequest(req, model))
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, provider.NewError(p.desc.ID, "failed to unmarshal response", nil)
	}
	parsed := gjson.ParseBytes(body)

	image, ok := extractImage(parsed.Get("candidates.0.content.parts").Array())
	if !ok {
		return nil, provider.NewError(p.desc.ID, "", provider.ErrNoImageData)
	}

	return &provider.ImageResponse{
		ImageBase64:      image,
		PromptTokens:     int(parsed.Get("usageMetadata.promptTokenCount").Int()),
		CompletionTokens: int(parsed.Get("usageMetadata.candidatesTokenCount").Int()),
		Model:            model,
		Provider:         p.desc.ID,
	}, nil
}

func (p *GeminiProvider) mapChatRequest(req *provider.ChatRequest) geminiRequest {
	texts := make([]string, len(req.Messages))
	for i, m := range req.Messages {
		texts[i] = m.Content
	}

	temperature := req.EffectiveTemperature()
	return geminiRequest{
		Contents: mapContents(texts, nil),
		GenerationConfig: &generationConfig{
			Temperature:     &temperature,
			MaxOutputTokens: req.EffectiveMaxTokens(),
		},
	}
}

func (p *GeminiProvider) mapImageRequest(req *provider.ImageRequest, model string) geminiRequest {
	out := geminiRequest{Contents: mapContents([]string{req.Prompt}, req.Images)}
	if isImageModel(model) {
		cfg := &generationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}}
		if req.AspectRatio != "" || req.OutputSize != "" {
			cfg.ImageConfig = &imageConfig{AspectRatio: req.AspectRatio, ImageSize: req.OutputSize}
		}
		out.GenerationConfig = cfg
	}
	return out
}

// mapContents packs every text and image into the parts of a single content.
func mapContents(texts []string, images []string) []geminiContent {
	parts := make([]geminiPart, 0, len(texts)+len(images))
	for _, t := range texts {
		parts = append(parts, geminiPart{Text: t})
	}
	for _, img := range images {
		mimeType, data := provider.SplitDataURI(img)
		parts = append(parts, geminiPart{InlineData: &inlineData{MimeType: mimeType, Data: data}})
	}
	return []geminiContent{{Parts: parts}}
}

// extractImage accepts both the REST casing (inlineData/mimeType) and the
// snake_case some gateways echo back.
func extractImage(parts []gjson.Result) (string, bool) {
	for _, part := range parts {
		blob := part.Get("inlineData")
		if !blob.Exists() {
			blob = part.Get("inline_data")
		}
		if !blob.Exists() {
			continue
		}

		data := blob.Get("data").String()
		if data == "" {
			continue
		}
		mimeType := blob.Get("mimeType").String()
		if mimeType == "" {
			mimeType = blob.Get("mime_type").String()
		}
		return provider.DataURI(mimeType, data), true
	}
	return "", false
}

func isImageModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "image")
}

func (p *GeminiProvider) endpoint(model string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.desc.BaseURL, url.PathEscape(model), url.QueryEscape(p.apiKey))
}
