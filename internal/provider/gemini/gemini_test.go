package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vnmchuo/banana-gateway/internal/provider"
)

func testDescriptor(baseURL string) provider.Descriptor {
	return provider.Descriptor{
		ID:      provider.NanoAPI,
		Kind:    provider.KindGemini,
		BaseURL: baseURL,
		Enabled: true,
		ModelMapping: map[string]string{
			"google/gemini-2.5-flash-image-preview": "gemini-2.5-flash-image",
		},
	}
}

func TestChatCompletion_Mock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-pro:generateContent" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("Expected key query parameter, got %q", r.URL.Query().Get("key"))
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("Credential must not travel in a header")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"candidates": [{"content": {"parts": [{"text": "Hello from mock!"}]}}],
			"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 20}
		}`)
	}))
	defer server.Close()

	p := New(testDescriptor(server.URL), "test-key", server.Client())

	resp, err := p.ChatCompletion(context.Background(), &provider.ChatRequest{
		Model:    "gemini-pro",
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatCompletion failed: %v", err)
	}

	if resp.Text != "Hello from mock!" {
		t.Errorf("Expected 'Hello from mock!', got %s", resp.Text)
	}
	if resp.PromptTokens != 10 {
		t.Errorf("Expected 10 prompt tokens, got %d", resp.PromptTokens)
	}
	if resp.CompletionTokens != 20 {
		t.Errorf("Expected 20 completion tokens, got %d", resp.CompletionTokens)
	}
	if resp.Provider != provider.NanoAPI {
		t.Errorf("Expected provider nano_api, got %s", resp.Provider)
	}
}

func TestChatCompletion_SkipsPartsWithoutText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{
			"candidates": [{"content": {"parts": [
				{"inlineData": {"mimeType": "image/png", "data": "AAAA"}},
				{"text": "second part"}
			]}}]
		}`)
	}))
	defer server.Close()

	p := New(testDescriptor(server.URL), "k", server.Client())
	resp, err := p.ChatCompletion(context.Background(), &provider.ChatRequest{Model: "gemini-pro"})
	if err != nil {
		t.Fatalf("ChatCompletion failed: %v", err)
	}
	if resp.Text != "second part" {
		t.Errorf("Expected first text part, got %q", resp.Text)
	}
}

func TestMapContents_MessagesAndImages(t *testing.T) {
	contents := mapContents(
		[]string{"system rules", "user question"},
		[]string{"data:image/jpeg;base64,QUJD", "RkZG"},
	)

	if len(contents) != 1 {
		t.Fatalf("Expected a single content, got %d", len(contents))
	}
	parts := contents[0].Parts
	if len(parts) != 4 {
		t.Fatalf("Expected 4 parts, got %d", len(parts))
	}
	if parts[0].Text != "system rules" || parts[1].Text != "user question" {
		t.Errorf("Unexpected text parts: %+v", parts[:2])
	}
	if parts[2].InlineData == nil || parts[2].InlineData.MimeType != "image/jpeg" || parts[2].InlineData.Data != "QUJD" {
		t.Errorf("Unexpected first inline part: %+v", parts[2].InlineData)
	}
	if parts[3].InlineData == nil || parts[3].InlineData.MimeType != "image/png" || parts[3].InlineData.Data != "RkZG" {
		t.Errorf("Bare base64 should default to image/png, got %+v", parts[3].InlineData)
	}

	raw, err := json.Marshal(geminiRequest{Contents: contents})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	part := decoded["contents"].([]any)[0].(map[string]any)["parts"].([]any)[2].(map[string]any)
	if _, ok := part["inline_data"]; !ok {
		t.Errorf("Expected snake_case inline_data on the wire, got %v", part)
	}
}

func TestImageGeneration_Mock(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-2.5-flash-image:generateContent" {
			t.Errorf("Expected mapped model in path, got %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = io.WriteString(w, `{
			"candidates": [{"content": {"parts": [
				{"text": "here it is"},
				{"inline_data": {"mime_type": "image/jpeg", "data": "/9j/AAAA"}}
			]}}],
			"usageMetadata": {"promptTokenCount": 7, "candidatesTokenCount": 1290}
		}`)
	}))
	defer server.Close()

	p := New(testDescriptor(server.URL), "test-key", server.Client())
	resp, err := p.ImageGeneration(context.Background(), &provider.ImageRequest{
		Model:       "google/gemini-2.5-flash-image-preview",
		Prompt:      "a banana on the moon",
		AspectRatio: "16:9",
		OutputSize:  "2K",
	})
	if err != nil {
		t.Fatalf("ImageGeneration failed: %v", err)
	}

	if resp.ImageBase64 != "data:image/jpeg;base64,/9j/AAAA" {
		t.Errorf("Unexpected image data URI: %s", resp.ImageBase64)
	}
	if resp.Model != "gemini-2.5-flash-image" {
		t.Errorf("Expected resolved model, got %s", resp.Model)
	}
	if resp.CompletionTokens != 1290 {
		t.Errorf("Expected 1290 completion tokens, got %d", resp.CompletionTokens)
	}

	cfg := captured["generationConfig"].(map[string]any)
	modalities := cfg["responseModalities"].([]any)
	if len(modalities) != 2 || modalities[0] != "TEXT" || modalities[1] != "IMAGE" {
		t.Errorf("Unexpected modalities: %v", modalities)
	}
	imgCfg := cfg["imageConfig"].(map[string]any)
	if imgCfg["aspectRatio"] != "16:9" || imgCfg["imageSize"] != "2K" {
		t.Errorf("Unexpected imageConfig: %v", imgCfg)
	}
}

func TestImageGeneration_CamelCaseInlineData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates": [{"content": {"parts": [{"inlineData": {"mimeType": "image/png", "data": "AAAA"}}]}}]}`)
	}))
	defer server.Close()

	p := New(testDescriptor(server.URL), "k", server.Client())
	resp, err := p.ImageGeneration(context.Background(), &provider.ImageRequest{Model: "gemini-2.5-flash-image", Prompt: "p"})
	if err != nil {
		t.Fatalf("ImageGeneration failed: %v", err)
	}
	if resp.ImageBase64 != "data:image/png;base64,AAAA" {
		t.Errorf("Unexpected image data URI: %s", resp.ImageBase64)
	}
}

func TestImageGeneration_NoImagePart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates": [{"content": {"parts": [{"text": "refused"}]}}]}`)
	}))
	defer server.Close()

	p := New(testDescriptor(server.URL), "k", server.Client())
	_, err := p.ImageGeneration(context.Background(), &provider.ImageRequest{Model: "gemini-2.5-flash-image", Prompt: "p"})
	if !errors.Is(err, provider.ErrNoImageData) {
		t.Errorf("Expected ErrNoImageData, got %v", err)
	}
}

func TestImageGeneration_TextModelOmitsModalities(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = io.WriteString(w, `{"candidates": []}`)
	}))
	defer server.Close()

	p := New(testDescriptor(server.URL), "k", server.Client())
	_, _ = p.ImageGeneration(context.Background(), &provider.ImageRequest{Model: "gemini-2.5-flash", Prompt: "p"})

	if _, ok := captured["generationConfig"]; ok {
		t.Errorf("Expected no generationConfig for a text model, got %v", captured["generationConfig"])
	}
}

func TestChatCompletion_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream down")
	}))
	defer server.Close()

	p := New(testDescriptor(server.URL), "k", server.Client())
	_, err := p.ChatCompletion(context.Background(), &provider.ChatRequest{Model: "gemini-pro"})

	var perr *provider.Error
	if !errors.As(err, &perr) {
		t.Fatalf("Expected *provider.Error, got %v", err)
	}
	if perr.StatusCode != http.StatusBadGateway || perr.Body != "upstream down" {
		t.Errorf("Unexpected error fields: %+v", perr)
	}
	if perr.Provider != provider.NanoAPI {
		t.Errorf("Expected nano_api, got %s", perr.Provider)
	}
}
