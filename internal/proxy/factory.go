package proxy

import (
	"fmt"
	"net/http"

	"github.com/vnmchuo/banana-gateway/internal/provider"
	"github.com/vnmchuo/banana-gateway/internal/provider/gemini"
	"github.com/vnmchuo/banana-gateway/internal/provider/openai"
)

// NewAdapterFactory dispatches on the descriptor's Kind.
func NewAdapterFactory(client *http.Client) provider.Factory {
	return func(desc provider.Descriptor, credential string) (provider.Adapter, error) {
		switch desc.Kind {
		case provider.KindOpenAI:
			return openai.New(desc, credential, client), nil
		case provider.KindGemini:
			return gemini.New(desc, credential, client), nil
		default:
			return nil, fmt.Errorf("unsupported provider kind %q", desc.Kind)
		}
	}
}
