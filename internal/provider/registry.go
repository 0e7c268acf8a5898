package provider

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"
)

// ID identifies an upstream provider.
type ID string

const (
	NanoAPI    ID = "nano_api"
	OpenRouter ID = "openrouter"
)

// Kind selects the wire format an adapter speaks.
type Kind string

const (
	KindOpenAI Kind = "openai"
	KindGemini Kind = "gemini"
)

const DefaultNanoAPIBaseURL = "https://api.naga.ac"

// Descriptor is the static configuration of one upstream provider.
type Descriptor struct {
	ID              ID                `yaml:"id" json:"id"`
	Kind            Kind              `yaml:"kind" json:"kind"`
	DisplayName     string            `yaml:"display_name" json:"display_name"`
	CredentialKey   string            `yaml:"credential_env" json:"-"`
	BaseURL         string            `yaml:"base_url" json:"base_url"`
	Enabled         bool              `yaml:"enabled" json:"enabled"`
	Priority        int               `yaml:"priority" json:"priority"`
	SupportedModels []string          `yaml:"supported_models" json:"supported_models,omitempty"`
	ModelMapping    map[string]string `yaml:"model_mapping" json:"model_mapping,omitempty"`
	Headers         map[string]string `yaml:"headers" json:"-"`
	TimeoutMillis   int               `yaml:"timeout_ms" json:"timeout_ms"`
}

// Timeout returns the per-attempt upstream timeout.
func (d Descriptor) Timeout() time.Duration {
	if d.TimeoutMillis <= 0 {
		return DefaultTimeout
	}
	return time.Duration(d.TimeoutMillis) * time.Millisecond
}

// Supports reports whether the provider accepts the neutral model id.
// An empty SupportedModels list accepts everything.
func (d Descriptor) Supports(model string) bool {
	if len(d.SupportedModels) == 0 {
		return true
	}
	if slices.Contains(d.SupportedModels, model) {
		return true
	}
	_, mapped := d.ModelMapping[model]
	return mapped
}

func (d Descriptor) clone() Descriptor {
	d.SupportedModels = slices.Clone(d.SupportedModels)
	d.ModelMapping = maps.Clone(d.ModelMapping)
	d.Headers = maps.Clone(d.Headers)
	return d
}

// ResolveModelName maps a neutral model id to the provider's own name.
func ResolveModelName(d Descriptor, model string) string {
	if mapped, ok := d.ModelMapping[model]; ok && mapped != "" {
		return mapped
	}
	return model
}

// DefaultDescriptors returns the built-in registry.
func DefaultDescriptors(nanoBaseURL string) []Descriptor {
	if nanoBaseURL == "" {
		nanoBaseURL = DefaultNanoAPIBaseURL
	}
	return []Descriptor{
		{
			ID:            NanoAPI,
			Kind:          KindGemini,
			DisplayName:   "Nano Banana API",
			CredentialKey: "NANO_API_KEY",
			BaseURL:       nanoBaseURL,
			Enabled:       true,
			Priority:      1,
			ModelMapping: map[string]string{
				"google/gemini-2.0-flash-exp":           "gemini-2.0-flash-exp",
				"google/gemini-2.5-flash":               "gemini-2.5-flash",
				"google/gemini-3-pro-preview":           "gemini-3-pro-preview",
				"google/gemini-2.5-flash-image-preview": "gemini-2.5-flash-image",
				"google/gemini-3-pro-image-preview":     "gemini-3-pro-image-preview",
			},
			TimeoutMillis: 300000,
		},
		{
			ID:            OpenRouter,
			Kind:          KindOpenAI,
			DisplayName:   "OpenRouter",
			CredentialKey: "OPENROUTER_API_KEY",
			BaseURL:       "https://openrouter.ai/api/v1",
			Enabled:       true,
			Priority:      2,
			Headers: map[string]string{
				"HTTP-Referer": "https://www.nbartai.com",
				"X-Title":      "Nano Banana Magic",
			},
			TimeoutMillis: 300000,
		},
	}
}

// CredentialLookup resolves a credential key, typically os.LookupEnv.
type CredentialLookup func(key string) (string, bool)

// Registry is the immutable, ordered set of configured providers.
type Registry struct {
	descriptors []Descriptor
	lookup      CredentialLookup
}

func NewRegistry(descriptors []Descriptor, lookup CredentialLookup) (*Registry, error) {
	if lookup == nil {
		return nil, fmt.Errorf("credential lookup cannot be nil")
	}

	seen := make(map[ID]bool, len(descriptors))
	owned := make([]Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if d.ID == "" {
			return nil, fmt.Errorf("provider descriptor without id")
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("duplicate provider id: %s", d.ID)
		}
		seen[d.ID] = true

		switch d.Kind {
		case KindOpenAI, KindGemini:
		default:
			return nil, fmt.Errorf("provider %s: unknown kind %q", d.ID, d.Kind)
		}
		if d.BaseURL == "" {
			return nil, fmt.Errorf("provider %s: base_url is required", d.ID)
		}
		d.BaseURL = strings.TrimRight(d.BaseURL, "/")
		owned = append(owned, d.clone())
	}

	return &Registry{descriptors: owned, lookup: lookup}, nil
}

// Descriptors returns every registered provider in declaration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.descriptors))
	for i, d := range r.descriptors {
		out[i] = d.clone()
	}
	return out
}

// ListEnabled returns enabled providers holding a non-blank credential,
// ordered by ascending priority. Equal priorities keep declaration order.
func (r *Registry) ListEnabled() []Descriptor {
	var out []Descriptor
	for _, d := range r.descriptors {
		if !d.Enabled {
			continue
		}
		if _, ok := r.Credential(d); !ok {
			continue
		}
		out = append(out, d.clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// Credential returns the trimmed credential, or false when missing or blank.
func (r *Registry) Credential(d Descriptor) (string, bool) {
	if d.CredentialKey == "" {
		return "", false
	}
	v, ok := r.lookup(d.CredentialKey)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}

func (r *Registry) ByID(id ID) (Descriptor, bool) {
	for _, d := range r.descriptors {
		if d.ID == id {
			return d.clone(), true
		}
	}
	return Descriptor{}, false
}

// Default returns the highest-priority usable provider.
func (r *Registry) Default() (Descriptor, bool) {
	enabled := r.ListEnabled()
	if len(enabled) == 0 {
		return Descriptor{}, false
	}
	return enabled[0], true
}

// ForModel returns the first usable provider that accepts the model.
func (r *Registry) ForModel(model string) (Descriptor, bool) {
	for _, d := range r.ListEnabled() {
		if d.Supports(model) {
			return d, true
		}
	}
	return Descriptor{}, false
}
