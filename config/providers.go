package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vnmchuo/banana-gateway/internal/billing"
	"github.com/vnmchuo/banana-gateway/internal/provider"
)

// providersFile is the PROVIDERS_FILE layout:
//
//	providers:
//	  - id: openrouter
//	    kind: openai
//	    base_url: https://openrouter.ai/api/v1
//	    credential_env: OPENROUTER_API_KEY
//	    priority: 1
//	credit_costs:
//	  openrouter:
//	    google/gemini-2.5-flash-image-preview: "0.10"
type providersFile struct {
	Providers   []fileDescriptor             `yaml:"providers"`
	CreditCosts map[string]map[string]string `yaml:"credit_costs"`
}

// fileDescriptor mirrors provider.Descriptor, except an omitted "enabled"
// means enabled.
type fileDescriptor struct {
	ID              provider.ID       `yaml:"id"`
	Kind            provider.Kind     `yaml:"kind"`
	DisplayName     string            `yaml:"display_name"`
	CredentialEnv   string            `yaml:"credential_env"`
	BaseURL         string            `yaml:"base_url"`
	Enabled         *bool             `yaml:"enabled"`
	Priority        int               `yaml:"priority"`
	SupportedModels []string          `yaml:"supported_models"`
	ModelMapping    map[string]string `yaml:"model_mapping"`
	Headers         map[string]string `yaml:"headers"`
	TimeoutMillis   int               `yaml:"timeout_ms"`
}

func (fd fileDescriptor) descriptor() provider.Descriptor {
	return provider.Descriptor{
		ID:              fd.ID,
		Kind:            fd.Kind,
		DisplayName:     fd.DisplayName,
		CredentialKey:   fd.CredentialEnv,
		BaseURL:         fd.BaseURL,
		Enabled:         fd.Enabled == nil || *fd.Enabled,
		Priority:        fd.Priority,
		SupportedModels: fd.SupportedModels,
		ModelMapping:    fd.ModelMapping,
		Headers:         fd.Headers,
		TimeoutMillis:   fd.TimeoutMillis,
	}
}

// LoadProviders returns the provider registry entries and credit price table.
// Sections missing from the file, or the whole file when path is empty, fall
// back to the built-in defaults.
func LoadProviders(path, nanoBaseURL string) ([]provider.Descriptor, billing.PriceTable, error) {
	descriptors := provider.DefaultDescriptors(nanoBaseURL)
	prices := billing.DefaultPriceTable()
	if path == "" {
		return descriptors, prices, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read providers file: %w", err)
	}

	var file providersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("failed to parse providers file %s: %w", path, err)
	}

	if len(file.Providers) > 0 {
		descriptors = make([]provider.Descriptor, 0, len(file.Providers))
		for _, fd := range file.Providers {
			descriptors = append(descriptors, fd.descriptor())
		}
	}

	if len(file.CreditCosts) > 0 {
		prices, err = billing.ParsePriceTable(file.CreditCosts)
		if err != nil {
			return nil, nil, err
		}
	}

	return descriptors, prices, nil
}
