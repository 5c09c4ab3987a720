package llm

import "fmt"

// Factory hands out one Service per configured provider.
type Factory struct {
	services map[string]Service
}

// NewFactory builds services from provider configs. Providers without
// an API key are skipped so a partially configured deployment still
// starts.
func NewFactory(configs ...*Config) (*Factory, error) {
	services := make(map[string]Service, len(configs))
	for _, cfg := range configs {
		if cfg.APIKey == "" {
			continue
		}
		svc, err := NewService(cfg)
		if err != nil {
			return nil, err
		}
		services[cfg.Provider] = svc
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("no LLM provider configured")
	}
	return &Factory{services: services}, nil
}

// NewStaticFactory wraps pre-built services, keyed by provider.
func NewStaticFactory(services map[string]Service) *Factory {
	return &Factory{services: services}
}

// Service returns the service for a provider.
func (f *Factory) Service(provider string) (Service, error) {
	svc, ok := f.services[provider]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider: %s", provider)
	}
	return svc, nil
}
