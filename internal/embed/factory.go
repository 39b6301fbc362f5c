package embed

import "context"

// Config selects and configures an embedding provider.
type Config struct {
	// Provider is "static" or "http". Empty means "http" if BaseURL is
	// set and an API key is available, "static" otherwise.
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	CacheSize int
}

// NewProvider builds the configured provider, wrapped in Cached.
// Falls back to StaticProvider when Provider is unset/"static", or
// when "http" is requested but no API key is configured.
func NewProvider(ctx context.Context, cfg Config) Provider {
	var inner Provider

	switch cfg.Provider {
	case "http":
		if cfg.APIKey == "" {
			inner = NewStaticProvider()
		} else {
			inner = NewHTTPProvider(HTTPConfig{
				BaseURL: cfg.BaseURL,
				APIKey:  cfg.APIKey,
				Model:   cfg.Model,
			})
		}
	case "static", "":
		if cfg.Provider == "" && cfg.BaseURL != "" && cfg.APIKey != "" {
			inner = NewHTTPProvider(HTTPConfig{
				BaseURL: cfg.BaseURL,
				APIKey:  cfg.APIKey,
				Model:   cfg.Model,
			})
			break
		}
		inner = NewStaticProvider()
	default:
		inner = NewStaticProvider()
	}

	return NewCached(inner, cfg.CacheSize)
}
