package weaviate

import (
	"fmt"
	"net/url"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
)

// Config binds WEAVIATE_* environment variables.
type Config struct {
	URL    string `split_words:"true" default:"http://localhost:8080"`
	APIKey string `envconfig:"WEAVIATE_API_KEY"`
}

// New builds a client from the configured URL. The URL must carry a scheme.
func (c *Config) New() (*weaviate.Client, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parse weaviate url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("weaviate url %q must include scheme and host", c.URL)
	}

	cfg := weaviate.Config{
		Host:   u.Host,
		Scheme: u.Scheme,
	}
	if c.APIKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: c.APIKey}
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}
