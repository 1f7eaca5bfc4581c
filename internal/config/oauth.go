package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

const oauthBaseName = "retrofunding_oauth"

// OAuthClientConfig is a Google "installed application" OAuth client, as downloaded from the console
type OAuthClientConfig struct {
	Installed OAuthInstalled `json:"installed" validate:"required"`
}

// OAuthInstalled represents the installed section of OAuth config
type OAuthInstalled struct {
	ClientID                string   `json:"client_id" validate:"required"`
	ProjectID               string   `json:"project_id" validate:"required"`
	AuthURI                 string   `json:"auth_uri" validate:"required,url"`
	TokenURI                string   `json:"token_uri" validate:"required,url"`
	AuthProviderX509CertURL string   `json:"auth_provider_x509_cert_url,omitempty" validate:"omitempty,url"`
	ClientSecret            string   `json:"client_secret" validate:"required"`
	RedirectURIs            []string `json:"redirect_uris" validate:"required,min=1,dive,uri"`
}

// LoadOAuthClientWithEnv loads retrofunding_oauth.<env>.json, falling back to retrofunding_oauth.json
func LoadOAuthClientWithEnv(env string) (*OAuthClientConfig, error) {
	var names []string
	if env != "" {
		names = append(names, fmt.Sprintf("%s.%s.json", oauthBaseName, env))
	}
	names = append(names, oauthBaseName+".json")

	for _, name := range names {
		path, err := findFile(name)
		if err == nil {
			return LoadOAuthClientFromPath(path)
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to find oauth client file: %w", err)
		}
	}

	return nil, fmt.Errorf("oauth client file not found in current directory or home directory")
}

// LoadOAuthClientFromPath loads and validates the OAuth client configuration from a specific path
func LoadOAuthClientFromPath(path string) (*OAuthClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read oauth client file: %w", err)
	}

	var oauthCfg OAuthClientConfig
	if err := json.Unmarshal(data, &oauthCfg); err != nil {
		return nil, fmt.Errorf("failed to parse oauth client file: %w", err)
	}

	if err := validate.Struct(&oauthCfg); err != nil {
		return nil, fmt.Errorf("oauth client validation failed: %w", err)
	}

	return &oauthCfg, nil
}
