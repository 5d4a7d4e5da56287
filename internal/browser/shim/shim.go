// internal/browser/shim/shim.go
package shim

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

// ConfigPlaceholder is the string replaced in the JS template with the JSON configuration.
const ConfigPlaceholder = "/*{{DOMRELAY_SHIM_CONFIG}}*/"

//go:embed page_shim.js
var pageShimTemplate string

// Config is handed to the page shim. It is only visible inside the shim's
// isolated world.
type Config struct {
	// Nonce must match on every message in both directions.
	Nonce string `json:"nonce"`
	// Binding is the name of the runtime binding the shim reports through.
	Binding string `json:"binding"`
	// Overlay enables the Cmd/Ctrl+K request box.
	Overlay bool `json:"overlay"`
}

// Template returns the embedded page shim template.
func Template() (string, error) {
	if pageShimTemplate == "" {
		return "", fmt.Errorf("embedded page_shim.js template is empty or failed to load")
	}
	return pageShimTemplate, nil
}

// BuildPageShim injects the configuration into the template.
func BuildPageShim(template string, cfg Config) (string, error) {
	if template == "" {
		return "", fmt.Errorf("template is empty")
	}
	if !strings.Contains(template, ConfigPlaceholder) {
		return "", fmt.Errorf("template does not contain the required placeholder: %s", ConfigPlaceholder)
	}
	if cfg.Nonce == "" || cfg.Binding == "" {
		return "", fmt.Errorf("shim config requires a nonce and a binding name")
	}
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode shim config: %w", err)
	}
	return strings.Replace(template, ConfigPlaceholder, string(configJSON), 1), nil
}

// Build renders the embedded template with cfg.
func Build(cfg Config) (string, error) {
	template, err := Template()
	if err != nil {
		return "", err
	}
	return BuildPageShim(template, cfg)
}
