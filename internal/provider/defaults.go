// defaults.go -- Built-in provider defaults, embedded YAML plus an optional file.
package provider

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed providers.yaml
var builtinYAML []byte

// Default is the built-in layer for one provider.
type Default struct {
	ID             string   `yaml:"id"`
	DisplayName    string   `yaml:"display_name"`
	ClientID       string   `yaml:"client_id"`
	Enabled        *bool    `yaml:"enabled"`
	PKCE           bool     `yaml:"pkce"`
	OfflineAccess  bool     `yaml:"offline_access"`
	SharedRedirect bool     `yaml:"shared_redirect"`
	Scope          string   `yaml:"scope"`
	AuthURL        string   `yaml:"auth_url"`
	RedirectPath   string   `yaml:"redirect_path"`
	Aliases        []string `yaml:"aliases"`
}

type defaultsFile struct {
	Providers []Default `yaml:"providers"`
}

// ParseDefaults decodes a providers YAML document.
func ParseDefaults(data []byte) ([]Default, error) {
	var f defaultsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing provider defaults: %w", err)
	}
	return f.Providers, nil
}

// LoadDefaults returns the embedded defaults, extended by the YAML file at path when
// path is non-empty. A file entry replaces the embedded entry with the same id.
func LoadDefaults(path string) ([]Default, error) {
	defaults, err := ParseDefaults(builtinYAML)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading providers file: %w", err)
	}
	extra, err := ParseDefaults(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mergeDefaults(defaults, extra), nil
}

func mergeDefaults(base, extra []Default) []Default {
	out := append([]Default(nil), base...)
	for _, e := range extra {
		replaced := false
		for i := range out {
			if out[i].ID == e.ID {
				out[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, e)
		}
	}
	return out
}

// validate rejects ids that would break the persisted key layout.
func (d Default) validate() error {
	if d.ID == "" {
		return fmt.Errorf("provider id is required")
	}
	if d.ID != strings.ToLower(d.ID) || strings.ContainsAny(d.ID, "_./ ") {
		return fmt.Errorf("provider id %q must be lowercase without '_', '.', '/' or spaces", d.ID)
	}
	if d.AuthURL == "" {
		return fmt.Errorf("provider %q: auth_url is required", d.ID)
	}
	if d.RedirectPath == "" {
		return fmt.Errorf("provider %q: redirect_path is required", d.ID)
	}
	return nil
}
