package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Branding is the white-label identity applied to user-facing output.
//
// Resellers ship one YAML file per client; nothing in the binary changes.
type Branding struct {
	// ProductName is shown in command output and the dashboard title.
	ProductName string `yaml:"product_name"`
	// CompanyName is the operating company, shown in the dashboard footer.
	CompanyName string `yaml:"company_name"`
	// SupportEmail is shown when a sync needs operator attention.
	SupportEmail string `yaml:"support_email"`
}

// DefaultBranding returns the stock identity.
func DefaultBranding() *Branding {
	return &Branding{
		ProductName: "FieldSync",
		CompanyName: "SiteSense",
	}
}

// LoadBranding reads a branding file, falling back to defaults for any
// field the file leaves empty. An empty path returns the defaults.
func LoadBranding(path string) (*Branding, error) {
	b := DefaultBranding()
	if path == "" {
		return b, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read branding file %s: %w", path, err)
	}

	var loaded Branding
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse branding file %s: %w", path, err)
	}

	if loaded.ProductName != "" {
		b.ProductName = loaded.ProductName
	}
	if loaded.CompanyName != "" {
		b.CompanyName = loaded.CompanyName
	}
	if loaded.SupportEmail != "" {
		b.SupportEmail = loaded.SupportEmail
	}
	return b, nil
}
