package homepage

import (
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var templateVar = regexp.MustCompile(`\{\{[^}]+\}\}`)

// Loader reads a Homepage bookmarks.yaml file
type Loader struct {
	filePath string
}

// NewLoader creates a new Homepage bookmarks loader. "-" reads stdin.
func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
	}
}

// Load reads and parses the bookmarks file
func (l *Loader) Load() (BookmarksConfig, error) {
	var (
		data []byte
		err  error
	)
	if l.filePath == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(l.filePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bookmarks file: %w", err)
	}

	return Parse(data)
}

// Parse decodes bookmarks.yaml content.
func Parse(data []byte) (BookmarksConfig, error) {
	// Strip Homepage template variables ({{HOMEPAGE_VAR_...}})
	data = stripTemplateVariables(data)

	var config BookmarksConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse bookmarks yaml: %w", err)
	}

	return config, nil
}

// stripTemplateVariables removes Homepage template variables from YAML
// Example: {{HOMEPAGE_VAR_GITHUB_URL}} -> ""
func stripTemplateVariables(data []byte) []byte {
	return templateVar.ReplaceAll(data, []byte(`""`))
}
