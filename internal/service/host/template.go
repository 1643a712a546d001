package host

import (
	"bytes"
	_ "embed" // Default installer template.
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/oshokin/firefox-package/internal/config"
	"github.com/oshokin/firefox-package/internal/repository/atomicfile"
)

// defaultInstallerTemplate configures the silent Windows installer.
//
//go:embed templates/installer.ini.tmpl
var defaultInstallerTemplate string

// Renderer renders a template with data into dest.
type Renderer interface {
	Render(templatePath string, data any, dest string) error
}

// TemplateRenderer renders text/template files; an empty path selects the
// built-in installer template.
type TemplateRenderer struct{}

// NewRenderer returns the default template renderer.
func NewRenderer() *TemplateRenderer {
	return &TemplateRenderer{}
}

// Render executes the template and atomically replaces dest with the result.
func (r *TemplateRenderer) Render(templatePath string, data any, dest string) error {
	source := defaultInstallerTemplate
	name := "installer.ini"

	if templatePath != "" {
		contents, err := os.ReadFile(filepath.Clean(templatePath))
		if err != nil {
			return fmt.Errorf("read template: %w", err)
		}

		source = string(contents)
		name = filepath.Base(templatePath)
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(source)
	if err != nil {
		return fmt.Errorf("parse template %s: %w", name, err)
	}

	var rendered bytes.Buffer
	if err = tmpl.Execute(&rendered, data); err != nil {
		return fmt.Errorf("render template %s: %w", name, err)
	}

	return atomicfile.Write(dest, rendered.Bytes(), config.DefaultFilePermissions)
}
