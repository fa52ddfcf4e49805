package logging

import (
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

// GetHTMLTemplate returns the embedded HTML template for the specified name
func GetHTMLTemplate(name string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(templateFuncs()).ParseFS(templateFS, "templates/"+name)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	return tmpl, nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatDuration": func(d time.Duration) string {
			if d < time.Second {
				return fmt.Sprintf("%dms", d.Milliseconds())
			}
			return d.Truncate(time.Millisecond).String()
		},
		"getStatusClass": func(status types.VerdictStatus) string {
			switch status {
			case types.VerdictPass, types.VerdictFail, types.VerdictError:
				return string(status)
			case types.VerdictSkipped:
				return "skip"
			default:
				return "unknown"
			}
		},
	}
}
