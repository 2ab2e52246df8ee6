// Package export renders proposals into self-contained HTML documents.
// The result is persisted on the proposal row and served verbatim to
// share-link visitors, so rendering happens at save time, not at view time.
package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

// SafeHTML is a template function that marks a string as safe HTML
func SafeHTML(s interface{}) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

//go:embed templates/*.html
var templateFS embed.FS

var proposalTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"safeHTML": SafeHTML,
	}

	templateContent, err := templateFS.ReadFile("templates/proposal.html")
	if err != nil {
		// Fallback to built-in template if file not found
		proposalTemplate = template.Must(template.New("proposal").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	proposalTemplate = template.Must(template.New("proposal").Funcs(funcMap).Parse(string(templateContent)))
}

func renderTemplate(data proposalView) (string, error) {
	var buf bytes.Buffer
	if err := proposalTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
</head>
<body>
  <h1>{{.Title}}</h1>
  {{if .ShowGreeting}}<p>{{.Greeting}}</p>{{end}}
  {{if .ShowPricing}}{{range .LineItems}}<div>{{.Name}} {{.Amount}}</div>{{end}}<div>{{.Total}} {{.Currency}}</div>{{end}}
</body>
</html>`
