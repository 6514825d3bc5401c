package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/animal-gallery/internal/crawler"
)

// DefaultTitle heads the rendered gallery.
const DefaultTitle = "Animal Information"

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{ .Title }}</title>
</head>
<body>

<h1>{{ .Title }}</h1>
{{- range .Sections }}
<h2>{{ .Title }}</h2>
<ul>
{{- range .Entries }}
    <li>
        <h3>{{ .Name }}</h3>
        {{- if .Image }}
        <img src="{{ .Image }}" alt="{{ .Name }}">
        {{- else }}
        <p class="missing" data-outcome="{{ .Outcome }}">No image ({{ .Outcome }})</p>
        {{- end }}
    </li>
{{- end }}
</ul>
{{- end }}
</body>
</html>
`

// Builder renders the HTML gallery. It holds no per-render state and is safe
// for concurrent use.
type Builder struct {
	title string
	tmpl  *template.Template
}

// NewBuilder parses the page template. An empty title uses DefaultTitle.
func NewBuilder(title string) (*Builder, error) {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	tmpl, err := template.New("gallery").Parse(pageTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse gallery template: %w", err)
	}
	return &Builder{title: title, tmpl: tmpl}, nil
}

type page struct {
	Title    string
	Sections []section
}

type section struct {
	Title   string
	Entries []entry
}

type entry struct {
	Name    string
	Image   string
	Outcome crawler.OutcomeKind
}

// Render produces the gallery document. Groups render in the order given and
// every record gets an entry; records without a successful outcome render a
// placeholder instead of an image. Image sources are relative file names so
// the document works next to the images it references.
func (b *Builder) Render(groups []crawler.Group, report crawler.AcquisitionReport) ([]byte, error) {
	data := page{Title: b.title, Sections: make([]section, 0, len(groups))}
	for _, group := range groups {
		sec := section{
			Title:   Capitalize(group.Classification),
			Entries: make([]entry, 0, len(group.Records)),
		}
		for _, rec := range group.Records {
			e := entry{Name: rec.Name, Outcome: crawler.OutcomeTimedOut}
			if out, ok := report.Lookup(rec.Name); ok {
				e.Outcome = out.Kind
				if out.Succeeded() {
					e.Image = crawler.ImageFileName(rec.Name)
				}
			}
			sec.Entries = append(sec.Entries, e)
		}
		data.Sections = append(data.Sections, sec)
	}

	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render gallery: %w", err)
	}
	return buf.Bytes(), nil
}

// Capitalize upper-cases the first letter and lower-cases the rest.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
