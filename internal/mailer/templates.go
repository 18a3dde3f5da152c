package mailer

import (
	"embed"
	"fmt"
	"html"
	"net/url"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/cardmail/internal/domain"
)

//go:embed templates/*.liquid
var templateFS embed.FS

// Rendered is the output of one template set.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Templates renders the embedded Liquid templates. Parsed templates are
// cached per file.
type Templates struct {
	engine *liquid.Engine
	fs     embed.FS
	cache  sync.Map // map[string]*liquid.Template
}

// NewTemplates creates a renderer over the embedded template set.
func NewTemplates() *Templates {
	engine := liquid.NewEngine()

	// {{ company | default: "your team" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})
	engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})
	engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	return &Templates{engine: engine, fs: templateFS}
}

// Render produces subject, HTML and plain-text bodies for kind.
func (t *Templates) Render(kind domain.EmailKind, fields map[string]interface{}) (*Rendered, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown email kind %q", kind)
	}
	subject, err := t.render(string(kind)+".subject.liquid", fields)
	if err != nil {
		return nil, err
	}
	body, err := t.render(string(kind)+".html.liquid", fields)
	if err != nil {
		return nil, err
	}
	text, err := t.render(string(kind)+".text.liquid", fields)
	if err != nil {
		return nil, err
	}
	return &Rendered{Subject: trimLine(subject), HTML: body, Text: text}, nil
}

func (t *Templates) render(name string, fields map[string]interface{}) (string, error) {
	tpl, err := t.parse(name)
	if err != nil {
		return "", err
	}
	out, rerr := tpl.RenderString(fields)
	if rerr != nil {
		return "", fmt.Errorf("render %s: %w", name, rerr)
	}
	return out, nil
}

func (t *Templates) parse(name string) (*liquid.Template, error) {
	if cached, ok := t.cache.Load(name); ok {
		return cached.(*liquid.Template), nil
	}
	src, err := t.fs.ReadFile("templates/" + name)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	tpl, perr := t.engine.ParseString(string(src))
	if perr != nil {
		return nil, fmt.Errorf("parse %s: %w", name, perr)
	}
	t.cache.Store(name, tpl)
	return tpl, nil
}

// trimLine strips the trailing newline template files end with. Subjects
// must be a single header line.
func trimLine(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}
