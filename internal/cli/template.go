package cli

import (
	"fmt"
	"io"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// ParseTemplate parses a Go text/template with the sprig function set.
func ParseTemplate(name, tpl string) (*template.Template, error) {
	t, err := template.New(name).Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(tpl)
	if err != nil {
		return nil, fmt.Errorf("parsing --template: %w", err)
	}
	return t, nil
}

// RenderTemplate executes tpl against data and writes the result to w
// followed by a newline.
func RenderTemplate(w io.Writer, tpl string, data interface{}) error {
	t, err := ParseTemplate("output", tpl)
	if err != nil {
		return err
	}
	if err := t.Execute(w, data); err != nil {
		return fmt.Errorf("rendering --template: %w", err)
	}
	_, err = io.WriteString(w, "\n")
	return err
}
