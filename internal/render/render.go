// Package render executes the HTML templates for challenge, dashboard and
// error pages. Handlers supply structured data only; all markup lives under
// web/views.
package render

import (
	"fmt"
	"html/template"
	"net/http"
)

// ChallengeData is the kind-specific public parameter set a challenge page
// needs. Secrets never pass through here.
type ChallengeData struct {
	SessionID string
	ProxyID   string
	SiteKey   string
	Domain    string
}

type errorData struct {
	Status  int
	Message string
}

type Renderer struct {
	templates *template.Template
}

func New(viewsDir string) (*Renderer, error) {
	templates, err := template.ParseGlob(viewsDir + "/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &Renderer{templates: templates}, nil
}

// Render executes the named template. Unknown template names are an error;
// callers decide whether that is fatal to the response.
func (rn *Renderer) Render(w http.ResponseWriter, name string, data any) error {
	t := rn.templates.Lookup(name)
	if t == nil {
		return fmt.Errorf("no template %q", name)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return t.Execute(w, data)
}

// Challenge renders the page for one challenge kind.
func (rn *Renderer) Challenge(w http.ResponseWriter, kind string, data ChallengeData) error {
	return rn.Render(w, kind+".html", data)
}

// Error renders the generic error page with the given status code.
func (rn *Renderer) Error(w http.ResponseWriter, status int, message string) error {
	t := rn.templates.Lookup("error.html")
	if t == nil {
		http.Error(w, message, status)
		return fmt.Errorf("no template %q", "error.html")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	return t.Execute(w, errorData{Status: status, Message: message})
}
