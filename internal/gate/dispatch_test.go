package gate

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"cloaken/internal/captcha"
	"cloaken/internal/config"
	"cloaken/internal/proxy"
)

// newProxyFixture wires the gate to a real kit dispatcher backed by an
// httptest server, so submissions exercise the full dispatch path instead
// of a fake.
func newProxyFixture(t *testing.T, kit http.HandlerFunc) (*fixture, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(kit)
	t.Cleanup(srv.Close)

	dispatcher, err := proxy.NewDispatcher(srv.URL)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	cfg := &config.Config{
		RedirectList:         []string{"https://decoy.example"},
		VerifyTimeoutSeconds: 1,
		RotateJitterMillis:   0,
	}
	store := newFakeStore()
	renderer := &fakeRenderer{}
	g := New(cfg, store, captcha.NewEngine(cfg, nil), dispatcher, renderer)
	f := &fixture{
		gate:     g,
		store:    store,
		renderer: renderer,
		cfg:      cfg,
		handler:  g.Router(),
	}
	return f, srv
}

func TestSuccessfulSubmissionReachesKit(t *testing.T) {
	var kitPath string
	var kitBody string
	f, _ := newProxyFixture(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		kitPath = r.URL.Path
		kitBody = string(body)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>kit landing</html>"))
	})
	hp := addHoneypot(f, "none", 7)

	form := url.Values{"captchaType": {"none"}}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, gateRequest("POST", hp.ID+".gate.example.com", "/", form.Encode()))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", w.Code, w.Body.String())
	}
	if kitPath != "/kit7/" {
		t.Errorf("kit path = %q, want /kit7/", kitPath)
	}
	if kitBody != form.Encode() {
		t.Errorf("kit body = %q, want the submitted form", kitBody)
	}
	if !strings.Contains(w.Body.String(), "kit landing") {
		t.Errorf("kit response did not reach the client: %q", w.Body.String())
	}
}

func TestNoneKindRootReachesKit(t *testing.T) {
	f, _ := newProxyFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>kit landing</html>"))
	})
	hp := addHoneypot(f, "none", 4)

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, gateRequest("GET", hp.ID+".gate.example.com", "/", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.HasPrefix(body, "<base href='/resources/'>") {
		t.Errorf("expected base href injection, got %q", body)
	}
}

func TestFailedSubmissionWithEmptyDecoyListIs404(t *testing.T) {
	f := newFixture(t)
	f.cfg.RedirectList = nil
	hp := addHoneypot(f, "recaptchav2", 1)

	form := url.Values{"captchaType": {"bogus"}}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, gateRequest("POST", hp.ID+".gate.example.com", "/", form.Encode()))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when no decoys are configured", w.Code)
	}
}
