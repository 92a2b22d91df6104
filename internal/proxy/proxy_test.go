package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

type backendCall struct {
	method string
	path   string
	query  string
	host   string
	body   string
}

func testBackend(t *testing.T, respond func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *backendCall) {
	t.Helper()
	call := &backendCall{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		call.method = r.Method
		call.path = r.URL.Path
		call.query = r.URL.RawQuery
		call.host = r.Host
		call.body = string(body)
		respond(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, call
}

func TestServeKitRootPath(t *testing.T) {
	srv, call := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("kit page"))
	})

	d, err := NewDispatcher(srv.URL)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	req := httptest.NewRequest("GET", "http://abc.example.com/", nil)
	w := httptest.NewRecorder()
	d.ServeKit(w, req, 7)

	if call.path != "/kit7/" {
		t.Errorf("backend path = %q, want /kit7/", call.path)
	}
	if call.host == "abc.example.com" {
		t.Error("inbound host leaked to backend")
	}
}

func TestServeKitInjectsBaseHref(t *testing.T) {
	srv, _ := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>login</body></html>"))
	})

	d, err := NewDispatcher(srv.URL)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	req := httptest.NewRequest("GET", "http://abc.example.com/", nil)
	w := httptest.NewRecorder()
	d.ServeKit(w, req, 3)

	body := w.Body.String()
	if !strings.HasPrefix(body, "<base href='/resources/'>") {
		t.Errorf("expected base href prefix, got %q", body)
	}
	if !strings.Contains(body, "login") {
		t.Error("original document lost in rewrite")
	}
	if got := w.Header().Get("Content-Length"); got != "" && got != strconv.Itoa(len(body)) {
		t.Errorf("Content-Length %s does not match body length %d", got, len(body))
	}
}

func TestServeKitLeavesNonHTMLAlone(t *testing.T) {
	srv, _ := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	})

	d, err := NewDispatcher(srv.URL)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	req := httptest.NewRequest("GET", "http://abc.example.com/", nil)
	w := httptest.NewRecorder()
	d.ServeKit(w, req, 1)

	if got := w.Body.String(); got != `{"ok":true}` {
		t.Errorf("non-HTML body modified: %q", got)
	}
}

func TestServeKitResourcePath(t *testing.T) {
	srv, call := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("asset"))
	})

	d, err := NewDispatcher(srv.URL)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	req := httptest.NewRequest("GET", "http://abc.example.com/resources/app.js?v=2", nil)
	w := httptest.NewRecorder()
	d.ServeKitResource(w, req, 7)

	if call.path != "/kit7/app.js" {
		t.Errorf("backend path = %q, want /kit7/app.js", call.path)
	}
	if call.query != "v=2" {
		t.Errorf("query string not preserved: %q", call.query)
	}
}

func TestServeKitResourceNestedPath(t *testing.T) {
	srv, call := testBackend(t, func(w http.ResponseWriter, r *http.Request) {})

	d, err := NewDispatcher(srv.URL)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	req := httptest.NewRequest("GET", "http://abc.example.com/resources/css/site.css", nil)
	w := httptest.NewRecorder()
	d.ServeKitResource(w, req, 12)

	if call.path != "/kit12/css/site.css" {
		t.Errorf("backend path = %q, want /kit12/css/site.css", call.path)
	}
}

func TestServeKitPreservesMethodAndBody(t *testing.T) {
	srv, call := testBackend(t, func(w http.ResponseWriter, r *http.Request) {})

	d, err := NewDispatcher(srv.URL)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	req := httptest.NewRequest("POST", "http://abc.example.com/", strings.NewReader("user=a&pass=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	d.ServeKit(w, req, 7)

	if call.method != "POST" {
		t.Errorf("method = %q, want POST", call.method)
	}
	if call.body != "user=a&pass=b" {
		t.Errorf("body not preserved: %q", call.body)
	}
}

func TestBackendFailureIsGeneric(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backendURL := srv.URL
	srv.Close() // backend down

	d, err := NewDispatcher(backendURL)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	req := httptest.NewRequest("GET", "http://abc.example.com/", nil)
	w := httptest.NewRecorder()
	d.ServeKit(w, req, 7)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	if strings.Contains(w.Body.String(), backendURL) {
		t.Error("error response leaked the backend address")
	}
}

func TestNewDispatcherRejectsBadURL(t *testing.T) {
	if _, err := NewDispatcher("not a url"); err == nil {
		t.Error("expected invalid kit URL to be rejected")
	}
}
