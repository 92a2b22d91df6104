// Package proxy forwards gate traffic into the phishing kit server's
// namespace. A honeypot's kit id selects the backend path prefix, so one
// subdomain transparently serves one relocated kit tree.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
)

const (
	// ResourcePrefix is the client-facing prefix injected via base href;
	// asset requests under it are mapped back into the kit namespace.
	ResourcePrefix = "/resources/"

	kitNamespace = "/kit"

	baseHrefTag = "<base href='" + ResourcePrefix + "'>"
)

type dispatchKey struct{}

type dispatch struct {
	path       string
	injectBase bool
}

// Dispatcher proxies requests to the kit backend, rewriting the inbound
// path into /kit<id>/... form.
type Dispatcher struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
	logger *slog.Logger
}

func NewDispatcher(kitURL string) (*Dispatcher, error) {
	target, err := url.Parse(kitURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse kit URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("kit URL %q missing scheme or host", kitURL)
	}

	d := &Dispatcher{
		target: target,
		logger: slog.Default(),
	}
	d.proxy = &httputil.ReverseProxy{
		Director:       d.direct,
		ModifyResponse: d.modifyResponse,
		ErrorHandler:   d.handleError,
	}
	return d, nil
}

// ServeKit forwards the request to the kit's root page and injects a base
// href into HTML responses so relative assets route back through
// ServeKitResource.
func (d *Dispatcher) ServeKit(w http.ResponseWriter, r *http.Request, kitID int) {
	dsp := dispatch{
		path:       fmt.Sprintf("%s%d/", kitNamespace, kitID),
		injectBase: true,
	}
	d.proxy.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), dispatchKey{}, dsp)))
}

// ServeKitResource forwards an asset request, stripping the resource prefix
// from the inbound path before mapping it into the kit namespace.
func (d *Dispatcher) ServeKitResource(w http.ResponseWriter, r *http.Request, kitID int) {
	suffix := strings.TrimPrefix(r.URL.Path, ResourcePrefix)
	suffix = strings.TrimPrefix(suffix, "/")
	dsp := dispatch{
		path: fmt.Sprintf("%s%d/%s", kitNamespace, kitID, suffix),
	}
	d.proxy.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), dispatchKey{}, dsp)))
}

func (d *Dispatcher) direct(r *http.Request) {
	dsp, _ := r.Context().Value(dispatchKey{}).(dispatch)

	r.URL.Scheme = d.target.Scheme
	r.URL.Host = d.target.Host
	r.URL.Path = strings.TrimSuffix(d.target.Path, "/") + dsp.path
	r.Host = d.target.Host

	// The kit must answer uncompressed so the base-href rewrite can touch
	// the document.
	r.Header.Del("Accept-Encoding")
}

func (d *Dispatcher) modifyResponse(resp *http.Response) error {
	dsp, _ := resp.Request.Context().Value(dispatchKey{}).(dispatch)
	if !dsp.injectBase {
		return nil
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read kit response: %w", err)
	}

	rewritten := append([]byte(baseHrefTag), body...)
	resp.Body = io.NopCloser(bytes.NewReader(rewritten))
	resp.ContentLength = int64(len(rewritten))
	resp.Header.Set("Content-Length", fmt.Sprintf("%d", len(rewritten)))
	return nil
}

// handleError masks backend failures. The response never names the kit
// server or its address.
func (d *Dispatcher) handleError(w http.ResponseWriter, r *http.Request, err error) {
	d.logger.Error("kit proxy failed", "path", r.URL.Path, "error", err)
	http.Error(w, "Bad Gateway", http.StatusBadGateway)
}
