// Package gate is the admission-control pipeline in front of the kit
// server: it resolves a honeypot identity from the request subdomain, runs
// the visitor through a captcha challenge, and proxies to the kit only on
// success. Failed verification redirects to a decoy so the visitor sees a
// generic dead end rather than a rejection.
package gate

import (
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"cloaken/internal/captcha"
	"cloaken/internal/config"
	"cloaken/internal/database"
	"cloaken/internal/render"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const beaconPath = "/beacon"

// Store is the subset of the backing store the gate needs. Accessed and
// solved marks must be atomic with first-occurrence timestamp semantics.
type Store interface {
	GetAndMarkAccessed(id string, at time.Time) (*database.Honeypot, error)
	MarkSolved(id string, at time.Time) error
	CreateVisit(honeypotID string) error
	CreateFingerprint(visitorID, honeypotID string) error
}

// Dispatcher forwards a request into the kit backend's namespace.
type Dispatcher interface {
	ServeKit(w http.ResponseWriter, r *http.Request, kitID int)
	ServeKitResource(w http.ResponseWriter, r *http.Request, kitID int)
}

// PageRenderer turns gate decisions into response documents.
type PageRenderer interface {
	Challenge(w http.ResponseWriter, kind string, data render.ChallengeData) error
	Error(w http.ResponseWriter, status int, message string) error
}

type Gate struct {
	cfg        *config.Config
	store      Store
	engine     *captcha.Engine
	dispatcher Dispatcher
	renderer   PageRenderer
	logger     *slog.Logger

	// rotateJitter bounds the random delay before rotate issuance.
	rotateJitter time.Duration
}

func New(cfg *config.Config, store Store, engine *captcha.Engine, dispatcher Dispatcher, renderer PageRenderer) *Gate {
	return &Gate{
		cfg:          cfg,
		store:        store,
		engine:       engine,
		dispatcher:   dispatcher,
		renderer:     renderer,
		logger:       slog.Default(),
		rotateJitter: time.Duration(cfg.RotateJitterMillis) * time.Millisecond,
	}
}

// Router builds the honeypot-subdomain router. Every route runs behind the
// identity resolver.
func (g *Gate) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(g.resolveIdentity)
	r.HandleFunc(beaconPath, g.handleBeacon).Methods(http.MethodPost)
	r.HandleFunc("/captcha/rotate", g.handleRotateChallenge).Methods(http.MethodGet)
	r.HandleFunc("/", g.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/", g.handleSubmit).Methods(http.MethodPost)
	r.PathPrefix("/").HandlerFunc(g.handleResource)
	return r
}

// handleRoot serves the landing page: straight to the kit for the none
// kind, otherwise the challenge page for the honeypot's captcha kind.
func (g *Gate) handleRoot(w http.ResponseWriter, r *http.Request) {
	hp := HoneypotFrom(r.Context())
	if hp == nil {
		g.notFound(w)
		return
	}

	if err := g.store.CreateVisit(hp.ID); err != nil {
		g.logger.Error("failed to record visit", "honeypot", hp.ID, "error", err)
	}

	if hp.CaptchaType == "none" {
		g.dispatcher.ServeKit(w, r, hp.KitID)
		return
	}

	provider := g.cfg.ProviderFor(hp.CaptchaType)
	data := render.ChallengeData{
		SessionID: uuid.NewString(),
		ProxyID:   r.URL.Query().Get("id"),
		SiteKey:   provider.SiteKey,
		Domain:    provider.Domain,
	}
	if err := g.renderer.Challenge(w, hp.CaptchaType, data); err != nil {
		g.logger.Error("failed to render challenge page", "kind", hp.CaptchaType, "error", err)
	}
}

// handleSubmit verifies a challenge submission. Success marks the honeypot
// solved and proxies to the kit; any failure redirects to a random decoy.
func (g *Gate) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		g.redirectToDecoy(w, r)
		return
	}

	sub := captcha.Submission{
		CaptchaType:       r.PostFormValue("captchaType"),
		ReCaptchaResponse: r.PostFormValue("g-recaptcha-response"),
		HCaptchaResponse:  r.PostFormValue("h-captcha-response"),
		LotNumber:         r.PostFormValue("lotNumber"),
		CaptchaOutput:     r.PostFormValue("captchaOutput"),
		PassToken:         r.PostFormValue("passToken"),
		GenTime:           r.PostFormValue("genTime"),
		ChallengeToken:    r.PostFormValue("challengeToken"),
		ChallengeAnswer:   r.PostFormValue("challengeAnswer"),
	}

	hp := HoneypotFrom(r.Context())
	if g.engine.Verify(r.Context(), sub) && hp != nil {
		if err := g.store.MarkSolved(hp.ID, time.Now()); err != nil {
			g.logger.Error("failed to mark honeypot solved", "honeypot", hp.ID, "error", err)
		}
		// ParseForm drained the body; rebuild it so the proxied request's
		// Content-Length matches what the kit actually receives.
		encoded := r.PostForm.Encode()
		r.Body = io.NopCloser(strings.NewReader(encoded))
		r.ContentLength = int64(len(encoded))
		g.dispatcher.ServeKit(w, r, hp.KitID)
		return
	}

	g.redirectToDecoy(w, r)
}

// handleRotateChallenge issues a fresh rotate puzzle. Issuance is delayed by
// a random jitter to frustrate timing analysis of the image pipeline.
func (g *Gate) handleRotateChallenge(w http.ResponseWriter, r *http.Request) {
	rotate := g.engine.Rotate()
	if rotate == nil {
		g.notFound(w)
		return
	}

	if g.rotateJitter > 0 {
		select {
		case <-time.After(time.Duration(rand.Int63n(int64(g.rotateJitter)))):
		case <-r.Context().Done():
			return
		}
	}

	challenge, err := rotate.Issue()
	if err != nil {
		g.logger.Error("failed to issue rotate challenge", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(challenge)
}

type beaconPayload struct {
	VisitorID  string `json:"visitorId"`
	HoneypotID string `json:"honeypotId"`
}

// handleBeacon ingests the best-effort client fingerprint. The body arrives
// as opaque text containing JSON. Malformed payloads are dropped but still
// acknowledged, so the response gives nothing away.
func (g *Gate) handleBeacon(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err == nil {
		var payload beaconPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			g.logger.Debug("beacon payload dropped", "error", err)
		} else if payload.VisitorID != "" && payload.HoneypotID != "" {
			if err := g.store.CreateFingerprint(payload.VisitorID, payload.HoneypotID); err != nil {
				g.logger.Error("failed to record fingerprint", "honeypot", payload.HoneypotID, "error", err)
			}
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleResource routes any other path under a resolved identity through
// the resource-variant proxy, so kit assets load even before the challenge
// is solved.
func (g *Gate) handleResource(w http.ResponseWriter, r *http.Request) {
	hp := HoneypotFrom(r.Context())
	if hp == nil {
		g.notFound(w)
		return
	}
	g.dispatcher.ServeKitResource(w, r, hp.KitID)
}

func (g *Gate) redirectToDecoy(w http.ResponseWriter, r *http.Request) {
	if len(g.cfg.RedirectList) == 0 {
		g.notFound(w)
		return
	}
	target := g.cfg.RedirectList[rand.Intn(len(g.cfg.RedirectList))]
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

func (g *Gate) notFound(w http.ResponseWriter) {
	if err := g.renderer.Error(w, http.StatusNotFound, "Not Found"); err != nil {
		g.logger.Error("failed to render error page", "error", err)
	}
}
