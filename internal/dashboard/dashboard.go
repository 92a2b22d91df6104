// Package dashboard is the operator surface: bulk honeypot provisioning,
// lifecycle inspection and CSV export, behind HTTP basic auth.
package dashboard

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"cloaken/internal/config"
	"cloaken/internal/database"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

// Store is the subset of the backing store the dashboard needs.
type Store interface {
	CreateHoneypots(honeypots []*database.Honeypot) error
	ListHoneypots(captchaType, apeType string) ([]*database.Honeypot, error)
	ListAllHoneypots() ([]*database.Honeypot, error)
	DeleteHoneypots(ids []string) error
	MarkSent(ids []string, at time.Time) error
	ListVisits() ([]*database.Visit, error)
	ListFingerprints() ([]*database.Fingerprint, error)
}

// PageRenderer renders the dashboard page.
type PageRenderer interface {
	Render(w http.ResponseWriter, name string, data any) error
}

type Dashboard struct {
	cfg      *config.Config
	store    Store
	renderer PageRenderer
	logger   *slog.Logger
}

func New(cfg *config.Config, store Store, renderer PageRenderer) *Dashboard {
	return &Dashboard{
		cfg:      cfg,
		store:    store,
		renderer: renderer,
		logger:   slog.Default(),
	}
}

// Router builds the dashboard router. Every route requires basic auth.
func (d *Dashboard) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(d.basicAuth)
	r.HandleFunc("/", d.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/honeypots", d.handleCreateHoneypots).Methods(http.MethodPost)
	r.HandleFunc("/honeypots", d.handleListHoneypots).Methods(http.MethodGet)
	r.HandleFunc("/honeypots/delete", d.handleDeleteHoneypots).Methods(http.MethodPost)
	r.HandleFunc("/honeypots/sent", d.handleMarkSent).Methods(http.MethodPost)
	r.HandleFunc("/honeypots/export", d.handleExportHoneypots).Methods(http.MethodGet)
	r.HandleFunc("/visits/export", d.handleExportVisits).Methods(http.MethodGet)
	r.HandleFunc("/fingerprints/export", d.handleExportFingerprints).Methods(http.MethodGet)
	return r
}

func (d *Dashboard) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || !d.credentialsValid(username, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="dashboard"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (d *Dashboard) credentialsValid(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(d.cfg.DashboardUsername)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(d.cfg.DashboardPasswordHash), []byte(password)) == nil
	return userOK && passOK
}

type indexData struct {
	CaptchaTypes []string
	ApeTypes     []string
}

func (d *Dashboard) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := indexData{
		CaptchaTypes: database.CaptchaTypes,
		ApeTypes:     database.ApeTypes,
	}
	if err := d.renderer.Render(w, "dashboard.html", data); err != nil {
		d.logger.Error("failed to render dashboard", "error", err)
	}
}

// handleCreateHoneypots provisions one honeypot per kit id in the submitted
// range. The honeypot's domain comes from its captcha kind's configuration.
func (d *Dashboard) handleCreateHoneypots(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	startKitID, err1 := strconv.Atoi(r.PostFormValue("startKitId"))
	endKitID, err2 := strconv.Atoi(r.PostFormValue("endKitId"))
	captchaType := r.PostFormValue("captchaType")
	apeType := r.PostFormValue("apeType")

	if err1 != nil || err2 != nil || endKitID < startKitID ||
		!database.ValidCaptchaType(captchaType) || !database.ValidApeType(apeType) {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	domain := d.cfg.ProviderFor(captchaType).Domain
	now := time.Now()

	var honeypots []*database.Honeypot
	for kitID := startKitID; kitID <= endKitID; kitID++ {
		honeypots = append(honeypots, &database.Honeypot{
			ID:          uuid.NewString(),
			CaptchaType: captchaType,
			ApeType:     apeType,
			Domain:      domain,
			KitID:       kitID,
			CreatedAt:   now,
		})
	}

	if err := d.store.CreateHoneypots(honeypots); err != nil {
		d.logger.Error("failed to create honeypots", "count", len(honeypots), "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

func (d *Dashboard) handleListHoneypots(w http.ResponseWriter, r *http.Request) {
	captchaType := r.URL.Query().Get("captchaType")
	apeType := r.URL.Query().Get("apeType")

	honeypots, err := d.store.ListHoneypots(captchaType, apeType)
	if err != nil {
		d.logger.Error("failed to list honeypots", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"honeypots": honeypots})
}

func (d *Dashboard) handleDeleteHoneypots(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	ids := r.PostForm["honeypotIds"]
	if len(ids) > 0 {
		if err := d.store.DeleteHoneypots(ids); err != nil {
			d.logger.Error("failed to delete honeypots", "count", len(ids), "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

func (d *Dashboard) handleMarkSent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	ids := r.PostForm["honeypotIds"]
	if len(ids) > 0 {
		if err := d.store.MarkSent(ids, time.Now()); err != nil {
			d.logger.Error("failed to mark honeypots sent", "count", len(ids), "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}

	http.Redirect(w, r, "/", http.StatusFound)
}
