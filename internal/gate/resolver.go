package gate

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"cloaken/internal/database"
	"github.com/google/uuid"
)

type honeypotCtxKey struct{}

func withHoneypot(ctx context.Context, hp *database.Honeypot) context.Context {
	return context.WithValue(ctx, honeypotCtxKey{}, hp)
}

// HoneypotFrom returns the honeypot resolved for this request, or nil when
// the request carried no known identity. Callers must handle nil.
func HoneypotFrom(ctx context.Context) *database.Honeypot {
	hp, _ := ctx.Value(honeypotCtxKey{}).(*database.Honeypot)
	return hp
}

// resolveIdentity extracts the leading host label, looks it up as a honeypot
// id and marks the honeypot accessed. Malformed and unknown labels pass
// through silently so a probe cannot tell a bad format from an unassigned
// id. The beacon path is skipped entirely: the beacon fires from the same
// page load and must not count as a second access.
func (g *Gate) resolveIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != beaconPath {
			label := hostLabel(r.Host)
			if _, err := uuid.Parse(label); err == nil {
				hp, err := g.store.GetAndMarkAccessed(label, time.Now())
				if err != nil {
					g.logger.Error("identity lookup failed", "id", label, "error", err)
				} else if hp != nil {
					r = r.WithContext(withHoneypot(r.Context(), hp))
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

func hostLabel(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	label, _, _ := strings.Cut(host, ".")
	return label
}
