package database

import (
	"time"
)

// CaptchaTypes lists the supported challenge kinds. "none" proxies straight
// through without a challenge page.
var CaptchaTypes = []string{"none", "recaptchav2", "hcaptcha", "slide", "rotate"}

// ApeTypes lists the anti-phishing-engine classifications a honeypot can be
// tagged with. The tag is operator analytics only; the gate never branches
// on it.
var ApeTypes = []string{"none", "virustotal", "googleSafeBrowsing", "microsoftDefender"}

// Honeypot is one tracked identity, addressed by subdomain. The three
// bool+timestamp pairs are monotonic: once true they stay true, and the
// timestamp keeps the earliest observed transition.
type Honeypot struct {
	ID          string     `db:"id" json:"id"`
	CaptchaType string     `db:"captcha_type" json:"captchaType"`
	ApeType     string     `db:"ape_type" json:"apeType"`
	Domain      string     `db:"domain" json:"domain"`
	KitID       int        `db:"kit_id" json:"kitId"`
	Sent        bool       `db:"sent" json:"sent"`
	Accessed    bool       `db:"accessed" json:"accessed"`
	Solved      bool       `db:"solved" json:"solved"`
	SentAt      *time.Time `db:"sent_at" json:"sentAt,omitempty"`
	AccessedAt  *time.Time `db:"accessed_at" json:"accessedAt,omitempty"`
	SolvedAt    *time.Time `db:"solved_at" json:"solvedAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

// Visit is one append-only gate traversal record.
type Visit struct {
	ID         int64     `db:"id" json:"id"`
	HoneypotID string    `db:"honeypot_id" json:"honeypotId"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// Fingerprint is one best-effort client beacon record.
type Fingerprint struct {
	ID         int64     `db:"id" json:"id"`
	VisitorID  string    `db:"visitor_id" json:"visitorId"`
	HoneypotID string    `db:"honeypot_id" json:"honeypotId"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// ValidCaptchaType reports whether kind is a known challenge kind.
func ValidCaptchaType(kind string) bool {
	for _, t := range CaptchaTypes {
		if t == kind {
			return true
		}
	}
	return false
}

// ValidApeType reports whether kind is a known evasion classification.
func ValidApeType(kind string) bool {
	for _, t := range ApeTypes {
		if t == kind {
			return true
		}
	}
	return false
}
