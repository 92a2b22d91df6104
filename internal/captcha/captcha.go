package captcha

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cloaken/internal/config"
	"cloaken/internal/crypto"
)

const (
	recaptchaVerifyURL = "https://www.recaptcha.net/recaptcha/api/siteverify"
	hcaptchaVerifyURL  = "https://hcaptcha.com/siteverify"
	slideVerifyURL     = "http://gcaptcha4.geetest.com/validate"
)

// Submission carries the client-submitted challenge response fields. Only the
// fields for the submission's kind are populated.
type Submission struct {
	CaptchaType       string
	ReCaptchaResponse string
	HCaptchaResponse  string

	LotNumber     string
	CaptchaOutput string
	PassToken     string
	GenTime       string

	ChallengeToken  string
	ChallengeAnswer string
}

// Verifier validates one challenge kind. Every failure cause — third-party
// rejection, transport error, tampered token — collapses to false; callers
// never learn which one occurred.
type Verifier interface {
	Kind() string
	Verify(ctx context.Context, sub Submission) bool
}

// Engine dispatches verification to the Verifier registered for each kind.
type Engine struct {
	verifiers map[string]Verifier
	rotate    *RotateChallenger
	logger    *slog.Logger
}

func NewEngine(cfg *config.Config, rotate *RotateChallenger) *Engine {
	client := &http.Client{
		Timeout: time.Duration(cfg.VerifyTimeoutSeconds) * time.Second,
	}

	e := &Engine{
		verifiers: make(map[string]Verifier),
		rotate:    rotate,
		logger:    slog.Default(),
	}

	e.register(&NoneVerifier{})
	e.register(&ReCaptchaV2Verifier{Secret: cfg.ReCaptchaV2.Secret, Endpoint: recaptchaVerifyURL, Client: client})
	e.register(&HCaptchaVerifier{Secret: cfg.HCaptcha.Secret, Endpoint: hcaptchaVerifyURL, Client: client})
	e.register(&SlideVerifier{SiteKey: cfg.Slide.SiteKey, Secret: cfg.Slide.Secret, Endpoint: slideVerifyURL, Client: client})
	if rotate != nil {
		e.register(&RotateVerifier{Key: cfg.RotateKey})
	}

	return e
}

func (e *Engine) register(v Verifier) {
	e.verifiers[v.Kind()] = v
}

// Verify runs the submission through the verifier for its kind. Unknown
// kinds verify false.
func (e *Engine) Verify(ctx context.Context, sub Submission) bool {
	v, ok := e.verifiers[sub.CaptchaType]
	if !ok {
		e.logger.Debug("verify: unknown captcha kind", "kind", sub.CaptchaType)
		return false
	}
	return v.Verify(ctx, sub)
}

// Rotate returns the rotate challenge issuer, or nil when no rotate key is
// configured.
func (e *Engine) Rotate() *RotateChallenger {
	return e.rotate
}

// NoneVerifier passes every submission without I/O.
type NoneVerifier struct{}

func (v *NoneVerifier) Kind() string { return "none" }

func (v *NoneVerifier) Verify(ctx context.Context, sub Submission) bool { return true }

// ReCaptchaV2Verifier checks a g-recaptcha-response token against the
// reCAPTCHA siteverify endpoint.
type ReCaptchaV2Verifier struct {
	Secret   string
	Endpoint string
	Client   *http.Client
}

func (v *ReCaptchaV2Verifier) Kind() string { return "recaptchav2" }

func (v *ReCaptchaV2Verifier) Verify(ctx context.Context, sub Submission) bool {
	params := url.Values{}
	params.Set("secret", v.Secret)
	params.Set("response", sub.ReCaptchaResponse)

	var result struct {
		Success bool `json:"success"`
	}
	if !postForm(ctx, v.Client, v.Endpoint, params, &result) {
		return false
	}
	return result.Success
}

// HCaptchaVerifier checks an h-captcha-response token against the hCaptcha
// siteverify endpoint.
type HCaptchaVerifier struct {
	Secret   string
	Endpoint string
	Client   *http.Client
}

func (v *HCaptchaVerifier) Kind() string { return "hcaptcha" }

func (v *HCaptchaVerifier) Verify(ctx context.Context, sub Submission) bool {
	params := url.Values{}
	params.Set("secret", v.Secret)
	params.Set("response", sub.HCaptchaResponse)

	var result struct {
		Success bool `json:"success"`
	}
	if !postForm(ctx, v.Client, v.Endpoint, params, &result) {
		return false
	}
	return result.Success
}

// SlideVerifier checks a GeeTest v4 slide submission. The request is signed
// with HMAC-SHA256 over the lot number; GeeTest reports success as a string
// result field rather than a boolean.
type SlideVerifier struct {
	SiteKey  string
	Secret   string
	Endpoint string
	Client   *http.Client
}

func (v *SlideVerifier) Kind() string { return "slide" }

func (v *SlideVerifier) Verify(ctx context.Context, sub Submission) bool {
	mac := hmac.New(sha256.New, []byte(v.Secret))
	mac.Write([]byte(sub.LotNumber))
	signToken := hex.EncodeToString(mac.Sum(nil))

	params := url.Values{}
	params.Set("lot_number", sub.LotNumber)
	params.Set("captcha_output", sub.CaptchaOutput)
	params.Set("pass_token", sub.PassToken)
	params.Set("gen_time", sub.GenTime)
	params.Set("sign_token", signToken)

	endpoint := v.Endpoint + "?captcha_id=" + url.QueryEscape(v.SiteKey)

	var result struct {
		Result string `json:"result"`
	}
	if !postForm(ctx, v.Client, endpoint, params, &result) {
		return false
	}
	return result.Result == "success"
}

// RotateVerifier decrypts the self-issued rotate token and checks the
// claimed angle against the encrypted one.
type RotateVerifier struct {
	Key []byte
}

// rotateTolerance is the accepted angular error, in degrees.
const rotateTolerance = 10

func (v *RotateVerifier) Kind() string { return "rotate" }

func (v *RotateVerifier) Verify(ctx context.Context, sub Submission) bool {
	plaintext, err := crypto.Decrypt(sub.ChallengeToken, v.Key)
	if err != nil {
		slog.Debug("rotate verify: token decrypt failed", "error", err)
		return false
	}

	angle, err := strconv.ParseFloat(plaintext, 64)
	if err != nil {
		slog.Debug("rotate verify: token payload not an angle", "error", err)
		return false
	}

	answer, err := strconv.ParseFloat(strings.TrimSpace(sub.ChallengeAnswer), 64)
	if err != nil {
		return false
	}

	diff := angle - answer
	if diff < 0 {
		diff = -diff
	}
	return diff <= rotateTolerance
}

// postForm sends a form-encoded POST and decodes the JSON response into out.
// Any transport or decode failure returns false; the gate treats it the same
// as a rejected submission.
func postForm(ctx context.Context, client *http.Client, endpoint string, params url.Values, out any) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		slog.Debug("captcha verify: build request failed", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		slog.Debug("captcha verify: call failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		slog.Debug("captcha verify: read response failed", "error", err)
		return false
	}

	if err := json.Unmarshal(data, out); err != nil {
		slog.Debug("captcha verify: decode response failed", "error", err)
		return false
	}
	return true
}
