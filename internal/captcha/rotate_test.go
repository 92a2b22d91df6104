package captcha

import (
	"context"
	"crypto/rand"
	"image"
	"image/color"
	"strconv"
	"strings"
	"testing"

	"cloaken/internal/crypto"
)

func testPoolImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 120, 80))
	for x := 0; x < 120; x++ {
		for y := 0; y < 80; y++ {
			img.Set(x, y, color.RGBA{uint8(x * 2), uint8(y * 3), 128, 255})
		}
	}
	return img
}

func testRotateChallenger(t *testing.T) (*RotateChallenger, []byte) {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	rc, err := NewRotateChallengerFromPool(key, []image.Image{testPoolImage()})
	if err != nil {
		t.Fatalf("failed to build challenger: %v", err)
	}
	return rc, key
}

// issuedAngle recovers the angle hidden in a challenge token.
func issuedAngle(t *testing.T, token string, key []byte) float64 {
	t.Helper()
	plaintext, err := crypto.Decrypt(token, key)
	if err != nil {
		t.Fatalf("failed to decrypt issued token: %v", err)
	}
	angle, err := strconv.ParseFloat(plaintext, 64)
	if err != nil {
		t.Fatalf("token payload %q is not an angle: %v", plaintext, err)
	}
	return angle
}

func TestIssueAngleRange(t *testing.T) {
	rc, key := testRotateChallenger(t)

	for i := 0; i < 50; i++ {
		ch, err := rc.Issue()
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		angle := issuedAngle(t, ch.ChallengeToken, key)
		if angle <= rotateAngleMin-1 || angle >= rotateAngleMax+1 {
			t.Fatalf("issued angle %f outside (%d, %d)", angle, rotateAngleMin, rotateAngleMax)
		}
	}
}

func TestIssueImageEncoding(t *testing.T) {
	rc, _ := testRotateChallenger(t)

	ch, err := rc.Issue()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.HasPrefix(ch.ChallengeImage, "data:image/jpeg;base64,") {
		t.Errorf("expected a jpeg data URI, got prefix %q", ch.ChallengeImage[:32])
	}
}

func TestRotateVerifyToleranceBoundary(t *testing.T) {
	rc, key := testRotateChallenger(t)
	v := &RotateVerifier{Key: key}

	ch, err := rc.Issue()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	angle := issuedAngle(t, ch.ChallengeToken, key)

	cases := []struct {
		answer float64
		want   bool
	}{
		{angle, true},
		{angle + 9, true},
		{angle - 9, true},
		{angle + 11, false},
		{angle - 11, false},
	}
	for _, tc := range cases {
		sub := Submission{
			CaptchaType:     "rotate",
			ChallengeToken:  ch.ChallengeToken,
			ChallengeAnswer: strconv.FormatFloat(tc.answer, 'f', -1, 64),
		}
		if got := v.Verify(context.Background(), sub); got != tc.want {
			t.Errorf("answer %f: got %v, want %v (issued %f)", tc.answer, got, tc.want, angle)
		}
	}
}

func TestRotateVerifyTamperedTokens(t *testing.T) {
	rc, key := testRotateChallenger(t)
	v := &RotateVerifier{Key: key}

	ch, err := rc.Issue()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	foreignKey := make([]byte, 32)
	if _, err := rand.Read(foreignKey); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	foreignToken, err := crypto.Encrypt("180", foreignKey)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	tokens := []string{
		"",
		"garbage",
		ch.ChallengeToken[:len(ch.ChallengeToken)-6],
		"00000000000000000000000000000000:" + strings.Split(ch.ChallengeToken, ":")[1],
		foreignToken,
	}
	for _, token := range tokens {
		sub := Submission{CaptchaType: "rotate", ChallengeToken: token, ChallengeAnswer: "180"}
		if v.Verify(context.Background(), sub) {
			t.Errorf("expected tampered token %q to verify false", token)
		}
	}
}

func TestRotateVerifyBadAnswer(t *testing.T) {
	rc, key := testRotateChallenger(t)
	v := &RotateVerifier{Key: key}

	ch, err := rc.Issue()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	sub := Submission{CaptchaType: "rotate", ChallengeToken: ch.ChallengeToken, ChallengeAnswer: "not-a-number"}
	if v.Verify(context.Background(), sub) {
		t.Error("expected unparseable answer to verify false")
	}
}

func TestEmptyPoolRejected(t *testing.T) {
	if _, err := NewRotateChallengerFromPool(make([]byte, 32), nil); err == nil {
		t.Error("expected empty pool to be rejected")
	}
}
