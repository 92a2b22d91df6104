package captcha

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"cloaken/internal/crypto"
	"github.com/disintegration/imaging"
)

// Issuance angle bounds, in degrees. Angles near 0/360 would make the
// rotation trivially guessable.
const (
	rotateAngleMin = 45
	rotateAngleMax = 315
)

// RotateChallenge is the wire form of one issued puzzle: a rotated image and
// an encrypted token the client must return verbatim with its answer.
type RotateChallenge struct {
	ChallengeImage string `json:"challengeImage"`
	ChallengeToken string `json:"challengeToken"`
}

// RotateChallenger issues self-verifying rotation puzzles from a pool of
// source images. The pool and key are read-only after construction, so a
// single challenger is safe for concurrent use.
type RotateChallenger struct {
	key    []byte
	images []image.Image
}

// NewRotateChallenger loads every decodable image under dir into the puzzle
// pool. The key must be a 32-byte AES key.
func NewRotateChallenger(key []byte, dir string) (*RotateChallenger, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read puzzle image dir: %w", err)
	}

	var images []image.Image
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		img, err := imaging.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		images = append(images, img)
	}

	if len(images) == 0 {
		return nil, fmt.Errorf("no usable puzzle images in %s", dir)
	}

	return &RotateChallenger{key: key, images: images}, nil
}

// NewRotateChallengerFromPool builds a challenger over an in-memory pool.
func NewRotateChallengerFromPool(key []byte, images []image.Image) (*RotateChallenger, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("empty puzzle image pool")
	}
	return &RotateChallenger{key: key, images: images}, nil
}

// Issue picks a random pool image, rotates it by a random angle and crops
// back to the largest inscribed square, so the result shows no telltale
// rotation corners. The returned token encrypts the angle.
func (rc *RotateChallenger) Issue() (*RotateChallenge, error) {
	src := rc.images[rand.Intn(len(rc.images))]

	bounds := src.Bounds()
	side := bounds.Dx()
	if bounds.Dy() < side {
		side = bounds.Dy()
	}
	square := imaging.CropCenter(src, side, side)

	angle := rotateAngleMin + rand.Float64()*(rotateAngleMax-rotateAngleMin)
	rotated := imaging.Rotate(square, angle, color.Black)

	// Largest axis-aligned square fully inside the rotated image.
	inner := int(2 * math.Sqrt(float64(side*side)/8))
	cropped := imaging.CropCenter(rotated, inner, inner)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, cropped, nil); err != nil {
		return nil, fmt.Errorf("failed to encode puzzle image: %w", err)
	}

	token, err := crypto.Encrypt(strconv.FormatFloat(angle, 'f', -1, 64), rc.key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt puzzle token: %w", err)
	}

	return &RotateChallenge{
		ChallengeImage: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		ChallengeToken: token,
	}, nil
}
