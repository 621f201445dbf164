package media

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"
	"github.com/rwcarlsen/goexif/exif"
)

const dataURIPrefix = "data:"

// IsDataURI reports whether a photo reference is an inline-encoded image
// payload rather than a file path
func IsDataURI(ref string) bool {
	return strings.HasPrefix(ref, dataURIPrefix)
}

// Load reads the image bytes behind a photo reference, either a local
// file path or a base64 data URI
func Load(ref string) ([]byte, error) {
	if IsDataURI(ref) {
		return decodeDataURI(ref)
	}
	return os.ReadFile(ref)
}

func decodeDataURI(uri string) ([]byte, error) {
	comma := strings.Index(uri, ",")
	if comma < 0 {
		return nil, fmt.Errorf("malformed data URI: no payload separator")
	}
	meta := uri[len(dataURIPrefix):comma]
	if !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("unsupported data URI encoding: %s", meta)
	}
	data, err := base64.StdEncoding.DecodeString(uri[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("decode data URI: %w", err)
	}
	return data, nil
}

// Hash computes the SHA256 content hash sent alongside uploads for
// server-side duplicate detection
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Preparer re-encodes camera images before upload: HEIC conversion,
// downscaling to a maximum dimension, and JPEG re-compression. Capture
// date is pulled from EXIF when present.
type Preparer struct {
	maxDimension int
	jpegQuality  int
}

// NewPreparer creates a Preparer. maxDimension <= 0 disables downscaling;
// quality outside 1-100 falls back to 85.
func NewPreparer(maxDimension, jpegQuality int) *Preparer {
	if jpegQuality < 1 || jpegQuality > 100 {
		jpegQuality = 85
	}
	return &Preparer{maxDimension: maxDimension, jpegQuality: jpegQuality}
}

// Prepare converts raw image bytes into the upload payload. The returned
// dateTaken is the EXIF capture date when available, zero otherwise.
// Bytes that cannot be decoded as an image pass through untouched.
func (p *Preparer) Prepare(data []byte) (payload []byte, dateTaken time.Time, err error) {
	dateTaken = extractDateTaken(data)

	img, err := decodeImage(data)
	if err != nil {
		// Not a decodable image; upload the bytes as captured.
		return data, dateTaken, nil
	}

	if p.maxDimension > 0 {
		bounds := img.Bounds()
		if bounds.Dx() > p.maxDimension || bounds.Dy() > p.maxDimension {
			img = imaging.Fit(img, p.maxDimension, p.maxDimension, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.jpegQuality}); err != nil {
		return nil, dateTaken, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), dateTaken, nil
}

func decodeImage(data []byte) (image.Image, error) {
	if isHEIC(data) {
		return goheif.Decode(bytes.NewReader(data))
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// isHEIC sniffs the ISO-BMFF ftyp box for HEIF brands
func isHEIC(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	switch brand {
	case "heic", "heix", "hevc", "heim", "heis", "hevm", "hevs", "mif1":
		return true
	}
	return false
}

func extractDateTaken(data []byte) time.Time {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return time.Time{}
	}
	dt, err := x.DateTime()
	if err != nil {
		return time.Time{}
	}
	return dt
}
