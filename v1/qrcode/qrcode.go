// Package qrcode turns member identifiers into QR code data URLs and back.
package qrcode

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strconv"
	"strings"

	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/num-err/smartscan/v1/models"
	skipqr "github.com/skip2/go-qrcode"
)

const (
	// DataURLPrefix prefixes every generated payload
	DataURLPrefix = "data:image/png;base64,"
	// DefaultSize is the PNG edge length in pixels
	DefaultSize = 256
)

// Generator encodes identifiers as PNG QR codes.
// The output depends only on the identifier and Size.
type Generator struct {
	Size int
}

// NewGenerator creates a generator; non-positive sizes fall back to DefaultSize
func NewGenerator(size int) *Generator {
	if size <= 0 {
		size = DefaultSize
	}
	return &Generator{Size: size}
}

// Encode returns the data URL of the QR code for id
func (g *Generator) Encode(id int64) (string, error) {
	png, err := skipqr.Encode(strconv.FormatInt(id, 10), skipqr.Medium, g.Size)
	if err != nil {
		return "", fmt.Errorf("%w: id %d: %w", models.ErrEncoding, id, err)
	}
	return DataURLPrefix + base64.StdEncoding.EncodeToString(png), nil
}

// Encode uses a generator of DefaultSize
func Encode(id int64) (string, error) {
	return NewGenerator(DefaultSize).Encode(id)
}

// DecodeImage reads the text of the first QR code found in a PNG or JPEG image
func DecodeImage(r io.Reader) (string, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return "", fmt.Errorf("%w: unreadable image: %w", models.ErrEncoding, err)
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrEncoding, err)
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	result, err := zxqr.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", fmt.Errorf("%w: no QR code found: %w", models.ErrEncoding, err)
	}
	return result.GetText(), nil
}

// ParseIdentifier converts decoded QR text into a member identifier
func ParseIdentifier(text string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return 0, models.NewValidationError("QR code does not contain a member ID: %q", text)
	}
	return id, nil
}

// DecodePayload is the inverse of Encode
func DecodePayload(dataURL string) (int64, error) {
	if !strings.HasPrefix(dataURL, DataURLPrefix) {
		return 0, fmt.Errorf("%w: not a PNG data URL", models.ErrEncoding)
	}
	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, DataURLPrefix))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrEncoding, err)
	}
	text, err := DecodeImage(bytes.NewReader(png))
	if err != nil {
		return 0, err
	}
	return ParseIdentifier(text)
}
