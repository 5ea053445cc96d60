// Package imaging re-encodes generated images before they are stored.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"

	_ "github.com/kolesa-team/go-webp/decoder"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

const (
	ContentTypeWebP = "image/webp"
	DefaultQuality  = 90
)

// ToWebP decodes a PNG or JPEG and encodes it as lossy WebP. Input that is
// already WebP is returned unchanged.
func ToWebP(data []byte, quality float32) ([]byte, error) {
	if http.DetectContentType(data) == ContentTypeWebP {
		return data, nil
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode %s as WebP: %w", format, err)
	}
	return buf.Bytes(), nil
}
