package captioning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ImageInfo describes an uploaded image
type ImageInfo struct {
	Width    int
	Height   int
	Format   string
	MimeType string
}

var mimeTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
}

// Inspect reads dimensions and format without decoding the full image
func Inspect(data []byte) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to read image header: %w", err)
	}
	mime, ok := mimeTypes[format]
	if !ok {
		mime = "image/" + format
	}
	return ImageInfo{
		Width:    cfg.Width,
		Height:   cfg.Height,
		Format:   format,
		MimeType: mime,
	}, nil
}

// Prepare returns the bytes to send to a provider. Images whose longest edge
// exceeds maxEdge are downscaled and re-encoded as JPEG; everything else,
// including formats some providers reject (bmp), is passed through or converted.
func Prepare(data []byte, maxEdge int) ([]byte, string, ImageInfo, error) {
	info, err := Inspect(data)
	if err != nil {
		return nil, "", info, err
	}

	oversized := maxEdge > 0 && (info.Width > maxEdge || info.Height > maxEdge)
	if !oversized && info.Format != "bmp" {
		return data, info.MimeType, info, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", info, fmt.Errorf("failed to decode image: %w", err)
	}
	if oversized {
		img = imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, "", info, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), "image/jpeg", info, nil
}
