// Package imaging decodes uploaded or on-disk images and prepares them for
// the embedding oracle.
package imaging

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/elliot-woods/pgvector-search/internal/errs"
)

// MaxPixels caps the declared width*height of an image before its pixel
// buffer is allocated.
var MaxPixels int64 = 64 << 20

// Decode decodes raw image bytes. Invalid data, or a header declaring more
// than MaxPixels pixels, yields a DecodeError.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errs.New(errs.CodeDecode, "empty image data")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeDecode, "decoding image header")
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > MaxPixels {
		return nil, errs.New(errs.CodeDecode, "image exceeds pixel limit",
			errs.Field("format", format),
			errs.Field("width", cfg.Width),
			errs.Field("height", cfg.Height),
			errs.Field("max_pixels", MaxPixels),
		)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeDecode, "decoding image")
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, errs.New(errs.CodeDecode, "image has no pixels", errs.Field("format", format))
	}
	return img, nil
}

// Open reads and decodes an image file. A missing or unreadable file is a
// SourceReadError; undecodable content is a DecodeError.
func Open(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeSourceRead, "reading image file", errs.Field("path", path))
	}
	return Decode(data)
}

// Fit scales img down so that its longest side is at most maxSide,
// preserving aspect ratio. Images already within bounds are returned as is.
func Fit(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return img
	}

	nw, nh := maxSide, maxSide
	if w >= h {
		nh = max(1, h*maxSide/w)
	} else {
		nw = max(1, w*maxSide/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// EncodePNG serialises img losslessly for transport to the oracle.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errs.Wrap(err, errs.CodeEncode, "encoding image as png")
	}
	return buf.Bytes(), nil
}
