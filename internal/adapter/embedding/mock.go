package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"image"

	"github.com/elliot-woods/pgvector-search/internal/adapter/imaging"
	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

// Mock is a deterministic offline oracle. Equal inputs map to equal
// vectors; different inputs map to unrelated vectors.
type Mock struct {
	dimension int
}

var _ port.Embedder = (*Mock)(nil)

func NewMockEmbedder(dimension int) *Mock {
	return &Mock{dimension: dimension}
}

func (e *Mock) EmbedImage(_ context.Context, img image.Image) (domain.Vector, error) {
	return e.vectorFor(pixelDigest(imaging.Fit(img, 64))), nil
}

func (e *Mock) EmbedText(_ context.Context, text string) (domain.Vector, error) {
	if text == "" {
		return nil, errs.New(errs.CodeInvalidInput, "empty text probe")
	}
	return e.vectorFor(sha256.Sum256([]byte("text\x00" + text))), nil
}

func (e *Mock) vectorFor(seed [32]byte) domain.Vector {
	v := make(domain.Vector, e.dimension)
	block := seed
	for i := range v {
		if i > 0 && i%8 == 0 {
			block = sha256.Sum256(block[:])
		}
		bits := binary.BigEndian.Uint32(block[(i%8)*4:])
		v[i] = float64(bits)/float64(^uint32(0))*2 - 1
	}
	return v
}

func (e *Mock) Dimension() int {
	return e.dimension
}

func (e *Mock) ModelName() string {
	return "mock"
}

// pixelDigest hashes the bounds and every pixel of img.
func pixelDigest(img image.Image) [32]byte {
	h := sha256.New()
	b := img.Bounds()
	var buf [16]byte
	binary.BigEndian.PutUint32(buf[0:], uint32(b.Dx()))
	binary.BigEndian.PutUint32(buf[4:], uint32(b.Dy()))
	h.Write([]byte("image\x00"))
	h.Write(buf[:8])
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			binary.BigEndian.PutUint32(buf[0:], r)
			binary.BigEndian.PutUint32(buf[4:], g)
			binary.BigEndian.PutUint32(buf[8:], bl)
			binary.BigEndian.PutUint32(buf[12:], a)
			h.Write(buf[:])
		}
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
