package port

import (
	"context"
	"image"

	"github.com/elliot-woods/pgvector-search/internal/domain"
)

// Embedder is the multimodal encoder boundary. Images and text are mapped
// into the same vector space of a fixed dimension.
type Embedder interface {
	// EmbedImage returns the embedding of a decoded image.
	EmbedImage(ctx context.Context, img image.Image) (domain.Vector, error)

	// EmbedText returns the embedding of a text probe.
	EmbedText(ctx context.Context, text string) (domain.Vector, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}
