package usecase

import (
	"context"
	"image"
	"log/slog"
	"strings"

	"github.com/elliot-woods/pgvector-search/internal/adapter/imaging"
	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/observability"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

// DefaultLimit is the number of results returned when the caller gives none.
const DefaultLimit = 5

// SearchUseCase embeds a probe and asks the store for its nearest records.
// Ranking is left entirely to the store.
type SearchUseCase struct {
	embedder port.Embedder
	store    port.VectorStore
	log      *slog.Logger
}

func NewSearchUseCase(embedder port.Embedder, store port.VectorStore, log *slog.Logger) *SearchUseCase {
	return &SearchUseCase{embedder: embedder, store: store, log: log}
}

// NormalizeLimit maps 0 to DefaultLimit and rejects negative limits.
func NormalizeLimit(k int) (int, error) {
	switch {
	case k == 0:
		return DefaultLimit, nil
	case k < 0:
		return 0, errs.New(errs.CodeInvalidInput, "limit must be at least 1", errs.Field("limit", k))
	default:
		return k, nil
	}
}

func (u *SearchUseCase) SearchByText(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	ctx, span := observability.StartSearchSpan(ctx, "text", k)
	defer span.End()

	results, err := u.searchByText(ctx, query, k)
	observability.RecordError(span, err)
	return results, err
}

func (u *SearchUseCase) searchByText(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	k, err := NormalizeLimit(k)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, errs.New(errs.CodeInvalidInput, "query must not be empty")
	}

	vec, err := u.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, encodeFailure(err, "embedding text query")
	}
	return u.nearest(ctx, vec, k)
}

func (u *SearchUseCase) SearchByImage(ctx context.Context, img image.Image, k int) ([]domain.SearchResult, error) {
	ctx, span := observability.StartSearchSpan(ctx, "image", k)
	defer span.End()

	results, err := u.searchByImage(ctx, img, k)
	observability.RecordError(span, err)
	return results, err
}

func (u *SearchUseCase) searchByImage(ctx context.Context, img image.Image, k int) ([]domain.SearchResult, error) {
	k, err := NormalizeLimit(k)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, errs.New(errs.CodeInvalidInput, "image must not be nil")
	}

	vec, err := u.embedder.EmbedImage(ctx, img)
	if err != nil {
		return nil, encodeFailure(err, "embedding image query")
	}
	return u.nearest(ctx, vec, k)
}

// SearchByImageBytes decodes data first; undecodable data is a DecodeError.
func (u *SearchUseCase) SearchByImageBytes(ctx context.Context, data []byte, k int) ([]domain.SearchResult, error) {
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}
	return u.SearchByImage(ctx, img, k)
}

func (u *SearchUseCase) SearchByImageFile(ctx context.Context, path string, k int) ([]domain.SearchResult, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, err
	}
	return u.SearchByImage(ctx, img, k)
}

func (u *SearchUseCase) nearest(ctx context.Context, vec domain.Vector, k int) ([]domain.SearchResult, error) {
	results, err := u.store.Nearest(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	u.log.Debug("search finished", "k", k, "results", len(results))
	return results, nil
}

func encodeFailure(err error, msg string) error {
	if errs.CodeOf(err) != "" {
		return err
	}
	return errs.Wrap(err, errs.CodeEncode, msg)
}
