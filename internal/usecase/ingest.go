package usecase

import (
	"context"
	"image"
	"log/slog"

	"github.com/elliot-woods/pgvector-search/internal/adapter/imaging"
	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/observability"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

// IngestUseCase embeds single images and upserts them straight into the
// store, bypassing the ledger. Its Add methods never return errors: every
// failure is logged and reported as false.
type IngestUseCase struct {
	embedder port.Embedder
	store    port.VectorStore
	log      *slog.Logger
}

func NewIngestUseCase(embedder port.Embedder, store port.VectorStore, log *slog.Logger) *IngestUseCase {
	return &IngestUseCase{embedder: embedder, store: store, log: log}
}

func (u *IngestUseCase) AddImage(ctx context.Context, img image.Image, identifier string) bool {
	return u.report(identifier, u.add(ctx, img, identifier))
}

func (u *IngestUseCase) AddImageBytes(ctx context.Context, data []byte, identifier string) bool {
	img, err := imaging.Decode(data)
	if err != nil {
		return u.report(identifier, err)
	}
	return u.AddImage(ctx, img, identifier)
}

// AddImageFile uses path as the identifier when identifier is empty.
func (u *IngestUseCase) AddImageFile(ctx context.Context, path, identifier string) bool {
	return u.report(identifierOr(identifier, path), u.addFile(ctx, path, identifier))
}

// BatchAdd adds each path independently and returns (succeeded, failed).
// identifiers are matched to paths by position; missing or empty entries
// fall back to the path.
func (u *IngestUseCase) BatchAdd(ctx context.Context, paths, identifiers []string) (int, int) {
	summary := u.BatchAddSummary(ctx, paths, identifiers)
	return summary.Succeeded, summary.FailedCount()
}

// BatchAddSummary is BatchAdd with per-item failure reasons.
func (u *IngestUseCase) BatchAddSummary(ctx context.Context, paths, identifiers []string) domain.PassSummary {
	var summary domain.PassSummary
	for i, path := range paths {
		var id string
		if i < len(identifiers) {
			id = identifiers[i]
		}
		id = identifierOr(id, path)

		if err := u.addFile(ctx, path, id); err != nil {
			u.report(id, err)
			summary.Fail(id, errs.CodeString(err), err)
			continue
		}
		summary.Succeeded++
	}
	u.log.Info("batch ingestion finished", "added", summary.Succeeded, "failed", summary.FailedCount())
	return summary
}

func (u *IngestUseCase) addFile(ctx context.Context, path, identifier string) error {
	img, err := imaging.Open(path)
	if err != nil {
		return err
	}
	return u.add(ctx, img, identifierOr(identifier, path))
}

func (u *IngestUseCase) add(ctx context.Context, img image.Image, identifier string) (err error) {
	ctx, span := observability.StartIngestSpan(ctx, identifier)
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	if identifier == "" {
		return errs.New(errs.CodeInvalidInput, "identifier must not be empty")
	}
	if img == nil {
		return errs.New(errs.CodeInvalidInput, "image must not be nil")
	}

	vec, err := u.embedder.EmbedImage(ctx, img)
	if err != nil {
		return encodeFailure(err, "embedding image")
	}

	tx, err := u.store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := tx.Upsert(ctx, domain.EmbeddingRecord{Identifier: identifier, Vector: vec}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (u *IngestUseCase) report(identifier string, err error) bool {
	if err != nil {
		u.log.Warn("failed to add image", "identifier", identifier, "code", errs.CodeString(err), "error", err)
		return false
	}
	u.log.Debug("image added", "identifier", identifier)
	return true
}

func identifierOr(identifier, path string) string {
	if identifier != "" {
		return identifier
	}
	return path
}
