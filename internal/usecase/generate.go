package usecase

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/elliot-woods/pgvector-search/internal/adapter/imaging"
	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/observability"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

// ProgressFunc is called after each source item is handled.
type ProgressFunc func(done, total int)

// GenerateUseCase runs the embedding generation pass: every image under the
// source directory that the ledger does not hold yet is embedded and appended.
type GenerateUseCase struct {
	walker   port.FileWalker
	embedder port.Embedder
	stage    port.Stage
	log      *slog.Logger
}

// NewGenerateUseCase creates a new generate use case.
func NewGenerateUseCase(
	walker port.FileWalker,
	embedder port.Embedder,
	stage port.Stage,
	log *slog.Logger,
) *GenerateUseCase {
	return &GenerateUseCase{
		walker:   walker,
		embedder: embedder,
		stage:    stage,
		log:      log,
	}
}

// Generate embeds the images found under sourceDir. Failures reading or
// embedding a single image are recorded in the summary and the pass
// continues; failing to write the ledger aborts the pass.
func (u *GenerateUseCase) Generate(ctx context.Context, sourceDir string, progress ProgressFunc) (domain.PassSummary, error) {
	ctx, span := observability.StartPassSpan(ctx, "generate", attribute.String("source.dir", sourceDir))
	defer span.End()

	summary, err := u.generate(ctx, sourceDir, progress)
	observability.RecordPassSummary(span, summary)
	observability.RecordError(span, err)
	return summary, err
}

func (u *GenerateUseCase) generate(ctx context.Context, sourceDir string, progress ProgressFunc) (domain.PassSummary, error) {
	var summary domain.PassSummary

	if sourceDir == "" {
		return summary, errs.New(errs.CodeConfig, "no image directory configured")
	}

	files, err := u.walker.Walk(sourceDir)
	if err != nil {
		return summary, errs.Wrap(err, errs.CodeSourceRead, "walking image directory", errs.Field("dir", sourceDir))
	}
	if len(files) == 0 {
		u.log.Info("no images found", "dir", sourceDir)
		return summary, nil
	}

	existing, err := u.stage.LoadExistingIdentifiers(ctx)
	if err != nil {
		return summary, err
	}
	u.log.Info("generating embeddings",
		"dir", sourceDir, "images", len(files), "already_staged", len(existing), "model", u.embedder.ModelName())

	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		id := file.Path

		if _, ok := existing[id]; ok {
			u.log.Debug("embedding already exists", "identifier", id)
			summary.Skipped++
		} else if err := u.embedOne(ctx, id, &summary); err != nil {
			return summary, err
		}
		existing[id] = struct{}{}

		if progress != nil {
			progress(i+1, len(files))
		}
	}

	u.log.Info("generation pass finished",
		"written", summary.Succeeded, "skipped", summary.Skipped, "failed", summary.FailedCount())
	return summary, nil
}

// embedOne returns an error only when the pass must stop.
func (u *GenerateUseCase) embedOne(ctx context.Context, id string, summary *domain.PassSummary) error {
	img, err := imaging.Open(id)
	if err != nil {
		u.itemFailed(summary, id, err)
		return nil
	}

	vec, err := u.embedder.EmbedImage(ctx, img)
	if err != nil {
		u.itemFailed(summary, id, encodeFailure(err, "embedding image"))
		return nil
	}

	written, err := u.stage.AppendIfAbsent(ctx, domain.EmbeddingRecord{Identifier: id, Vector: vec})
	if err != nil {
		if errs.IsItemLevel(err) {
			u.itemFailed(summary, id, err)
			return nil
		}
		return err
	}
	if written {
		summary.Succeeded++
	} else {
		summary.Skipped++
	}
	return nil
}

func (u *GenerateUseCase) itemFailed(summary *domain.PassSummary, id string, err error) {
	code := errs.CodeString(err)
	u.log.Warn("skipping image", "identifier", id, "code", code, "error", err)
	summary.Fail(id, code, err)
}
