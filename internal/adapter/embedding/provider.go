package embedding

import (
	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

const (
	ProviderJina  = "jina"
	ProviderLocal = "local"
	ProviderMock  = "mock"
)

// New builds the oracle for provider.
func New(provider string, opts Options) (port.Embedder, error) {
	switch provider {
	case ProviderJina:
		return NewJinaEmbedder(opts)
	case ProviderLocal:
		return NewLocalEmbedder(opts)
	case ProviderMock:
		dim := opts.Dimension
		if dim <= 0 {
			dim = knownDimension(opts.Model)
		}
		if dim <= 0 {
			dim = 512
		}
		return NewMockEmbedder(dim), nil
	default:
		return nil, errs.Errorf(errs.CodeConfig, "unknown embedding provider %q", provider)
	}
}
