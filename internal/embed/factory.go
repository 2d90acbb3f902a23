package embed

import (
	"fmt"

	enginerr "github.com/docseek/docseek/internal/errors"
)

// Load creates the embedder for a model identifier. Only local, offline
// models are supported. Unknown identifiers return ErrCodeModelUnavailable
// so callers can enter degraded (full-text only) mode.
func Load(modelID string, cacheSize int) (Embedder, error) {
	var inner Embedder
	switch modelID {
	case "", BuiltinModelID:
		inner = NewMinhashEmbedder()
	default:
		return nil, enginerr.ModelUnavailableError(modelID,
			fmt.Errorf("unknown embedding model %q", modelID))
	}

	return NewCachedEmbedder(inner, cacheSize), nil
}
