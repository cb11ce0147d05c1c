package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/rand"

	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

// deterministicEmbedder derives a pseudo-random vector from the SHA-256 of the text.
// Identical text always maps to the identical vector. The values carry no meaning.
type deterministicEmbedder struct {
	log *logger.Logger
	dim int
}

func NewDeterministic(log *logger.Logger, dim int) Embedder {
	if log == nil {
		log = logger.Nop()
	}
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &deterministicEmbedder{log: log.With("service", "DeterministicEmbedder"), dim: dim}
}

func (d *deterministicEmbedder) Name() string   { return ProviderDeterministic }
func (d *deterministicEmbedder) Dimension() int { return d.dim }

func (d *deterministicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.log.Debug("using deterministic embedding", "chars", len(text))

	sum := sha256.Sum256([]byte(text))
	r := rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(sum[:8]))))
	out := make([]float32, d.dim)
	for i := range out {
		out[i] = float32(r.Float64() - 0.5)
	}
	return out, nil
}
