package youtube

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
)

// DefaultListingWindow is how many recent uploads are considered when sampling.
const DefaultListingWindow = 50

// Sampler picks random recent uploads from a channel.
type Sampler struct {
	client Client
	window int
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithListingWindow sets how many recent uploads are candidates.
func WithListingWindow(n int) SamplerOption {
	return func(s *Sampler) {
		if n > 0 {
			s.window = n
		}
	}
}

// WithRand sets the random source, for reproducible sampling.
func WithRand(r *rand.Rand) SamplerOption {
	return func(s *Sampler) {
		if r != nil {
			s.rng = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SamplerOption {
	return func(s *Sampler) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSampler creates a Sampler backed by client.
func NewSampler(client Client, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		client: client,
		window: DefaultListingWindow,
		logger: slog.Default(),
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SampleChannel resolves reference, lists the recent uploads and returns up
// to count of them chosen uniformly at random without replacement, as watch
// URLs in the order they were drawn.
func (s *Sampler) SampleChannel(ctx context.Context, reference string, count int) (string, []string, error) {
	ref, err := ParseReference(reference)
	if err != nil {
		return "", nil, err
	}

	channelID, err := s.client.ResolveChannel(ctx, ref)
	if err != nil {
		return "", nil, fmt.Errorf("resolve %s: %w", ref, err)
	}

	uploads, err := s.client.ListUploads(ctx, channelID, s.window)
	if err != nil {
		return channelID, nil, fmt.Errorf("list uploads of %s: %w", channelID, err)
	}

	picked := s.pick(uploads, count)
	urls := make([]string, len(picked))
	for i, v := range picked {
		urls[i] = v.URL()
	}

	s.logger.Debug("sampled channel uploads",
		slog.String("reference", ref.String()),
		slog.String("channel_id", channelID),
		slog.Int("candidates", len(uploads)),
		slog.Int("picked", len(urls)),
	)
	return channelID, urls, nil
}

// pick draws min(count, len(videos)) videos without replacement using a
// partial Fisher-Yates shuffle on a copy.
func (s *Sampler) pick(videos []Video, count int) []Video {
	n := len(videos)
	if count <= 0 || count > n {
		count = n
	}

	pool := make([]Video, n)
	copy(pool, videos)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < count; i++ {
		j := i + s.rng.IntN(n-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:count]
}
