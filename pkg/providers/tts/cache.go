package tts

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lokutor-ai/pharma-voice-agent/pkg/orchestrator"
)

// cacheTTL bounds how long a synthesized phrase may be served from cache
// (spec.md §4.5: repeated confirmation/recap phrases are common enough to
// be worth caching for a short window).
const cacheTTL = 10 * time.Minute

// fallbackUtterance is played back when the wrapped provider fails, so a
// caller is never left in silence on an upstream outage (spec.md §7).
var fallbackUtterance = []byte("fallback-audio:one-moment-please")

// CachedTTS wraps an orchestrator.TTSProvider with a Redis-backed
// hash(text,voice)->audio TTL cache and a pre-recorded fallback clip for
// upstream failures.
type CachedTTS struct {
	inner orchestrator.TTSProvider
	cache *redis.Client
}

// NewCachedTTS wires inner (e.g. *LokutorTTS) behind the cache. cache may be
// nil, in which case every call passes through to inner uncached.
func NewCachedTTS(inner orchestrator.TTSProvider, cache *redis.Client) *CachedTTS {
	return &CachedTTS{inner: inner, cache: cache}
}

func cacheKey(text string, voice orchestrator.Voice, lang orchestrator.Language) string {
	h := sha1.Sum([]byte(string(lang) + "|" + string(voice) + "|" + text))
	return "tts:" + hex.EncodeToString(h[:])
}

// Synthesize returns the cached audio for (text, voice, lang) when present,
// else synthesizes via inner and populates the cache. On inner failure it
// returns fallbackUtterance rather than propagating the error.
func (c *CachedTTS) Synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error) {
	key := cacheKey(text, voice, lang)
	if audio, ok := c.readCache(ctx, key); ok {
		return audio, nil
	}

	audio, err := c.inner.Synthesize(ctx, text, voice, lang)
	if err != nil {
		return fallbackUtterance, nil
	}
	c.writeCache(ctx, key, audio)
	return audio, nil
}

// StreamSynthesize streams from cache when present (as a single chunk),
// else streams from inner while buffering the chunks to populate the cache
// for next time. On inner failure it streams fallbackUtterance instead of
// returning an error.
func (c *CachedTTS) StreamSynthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language, onChunk func([]byte) error) error {
	key := cacheKey(text, voice, lang)
	if audio, ok := c.readCache(ctx, key); ok {
		return onChunk(audio)
	}

	var buf []byte
	err := c.inner.StreamSynthesize(ctx, text, voice, lang, func(chunk []byte) error {
		buf = append(buf, chunk...)
		return onChunk(chunk)
	})
	if err != nil {
		return onChunk(fallbackUtterance)
	}
	c.writeCache(ctx, key, buf)
	return nil
}

// Abort delegates to the wrapped provider.
func (c *CachedTTS) Abort() error {
	return c.inner.Abort()
}

func (c *CachedTTS) Name() string {
	return c.inner.Name() + "-cached"
}

func (c *CachedTTS) readCache(ctx context.Context, key string) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}
	audio, err := c.cache.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return audio, true
}

func (c *CachedTTS) writeCache(ctx context.Context, key string, audio []byte) {
	if c.cache == nil || len(audio) == 0 {
		return
	}
	c.cache.Set(ctx, key, audio, cacheTTL)
}
