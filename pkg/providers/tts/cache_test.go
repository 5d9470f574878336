package tts

import (
	"context"
	"errors"
	"testing"

	"github.com/lokutor-ai/pharma-voice-agent/pkg/orchestrator"
)

type fakeInnerTTS struct {
	audio     []byte
	err       error
	callCount int
}

func (f *fakeInnerTTS) Synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error) {
	f.callCount++
	if f.err != nil {
		return nil, f.err
	}
	return f.audio, nil
}

func (f *fakeInnerTTS) StreamSynthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language, onChunk func([]byte) error) error {
	f.callCount++
	if f.err != nil {
		return f.err
	}
	return onChunk(f.audio)
}

func (f *fakeInnerTTS) Abort() error { return nil }
func (f *fakeInnerTTS) Name() string { return "fake-inner" }

func TestCachedTTSUncachedPassesThrough(t *testing.T) {
	inner := &fakeInnerTTS{audio: []byte{1, 2, 3}}
	c := NewCachedTTS(inner, nil)

	audio, err := c.Synthesize(context.Background(), "hello", orchestrator.VoiceF1, orchestrator.LanguageEn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(audio) != 3 {
		t.Errorf("expected 3 bytes, got %d", len(audio))
	}
	if inner.callCount != 1 {
		t.Errorf("expected inner called once, got %d", inner.callCount)
	}
}

func TestCachedTTSFallbackOnFailure(t *testing.T) {
	inner := &fakeInnerTTS{err: errors.New("upstream unavailable")}
	c := NewCachedTTS(inner, nil)

	audio, err := c.Synthesize(context.Background(), "hello", orchestrator.VoiceF1, orchestrator.LanguageEn)
	if err != nil {
		t.Fatalf("expected no error (fallback audio instead), got %v", err)
	}
	if string(audio) != string(fallbackUtterance) {
		t.Errorf("expected fallback utterance, got %q", audio)
	}
}

func TestCachedTTSStreamFallbackOnFailure(t *testing.T) {
	inner := &fakeInnerTTS{err: errors.New("upstream unavailable")}
	c := NewCachedTTS(inner, nil)

	var got []byte
	err := c.StreamSynthesize(context.Background(), "hello", orchestrator.VoiceF1, orchestrator.LanguageEn, func(chunk []byte) error {
		got = append(got, chunk...)
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error (fallback audio instead), got %v", err)
	}
	if string(got) != string(fallbackUtterance) {
		t.Errorf("expected fallback utterance, got %q", got)
	}
}

func TestCacheKeyIsStableAndLangVoiceSensitive(t *testing.T) {
	k1 := cacheKey("hello", orchestrator.VoiceF1, orchestrator.LanguageEn)
	k2 := cacheKey("hello", orchestrator.VoiceF1, orchestrator.LanguageEn)
	k3 := cacheKey("hello", orchestrator.VoiceF2, orchestrator.LanguageEn)
	if k1 != k2 {
		t.Errorf("expected stable cache key, got %q vs %q", k1, k2)
	}
	if k1 == k3 {
		t.Errorf("expected different voices to produce different keys")
	}
}

func TestCachedTTSAbortDelegates(t *testing.T) {
	inner := &fakeInnerTTS{}
	c := NewCachedTTS(inner, nil)
	if err := c.Abort(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCachedTTSName(t *testing.T) {
	inner := &fakeInnerTTS{}
	c := NewCachedTTS(inner, nil)
	if c.Name() != "fake-inner-cached" {
		t.Errorf("expected fake-inner-cached, got %q", c.Name())
	}
}
