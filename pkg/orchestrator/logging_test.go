package orchestrator

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestZerologAdapterInfoIncludesKeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewZerologAdapter(zerolog.New(&buf))

	adapter.Info("call admitted", "callID", "call-1", "phone", "+1555")

	out := buf.String()
	if !strings.Contains(out, "call admitted") {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "call-1") || !strings.Contains(out, "+1555") {
		t.Errorf("expected field values in output, got %q", out)
	}
}

func TestZerologAdapterSatisfiesLogger(t *testing.T) {
	var _ Logger = NewZerologAdapter(zerolog.New(&bytes.Buffer{}))
}
