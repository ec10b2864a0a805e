package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/narrata/pkg/provider/embeddings"
	embeddingsmock "github.com/MrWong99/narrata/pkg/provider/embeddings/mock"
	"github.com/MrWong99/narrata/pkg/provider/ledger"
	ledgermock "github.com/MrWong99/narrata/pkg/provider/ledger/mock"
	"github.com/MrWong99/narrata/pkg/provider/tts"
	ttsmock "github.com/MrWong99/narrata/pkg/provider/tts/mock"
)

func TestEmbeddingsFallback_Failover(t *testing.T) {
	primary := &embeddingsmock.Provider{ExtractErr: embeddings.ErrUnavailable}
	secondary := &embeddingsmock.Provider{
		ExtractResult: &embeddings.Embedding{Vector: []float32{1, 2}},
	}
	f := NewEmbeddingsFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	emb, err := f.Extract(context.Background(), []string{"u"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(emb.Vector) != 2 {
		t.Errorf("Vector = %v", emb.Vector)
	}
	if primary.ExtractCallCount() != 1 || secondary.ExtractCallCount() != 1 {
		t.Errorf("calls primary=%d secondary=%d", primary.ExtractCallCount(), secondary.ExtractCallCount())
	}
}

func TestEmbeddingsFallback_AllFailIsUnavailable(t *testing.T) {
	p := &embeddingsmock.Provider{
		ExtractErr: errors.New("connection refused"),
		CompareErr: errors.New("connection refused"),
	}
	f := NewEmbeddingsFallback(p, "only", FallbackConfig{})

	if _, err := f.Extract(context.Background(), []string{"u"}); !errors.Is(err, embeddings.ErrUnavailable) {
		t.Errorf("Extract err = %v, want ErrUnavailable", err)
	}
	if _, err := f.CompareSimilarity(context.Background(), "ref", "u", 0.82); !errors.Is(err, embeddings.ErrUnavailable) {
		t.Errorf("CompareSimilarity err = %v, want ErrUnavailable", err)
	}
}

func TestGuardedEngine_ClientErrorsDoNotTrip(t *testing.T) {
	engine := &ttsmock.Provider{
		SynthesizeErr: &tts.EngineError{StatusCode: 422, Diagnostic: "text too long"},
	}
	g := NewGuardedEngine(engine, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})

	for range 3 {
		_, err := g.Synthesize(context.Background(), tts.Request{Text: "x", VoiceID: "v"})
		var engErr *tts.EngineError
		if !errors.As(err, &engErr) {
			t.Fatalf("err = %v, want EngineError", err)
		}
	}
	if g.State() != StateClosed {
		t.Fatalf("state = %v, want closed", g.State())
	}
	if engine.SynthesizeCallCount() != 3 {
		t.Errorf("engine calls = %d, want 3", engine.SynthesizeCallCount())
	}
}

func TestGuardedEngine_OpensOnServerErrors(t *testing.T) {
	engine := &ttsmock.Provider{
		SynthesizeErr: &tts.EngineError{StatusCode: 500, Diagnostic: "CUDA error"},
	}
	g := NewGuardedEngine(engine, CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	for range 2 {
		_, _ = g.Synthesize(context.Background(), tts.Request{Text: "x", VoiceID: "v"})
	}
	_, err := g.Synthesize(context.Background(), tts.Request{Text: "x", VoiceID: "v"})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if engine.SynthesizeCallCount() != 2 {
		t.Errorf("engine calls = %d, want 2 (third rejected by breaker)", engine.SynthesizeCallCount())
	}

	if _, err := g.CloneVoice(context.Background(), "n", nil); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("CloneVoice err = %v, want ErrCircuitOpen", err)
	}
}

func TestGuardedLedger(t *testing.T) {
	l := &ledgermock.Provider{DebitErr: errors.New("timeout")}
	g := NewGuardedLedger(l, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})

	if _, err := g.Debit(context.Background(), ledger.DebitRequest{OwnerID: "o"}); err == nil {
		t.Fatal("expected ledger error")
	}
	if _, err := g.Debit(context.Background(), ledger.DebitRequest{OwnerID: "o"}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if n := len(l.Calls()); n != 1 {
		t.Errorf("ledger calls = %d, want 1", n)
	}
}
