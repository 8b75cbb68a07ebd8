package embedder

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/qanoon-dev/lexsearch-mcp/pkg/types"
)

// fakeProvider is a scriptable model provider for engine tests.
type fakeProvider struct {
	dimension int
	failFrom  int64 // fail on call number >= failFrom; 0 = never fail
	malformed bool  // return an empty slice with a nil error
	calls     atomic.Int64
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([]*Embedding, error) {
	n := f.calls.Add(1)
	if f.malformed {
		return []*Embedding{}, nil
	}
	if f.failFrom > 0 && n >= f.failFrom {
		return nil, errors.New("model crashed")
	}
	embs := make([]*Embedding, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dimension)
		for j := range vec {
			vec[j] = float32(len(text)%7) + float32(j)
		}
		embs[i] = &Embedding{
			Vector:    NormalizeVector(vec),
			Dimension: f.dimension,
			Provider:  "fake",
			Model:     "fake-model",
		}
	}
	return embs, nil
}

func (f *fakeProvider) Dimension() int { return f.dimension }
func (f *fakeProvider) Name() string   { return "fake" }
func (f *fakeProvider) Model() string  { return "fake-model" }
func (f *fakeProvider) Close() error   { return nil }

func newTestEngine(t *testing.T, provider Provider) *Engine {
	t.Helper()
	e := NewEngine(EngineConfig{
		Dimension:     64,
		MaxTokens:     128,
		MiniBatchSize: 4,
		CacheSize:     100,
	}, provider, nil)
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	return e
}

func TestEngineHashModeWhenNoProvider(t *testing.T) {
	e := newTestEngine(t, nil)
	if e.Mode() != ModeHash {
		t.Fatalf("mode = %s, want %s", e.Mode(), ModeHash)
	}
	if e.ModelID() != "hash-fallback" {
		t.Errorf("ModelID() = %s", e.ModelID())
	}
}

func TestEngineModelModeWithWorkingProvider(t *testing.T) {
	e := newTestEngine(t, &fakeProvider{dimension: 64})
	if e.Mode() != ModeModel {
		t.Fatalf("mode = %s, want %s", e.Mode(), ModeModel)
	}
	if e.ModelID() != "fake-model" {
		t.Errorf("ModelID() = %s", e.ModelID())
	}
}

func TestEngineDegradesOnProbeFailure(t *testing.T) {
	// Provider fails from the first call, so the Initialize probe fails.
	e := NewEngine(EngineConfig{Dimension: 64}, &fakeProvider{dimension: 64, failFrom: 1}, nil)
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if e.Mode() != ModeHash {
		t.Fatalf("mode = %s after probe failure, want %s", e.Mode(), ModeHash)
	}
}

func TestEngineDegradesOnDimensionMismatch(t *testing.T) {
	// Provider produces 32-d vectors against a 64-d configuration.
	e := NewEngine(EngineConfig{Dimension: 64}, &fakeProvider{dimension: 32}, nil)
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if e.Mode() != ModeHash {
		t.Fatalf("mode = %s, want %s", e.Mode(), ModeHash)
	}
}

func TestEngineDegradesOnMalformedProbe(t *testing.T) {
	// A misbehaving provider that answers the probe with zero embeddings and
	// no error must degrade the engine, not crash it.
	e := NewEngine(EngineConfig{Dimension: 64}, &fakeProvider{dimension: 64, malformed: true}, nil)
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if e.Mode() != ModeHash {
		t.Fatalf("mode = %s after malformed probe, want %s", e.Mode(), ModeHash)
	}
}

func TestEncodeCancelledContextReturnsTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Model mode and hash mode both refuse cancelled work the same way.
	for name, e := range map[string]*Engine{
		"model": newTestEngine(t, &fakeProvider{dimension: 64}),
		"hash":  newTestEngine(t, nil),
	} {
		if _, err := e.Encode(ctx, "نص جديد"); !errors.Is(err, types.ErrTimeout) {
			t.Errorf("%s: Encode() err = %v, want ErrTimeout", name, err)
		}
		if _, err := e.EncodeBatch(ctx, []string{"نص أول", "نص ثان"}); !errors.Is(err, types.ErrTimeout) {
			t.Errorf("%s: EncodeBatch() err = %v, want ErrTimeout", name, err)
		}
	}
}

func TestEncodeResultNotAliased(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	first, err := e.Encode(ctx, "المادة الأولى")
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	want := first[0]
	first[0] = want + 1 // caller scribbles on the returned slice

	second, err := e.Encode(ctx, "المادة الأولى")
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if second[0] != want {
		t.Fatalf("cached vector mutated through caller slice: got %v, want %v", second[0], want)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	first, err := e.Encode(ctx, "المادة 6 تزوير الأختام")
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if len(first) != 64 {
		t.Fatalf("dimension = %d, want 64", len(first))
	}

	// Second call is served from cache and must be bit-identical.
	second, err := e.Encode(ctx, "المادة 6 تزوير الأختام")
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("vector differs at %d: %v != %v", i, first[i], second[i])
		}
	}

	stats := e.Stats()
	if stats.CacheHits != 1 || stats.CacheMisses != 1 {
		t.Errorf("hits=%d misses=%d, want 1/1", stats.CacheHits, stats.CacheMisses)
	}

	// Cache-bypassed path (fresh engine) must agree with the cached one.
	fresh := newTestEngine(t, nil)
	third, err := fresh.Encode(ctx, "المادة 6 تزوير الأختام")
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	for i := range first {
		if first[i] != third[i] {
			t.Fatalf("cache-bypassed vector differs at %d", i)
		}
	}
}

func TestEncodeNormalizationConsistency(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	// Variant spellings normalize to the same text and must share a vector.
	a, _ := e.Encode(ctx, "أحكام  العقوبات")
	b, _ := e.Encode(ctx, "احكام العقوبات")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("normalization-equivalent texts produced different vectors")
		}
	}
	if e.Stats().CacheHits != 1 {
		t.Errorf("second variant should hit the cache")
	}
}

func TestEncodeEmptyText(t *testing.T) {
	e := newTestEngine(t, nil)
	if _, err := e.Encode(context.Background(), "   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
}

func TestEncodeBatchFallbackContinuity(t *testing.T) {
	// Provider dies after the probe call: every mini-batch falls back.
	prov := &fakeProvider{dimension: 64, failFrom: 2} // probe succeeds, then dies
	e := newTestEngine(t, prov)
	if e.Mode() != ModeModel {
		t.Fatal("precondition: engine should be in model mode")
	}

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = "نص قانوني رقم " + string(rune('a'+i))
	}
	vectors, err := e.EncodeBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EncodeBatch() error: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != 64 {
			t.Fatalf("vector %d has dimension %d", i, len(v))
		}
	}
	if e.Stats().FallbackEncodes != int64(len(texts)) {
		t.Errorf("fallback encodes = %d, want %d", e.Stats().FallbackEncodes, len(texts))
	}
}

func TestEncodeBatchPartialFailure(t *testing.T) {
	// First mini-batch (4 texts) succeeds, later ones fail: the batch still
	// returns a vector for every input.
	prov := &fakeProvider{dimension: 64, failFrom: 3} // probe + first mini-batch succeed
	e := newTestEngine(t, prov)

	texts := make([]string, 12)
	for i := range texts {
		texts[i] = "مادة مختلفة " + string(rune('a'+i))
	}
	vectors, err := e.EncodeBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EncodeBatch() error: %v", err)
	}
	if len(vectors) != 12 {
		t.Fatalf("got %d vectors, want 12", len(vectors))
	}

	stats := e.Stats()
	if stats.FallbackEncodes != 8 {
		t.Errorf("fallback encodes = %d, want 8", stats.FallbackEncodes)
	}
}

func TestEncodeBatchUsesCache(t *testing.T) {
	prov := &fakeProvider{dimension: 64}
	e := newTestEngine(t, prov)
	ctx := context.Background()

	texts := []string{"نص اول", "نص ثاني", "نص ثالث"}
	if _, err := e.EncodeBatch(ctx, texts); err != nil {
		t.Fatalf("EncodeBatch() error: %v", err)
	}
	callsAfterFirst := prov.calls.Load()

	if _, err := e.EncodeBatch(ctx, texts); err != nil {
		t.Fatalf("EncodeBatch() error: %v", err)
	}
	if prov.calls.Load() != callsAfterFirst {
		t.Errorf("second batch hit the provider despite warm cache")
	}
}

func TestEncodeBatchRejectsEmptyItem(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.EncodeBatch(context.Background(), []string{"نص", ""})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestClearCache(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	_, _ = e.Encode(ctx, "نص")
	if e.Stats().CacheSize != 1 {
		t.Fatal("expected one cached embedding")
	}
	e.ClearCache()
	if e.Stats().CacheSize != 0 {
		t.Fatal("cache not cleared")
	}
}
