package openai

import "testing"

func TestModelDimensions_TextEmbedding3Small(t *testing.T) {
	if got := modelDimensions("text-embedding-3-small"); got != 1536 {
		t.Errorf("expected 1536, got %d", got)
	}
}

func TestModelDimensions_TextEmbedding3Large(t *testing.T) {
	if got := modelDimensions("text-embedding-3-large"); got != 3072 {
		t.Errorf("expected 3072, got %d", got)
	}
}

func TestModelDimensions_Ada002(t *testing.T) {
	if got := modelDimensions("text-embedding-ada-002"); got != 1536 {
		t.Errorf("expected 1536, got %d", got)
	}
}

func TestModelDimensions_Unknown(t *testing.T) {
	if got := modelDimensions("some-future-model"); got != 1536 {
		t.Errorf("expected 1536 default, got %d", got)
	}
}

func TestNew_DefaultModel(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("expected default model %q, got %q", DefaultModel, p.ModelID())
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	_, err := New("", "text-embedding-3-small")
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestFloat64ToFloat32(t *testing.T) {
	in := []float64{0.5, -1.25, 0}
	out := float64ToFloat32(in)
	if len(out) != 3 {
		t.Fatalf("expected 3 values, got %d", len(out))
	}
	for i := range in {
		if float64(out[i]) != in[i] {
			t.Errorf("index %d: expected %f, got %f", i, in[i], out[i])
		}
	}
}
