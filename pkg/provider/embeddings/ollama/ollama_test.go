package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newEmbedServer creates a test server that responds to POST /api/embed with
// the given vectors. It records the last request body into *lastReq if non-nil.
func newEmbedServer(t *testing.T, vectors [][]float32, lastReq *embedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/embed" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if lastReq != nil {
			if err := json.NewDecoder(r.Body).Decode(lastReq); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(embedResponse{Model: "test", Embeddings: vectors})
	}))
}

func TestNew_EmptyModel(t *testing.T) {
	_, err := New("", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_DefaultBaseURL(t *testing.T) {
	p, err := New("", "nomic-embed-text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.baseURL != DefaultBaseURL {
		t.Errorf("expected default base URL %q, got %q", DefaultBaseURL, p.baseURL)
	}
}

func TestEmbed_Single(t *testing.T) {
	var req embedRequest
	srv := newEmbedServer(t, [][]float32{{0.1, 0.2, 0.3}}, &req)
	defer srv.Close()

	p, _ := New(srv.URL, "nomic-embed-text")
	vec, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("expected 3 dims, got %d", len(vec))
	}
	if req.Model != "nomic-embed-text" {
		t.Errorf("expected model forwarded, got %q", req.Model)
	}
	if len(req.Input) != 1 || req.Input[0] != "hello" {
		t.Errorf("expected input [hello], got %v", req.Input)
	}
}

func TestDimensions_KnownModels(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"nomic-embed-text", 768},
		{"mxbai-embed-large", 1024},
		{"all-minilm", 384},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			p, _ := New("http://localhost:1", tt.model)
			if got := p.Dimensions(); got != tt.want {
				t.Errorf("%s: expected %d, got %d", tt.model, tt.want, got)
			}
		})
	}
}

func TestDimensions_AutoDetect(t *testing.T) {
	srv := newEmbedServer(t, [][]float32{{0, 0, 0, 0, 0}}, nil)
	defer srv.Close()

	p, _ := New(srv.URL, "mystery-model")
	if got := p.Dimensions(); got != 5 {
		t.Errorf("expected probed dimension 5, got %d", got)
	}
}

func TestDimensions_WithDimensionsOption(t *testing.T) {
	p, _ := New("http://localhost:1", "mystery-model", WithDimensions(42))
	if got := p.Dimensions(); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestModelID(t *testing.T) {
	p, _ := New("", "nomic-embed-text")
	if got := p.ModelID(); got != "nomic-embed-text" {
		t.Errorf("expected nomic-embed-text, got %q", got)
	}
}

func TestEmbed_ServerDown(t *testing.T) {
	srv := newEmbedServer(t, nil, nil)
	srv.Close()

	p, _ := New(srv.URL, "nomic-embed-text")
	if _, err := p.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}

func TestEmbed_BadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := New(srv.URL, "nomic-embed-text")
	if _, err := p.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

func TestEmbed_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	p, _ := New(srv.URL, "nomic-embed-text")
	if _, err := p.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestEmbed_ContextCancelled(t *testing.T) {
	srv := newEmbedServer(t, [][]float32{{1}}, nil)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, _ := New(srv.URL, "nomic-embed-text")
	if _, err := p.Embed(ctx, "hello"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
