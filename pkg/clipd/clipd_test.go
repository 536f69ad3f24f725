package clipd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embed/images", func(w http.ResponseWriter, r *http.Request) {
		var req embedImagesReq
		json.NewDecoder(r.Body).Decode(&req)
		out := embedResp{Embeddings: make([][]float32, len(req.Images))}
		for i := range out.Embeddings {
			v := make([]float32, dims)
			v[0] = 1
			out.Embeddings[i] = v
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/v1/embed/texts", func(w http.ResponseWriter, r *http.Request) {
		var req embedTextsReq
		json.NewDecoder(r.Body).Decode(&req)
		out := embedResp{Embeddings: make([][]float32, len(req.Texts))}
		for i := range out.Embeddings {
			v := make([]float32, dims)
			v[1] = 1
			out.Embeddings[i] = v
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/v1/score/images", func(w http.ResponseWriter, r *http.Request) {
		var req embedImagesReq
		json.NewDecoder(r.Body).Decode(&req)
		out := scoreResp{
			Aesthetic: make([]float64, len(req.Images)),
			Quality:   make([]float64, len(req.Images)),
		}
		for i := range out.Aesthetic {
			out.Aesthetic[i] = 3.5
			out.Quality[i] = 4.0
		}
		json.NewEncoder(w).Encode(out)
	})
	return httptest.NewServer(mux)
}

func TestEmbedImages(t *testing.T) {
	srv := newTestServer(t, 8)
	defer srv.Close()
	c := New(Opts{BaseURL: srv.URL, Dims: 8})

	vecs, err := c.EmbedImages(context.Background(), [][]byte{[]byte("img1"), []byte("img2")})
	if err != nil {
		t.Fatalf("embed images: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 8 {
		t.Fatalf("unexpected shape: %d x %d", len(vecs), len(vecs[0]))
	}
}

func TestEmbedTexts_EmptyStringIsValid(t *testing.T) {
	srv := newTestServer(t, 8)
	defer srv.Close()
	c := New(Opts{BaseURL: srv.URL, Dims: 8})

	vecs, err := c.EmbedTexts(context.Background(), []string{"studio shot", ""})
	if err != nil {
		t.Fatalf("embed texts: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("got %d embeddings, want 2", len(vecs))
	}
}

func TestEmbed_DimMismatch(t *testing.T) {
	srv := newTestServer(t, 8)
	defer srv.Close()
	c := New(Opts{BaseURL: srv.URL, Dims: 16})

	if _, err := c.EmbedTexts(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestEmbed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := New(Opts{BaseURL: srv.URL, Dims: 8})

	if _, err := c.EmbedTexts(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error for status 500")
	}
}

func TestScoreImages(t *testing.T) {
	srv := newTestServer(t, 8)
	defer srv.Close()
	c := New(Opts{BaseURL: srv.URL, Dims: 8})

	aes, qual, err := c.ScoreImages(context.Background(), [][]byte{[]byte("img")})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if len(aes) != 1 || len(qual) != 1 {
		t.Fatalf("unexpected score counts: %d, %d", len(aes), len(qual))
	}
	if aes[0] != 3.5 || qual[0] != 4.0 {
		t.Fatalf("scores = %v, %v", aes[0], qual[0])
	}
}
