package apiserver

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/imsearch/retrieval/pkg/config"
	"github.com/imsearch/retrieval/pkg/hamming"
	"github.com/imsearch/retrieval/pkg/invlists"
	"github.com/imsearch/retrieval/pkg/ivf"
	"github.com/imsearch/retrieval/pkg/metastore"
	"github.com/imsearch/retrieval/pkg/quantizer"
)

func randomCodes(n int, seed int64) []hamming.Code {
	r := rand.New(rand.NewSource(seed))
	codes := make([]hamming.Code, n)
	for i := range codes {
		r.Read(codes[i][:])
	}
	return codes
}

func hexCodes(codes []hamming.Code) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = hex.EncodeToString(c[:])
	}
	return out
}

func newTestServer(t *testing.T) (*Server, []hamming.Code) {
	t.Helper()

	centroids := randomCodes(32, 1)
	quant, err := quantizer.Init(centroids, quantizer.DefaultConfig())
	if err != nil {
		t.Fatalf("quantizer.Init failed: %v", err)
	}

	lists := invlists.NewArray(quant.NList())
	index, err := ivf.New(quant, lists)
	if err != nil {
		t.Fatalf("ivf.New failed: %v", err)
	}

	store := metastore.NewInMemory()

	seedCodes := randomCodes(5, 7)
	imageID, firstID, err := store.InsertImage([]byte("seed-hash"), "seed.jpg", len(seedCodes))
	if err != nil {
		t.Fatalf("InsertImage failed: %v", err)
	}
	ids := make([]uint64, len(seedCodes))
	for i := range ids {
		ids[i] = firstID + uint64(i)
	}
	if err := index.Add(seedCodes, ids); err != nil {
		t.Fatalf("index.Add failed: %v", err)
	}
	_ = imageID

	cfg := config.Default()
	cfg.Pipeline.MinKeypoints = 1
	server := NewServer(cfg, index, store, nil, nil)
	return server, seedCodes
}

func TestHandleHealth(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleAddAndDedup(t *testing.T) {
	server, _ := newTestServer(t)
	codes := randomCodes(3, 42)

	body, _ := json.Marshal(addRequest{
		Path:        "photo.jpg",
		Hash:        hex.EncodeToString([]byte("new-hash")),
		Descriptors: hexCodes(codes),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/images", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.handleAdd(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp addResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Inserted || resp.Descriptors != len(codes) {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// Re-adding the same hash should be a no-op.
	req2 := httptest.NewRequest(http.MethodPost, "/v1/images", bytes.NewReader(body))
	rec2 := httptest.NewRecorder()
	server.handleAdd(rec2, req2)

	var resp2 addResponse
	json.Unmarshal(rec2.Body.Bytes(), &resp2)
	if resp2.Inserted {
		t.Fatal("expected the duplicate add to be a no-op")
	}
}

func TestHandleSearchFindsSelf(t *testing.T) {
	server, seedCodes := newTestServer(t)

	body, _ := json.Marshal(searchRequest{
		Descriptors: hexCodes(seedCodes),
		K:           5,
		NProbe:      8,
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.handleSearch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp searchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("expected at least one result for a self-search")
	}
	if resp.Results[0].Path != "seed.jpg" {
		t.Fatalf("expected top result path 'seed.jpg', got %q", resp.Results[0].Path)
	}
}

func TestHandleSearchUsesCacheOnSecondCall(t *testing.T) {
	server, seedCodes := newTestServer(t)

	body, _ := json.Marshal(searchRequest{Descriptors: hexCodes(seedCodes), K: 5, NProbe: 8})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/search", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		server.handleSearch(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i, rec.Code)
		}
	}

	stats := server.cache.Stats()
	if stats.Hits < 1 {
		t.Fatalf("expected the second identical search to hit the cache, stats=%+v", stats)
	}
}

func TestHandleStats(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	rec := httptest.NewRecorder()
	server.handleStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.NList != 32 {
		t.Fatalf("expected nlist 32, got %d", resp.NList)
	}
}

func TestHandleAddRejectsWrongMethod(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/images", nil)
	rec := httptest.NewRecorder()
	server.handleAdd(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
