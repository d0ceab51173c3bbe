package apiserver

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/imsearch/retrieval/pkg/hamming"
	"github.com/imsearch/retrieval/pkg/scoring"
)

// addRequest is the body of POST /v1/images: a hex-encoded content
// hash and the image's ORB descriptors, already extracted by the
// caller (descriptor extraction is outside this engine's scope).
type addRequest struct {
	Path        string   `json:"path"`
	Hash        string   `json:"hash"`
	Descriptors []string `json:"descriptors"`
}

type addResponse struct {
	ImageID     uint64 `json:"image_id"`
	Inserted    bool   `json:"inserted"`
	Descriptors int    `json:"descriptors"`
}

// handleAdd handles POST /v1/images.
func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	hash, err := hex.DecodeString(req.Hash)
	if err != nil {
		writeError(w, fmt.Sprintf("invalid hash encoding: %v", err), http.StatusBadRequest)
		return
	}

	codes, err := decodeCodes(req.Descriptors)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(codes) < s.cfg.Pipeline.MinKeypoints {
		writeError(w, fmt.Sprintf("too few descriptors: %d (minimum %d)", len(codes), s.cfg.Pipeline.MinKeypoints), http.StatusUnprocessableEntity)
		return
	}

	if s.store.HashExists(hash) {
		writeJSON(w, addResponse{Inserted: false}, http.StatusOK)
		return
	}

	imageID, firstDescriptorID, err := s.store.InsertImage(hash, req.Path, len(codes))
	if err != nil {
		writeError(w, fmt.Sprintf("insert image failed: %v", err), http.StatusInternalServerError)
		return
	}

	ids := make([]uint64, len(codes))
	for i := range ids {
		ids[i] = firstDescriptorID + uint64(i)
	}
	if err := s.index.Add(codes, ids); err != nil {
		writeError(w, fmt.Sprintf("index add failed: %v", err), http.StatusInternalServerError)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordAdd("ok", len(codes))
	}
	writeJSON(w, addResponse{ImageID: imageID, Inserted: true, Descriptors: len(codes)}, http.StatusCreated)
}

type searchRequest struct {
	Descriptors []string `json:"descriptors"`
	K           int      `json:"k"`
	NProbe      int      `json:"nprobe"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	ImageID uint64  `json:"image_id"`
	Path    string  `json:"path"`
	Score   float64 `json:"score"`
	Hits    int     `json:"hits"`
}

// handleSearch handles POST /v1/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.K <= 0 {
		req.K = 1
	}
	if req.NProbe <= 0 {
		req.NProbe = s.cfg.IVF.NProbe
	}

	codes, err := decodeCodes(req.Descriptors)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if cached, ok := s.cache.Get(codes, req.K, req.NProbe); ok {
		writeJSON(w, s.toSearchResponse(cached), http.StatusOK)
		return
	}

	result, err := s.index.Search(codes, req.K, req.NProbe)
	if err != nil {
		writeError(w, fmt.Sprintf("search failed: %v", err), http.StatusInternalServerError)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordSearchStage("quantize", result.QuantizerTime)
		s.metrics.RecordSearchStage("io", result.IOTime)
		s.metrics.RecordSearchStage("compute", result.ComputeTime)
	}

	ranked, err := scoring.Rank(result.Neighbors, s.store, s.cfg.IVF.MaxDistance)
	if err != nil {
		writeError(w, fmt.Sprintf("ranking failed: %v", err), http.StatusInternalServerError)
		return
	}

	s.cache.Put(codes, req.K, req.NProbe, ranked)
	writeJSON(w, s.toSearchResponse(ranked), http.StatusOK)
}

func (s *Server) toSearchResponse(ranked []scoring.ImageScore) searchResponse {
	resp := searchResponse{Results: make([]searchResult, len(ranked))}
	for i, r := range ranked {
		path, _ := s.store.Path(r.ImageID)
		resp.Results[i] = searchResult{ImageID: r.ImageID, Path: path, Score: r.Score, Hits: r.Hits}
	}
	return resp
}

type statsResponse struct {
	NList           int        `json:"nlist"`
	ImbalanceFactor float64    `json:"imbalance_factor"`
	CacheStats      CacheStats `json:"cache"`
}

// handleStats handles GET /v1/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := statsResponse{
		NList:           s.index.NList(),
		ImbalanceFactor: s.index.Imbalance(),
		CacheStats:      s.cache.Stats(),
	}
	if s.metrics != nil {
		s.metrics.SetImbalanceFactor(resp.ImbalanceFactor)
	}
	writeJSON(w, resp, http.StatusOK)
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func decodeCodes(hexCodes []string) ([]hamming.Code, error) {
	codes := make([]hamming.Code, len(hexCodes))
	for i, s := range hexCodes {
		raw, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("descriptor %d: invalid hex encoding: %w", i, err)
		}
		if len(raw) != hamming.Size {
			return nil, fmt.Errorf("descriptor %d: expected %d bytes, got %d", i, hamming.Size, len(raw))
		}
		copy(codes[i][:], raw)
	}
	return codes, nil
}

func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode response: %v", err), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{"error": message, "status": statusCode})
}
