package main

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/Ratio1/ratio1_records_go/internal/devseed"
	"github.com/Ratio1/ratio1_records_go/pkg/cstore/mock"
	"github.com/Ratio1/ratio1_records_go/pkg/model"
)

const (
	maxChunkMemory = 32 << 20
	// defaultMaxUpload bounds the reassembled size of one upload.
	defaultMaxUpload int64 = 64 << 20
)

type upload struct {
	data   []byte
	chunks int
}

type server struct {
	logger    *slog.Logger
	mux       *http.ServeMux
	maxUpload int64

	mu      sync.RWMutex
	records map[string]map[string]map[string]any
	uploads map[string]*upload
}

func newServer(seed []devseed.RecordSeedEntry, kv *mock.Mock, maxUpload int64, logger *slog.Logger) *server {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	s := &server{
		logger:    logger,
		mux:       http.NewServeMux(),
		maxUpload: maxUpload,
		records:   make(map[string]map[string]map[string]any),
		uploads:   make(map[string]*upload),
	}
	for _, entry := range seed {
		s.put(entry.Path, recordID(entry.ID), entry.Data)
	}

	s.mux.HandleFunc("GET /api/{collection}/{id}", s.handleGetRecord)
	s.mux.HandleFunc("PUT /api/{collection}/{id}", s.handlePutRecord)
	s.mux.HandleFunc("POST /api/uploads/{name}", s.handleChunk)
	s.mux.HandleFunc("GET /api/uploads/{name}/status", s.handleUploadStatus)
	s.mux.Handle("/cstore/", http.StripPrefix("/cstore", mock.Handler(kv)))
	return s
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// recordID encodes seed id parts the way models encode identities.
func recordID(parts []any) string {
	if len(parts) == 1 {
		return fmt.Sprint(parts[0])
	}
	return model.EncodeCompositeID(parts)
}

func (s *server) put(collection, id string, data map[string]any) map[string]any {
	collection = strings.Trim(collection, "/")
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.records[collection]
	if byID == nil {
		byID = make(map[string]map[string]any)
		s.records[collection] = byID
	}
	merged := make(map[string]any, len(byID[id])+len(data))
	maps.Copy(merged, byID[id])
	maps.Copy(merged, data)
	byID[id] = merged
	return maps.Clone(merged)
}

func (s *server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	record, ok := s.records[r.PathValue("collection")][r.PathValue("id")]
	if ok {
		record = maps.Clone(record)
	}
	s.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "record not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": record})
}

func (s *server) handlePutRecord(w http.ResponseWriter, r *http.Request) {
	var values map[string]any
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	record := s.put(r.PathValue("collection"), r.PathValue("id"), values)
	writeJSON(w, http.StatusOK, map[string]any{"data": record})
}

func (s *server) handleChunk(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxChunkMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	offset, err := strconv.ParseInt(r.FormValue("offset"), 10, 64)
	if err != nil || offset < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid offset"})
		return
	}
	var payload []byte
	for _, files := range r.MultipartForm.File {
		if len(files) == 0 {
			continue
		}
		f, err := files[0].Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		payload, err = io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		break
	}

	end := offset + int64(len(payload))
	if offset > s.maxUpload || end > s.maxUpload {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
			"error": fmt.Sprintf("upload exceeds %d bytes", s.maxUpload),
		})
		return
	}

	name := r.PathValue("name")
	s.mu.Lock()
	up := s.uploads[name]
	if up == nil {
		up = &upload{}
		s.uploads[name] = up
	}
	if end > int64(len(up.data)) {
		grown := make([]byte, end)
		copy(grown, up.data)
		up.data = grown
	}
	copy(up.data[offset:], payload)
	up.chunks++
	size := len(up.data)
	s.mu.Unlock()

	s.logger.Debug("chunk stored", "upload", name, "offset", offset, "size", len(payload))
	writeJSON(w, http.StatusOK, map[string]any{"result": map[string]any{"offset": offset, "size": size}})
}

func (s *server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.mu.RLock()
	up := s.uploads[name]
	var (
		sum    [sha1.Size]byte
		size   int
		chunks int
	)
	if up != nil {
		sum = sha1.Sum(up.data)
		size, chunks = len(up.data), up.chunks
	}
	s.mu.RUnlock()
	if up == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "upload not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": map[string]any{
		"name":   name,
		"size":   size,
		"chunks": chunks,
		"sha1":   hex.EncodeToString(sum[:]),
	}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
