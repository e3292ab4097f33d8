// Package server exposes the conversion pipeline over HTTP: capture
// uploads, conversion jobs, coverage reports, and manifest generation,
// with generated files kept as downloadable artifacts.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"example.com/swathconv/internal/common"
	"example.com/swathconv/internal/container"
	"example.com/swathconv/internal/coverage"
	"example.com/swathconv/internal/manifest"
	"example.com/swathconv/internal/pipeline"
)

// Server coordinates HTTP handlers and manages temporary artifacts
// produced by conversion requests.
type Server struct {
	artifacts   *ArtifactStore
	workDir     string
	uploadsDir  string
	concurrency int
	compress    bool
}

// Options configures server creation.
type Options struct {
	StorageDir  string
	Concurrency int
	// Compress selects gzip container payloads for converted output.
	Compress bool
}

// Artifact represents a file generated or stored by the daemon.
type Artifact struct {
	ID          string
	Path        string
	Name        string
	ContentType string
	Size        int64
	Kind        string
}

// ArtifactRef is the public representation returned in API responses.
type ArtifactRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// ArtifactStore keeps track of generated artifacts for later download.
type ArtifactStore struct {
	mu      sync.RWMutex
	entries map[string]Artifact
}

// NewServer constructs a Server rooted at a temporary workspace
// directory under the configured storage dir.
func NewServer(opts Options) (*Server, error) {
	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir = os.TempDir()
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(storageDir, "swathd-")
	if err != nil {
		return nil, err
	}
	uploadsDir := filepath.Join(workDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	s := &Server{
		artifacts:   &ArtifactStore{entries: make(map[string]Artifact)},
		workDir:     workDir,
		uploadsDir:  uploadsDir,
		concurrency: concurrency,
		compress:    opts.Compress,
	}
	return s, nil
}

// Close removes any temporary state associated with the server.
func (s *Server) Close() error {
	if s == nil || s.workDir == "" {
		return nil
	}
	return os.RemoveAll(s.workDir)
}

func (s *Server) tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp(s.workDir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}

func (s *Server) addArtifact(path, displayName, contentType, kind string) (Artifact, error) {
	if path == "" {
		return Artifact{}, errors.New("empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, err
	}
	id := uuid.NewString()
	art := Artifact{
		ID:          id,
		Path:        path,
		Name:        displayName,
		ContentType: contentType,
		Size:        info.Size(),
		Kind:        kind,
	}
	if art.Name == "" {
		art.Name = filepath.Base(path)
	}
	if art.ContentType == "" {
		art.ContentType = guessContentType(art.Name)
	}
	s.artifacts.mu.Lock()
	s.artifacts.entries[id] = art
	s.artifacts.mu.Unlock()
	return art, nil
}

func (s *Server) getArtifact(id string) (Artifact, bool) {
	s.artifacts.mu.RLock()
	art, ok := s.artifacts.entries[id]
	s.artifacts.mu.RUnlock()
	return art, ok
}

func (s *Server) resolvePath(token string) (string, error) {
	if token == "" {
		return "", errors.New("empty input path")
	}
	if art, ok := s.getArtifact(token); ok {
		return art.Path, nil
	}
	abs := token
	if !filepath.IsAbs(token) {
		abs = filepath.Clean(token)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", err
	}
	return abs, nil
}

// convertedName maps a source file name to its container display name.
func convertedName(source string) string {
	base := filepath.Base(source)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base + container.Ext
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stream := r.URL.Query().Get("stream") == "true"
	var req struct {
		Inputs   []string `json:"inputs"`
		Compress *bool    `json:"compress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Inputs) == 0 {
		http.Error(w, "inputs required", http.StatusBadRequest)
		return
	}
	compress := s.compress
	if req.Compress != nil {
		compress = *req.Compress
	}

	var writer *NDJSONWriter
	fail := func(status int, format string, args ...any) {
		if stream {
			_ = writer.WriteObject(map[string]any{"type": "error", "error": fmt.Sprintf(format, args...)})
			return
		}
		http.Error(w, fmt.Sprintf(format, args...), status)
	}
	if stream {
		writer = NewNDJSONWriter(w)
		w.Header().Set("Content-Type", "application/x-ndjson")
	}

	type fileSummary struct {
		Source      string        `json:"source"`
		Format      string        `json:"format"`
		Pings       int           `json:"pings"`
		Soundings   int           `json:"soundings"`
		Diagnostics int           `json:"diagnostics"`
		Container   ArtifactRef   `json:"container"`
		Artifacts   []ArtifactRef `json:"artifacts,omitempty"`
	}
	var summaries []fileSummary
	totalDiags := 0
	for _, in := range req.Inputs {
		src, err := s.resolvePath(in)
		if err != nil {
			fail(http.StatusBadRequest, "input resolve %s: %v", in, err)
			return
		}
		res, err := pipeline.Convert(r.Context(), src, pipeline.Options{Compress: compress})
		if err != nil {
			fail(http.StatusBadRequest, "convert %s: %v", in, err)
			return
		}
		if stream {
			for _, d := range res.Diagnostics {
				if err := writer.WriteDiagnostic(d); err != nil {
					return
				}
			}
		}
		outPath, err := s.tempPath("converted-*" + container.Ext)
		if err != nil {
			fail(http.StatusInternalServerError, "container temp: %v", err)
			return
		}
		if err := container.Save(outPath, res.Model, compress); err != nil {
			fail(http.StatusInternalServerError, "write container: %v", err)
			return
		}
		diagPath, err := s.tempPath("diagnostics-*.ndjson")
		if err != nil {
			fail(http.StatusInternalServerError, "diagnostics temp: %v", err)
			return
		}
		if err := writeDiagnosticsNDJSON(diagPath, res.Diagnostics); err != nil {
			fail(http.StatusInternalServerError, "write diagnostics: %v", err)
			return
		}
		contArt, err := s.addArtifact(outPath, convertedName(src), "application/octet-stream", "container")
		if err != nil {
			fail(http.StatusInternalServerError, "register container: %v", err)
			return
		}
		diagArt, err := s.addArtifact(diagPath, "diagnostics.ndjson", "application/x-ndjson", "diagnostics")
		if err != nil {
			fail(http.StatusInternalServerError, "register diagnostics: %v", err)
			return
		}
		totalDiags += len(res.Diagnostics)
		summaries = append(summaries, fileSummary{
			Source:      filepath.Base(src),
			Format:      string(res.Model.Meta.Format),
			Pings:       len(res.Model.Pings),
			Soundings:   res.Model.SoundingCount(),
			Diagnostics: len(res.Diagnostics),
			Container:   toRef(contArt),
			Artifacts:   []ArtifactRef{toRef(diagArt)},
		})
	}

	common.Logf("convert: %d file(s), %d diagnostic(s)", len(summaries), totalDiags)
	if stream {
		_ = writer.WriteObject(struct {
			Type        string        `json:"type"`
			Files       []fileSummary `json:"files"`
			Diagnostics int           `json:"diagnostics"`
		}{Type: "summary", Files: summaries, Diagnostics: totalDiags})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Files       []fileSummary `json:"files"`
		Diagnostics int           `json:"diagnostics"`
	}{Files: summaries, Diagnostics: totalDiags})
}

func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Inputs []string `json:"inputs"`
		PDF    bool     `json:"pdf"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Inputs) == 0 {
		http.Error(w, "inputs required", http.StatusBadRequest)
		return
	}
	agg := coverage.NewAggregator()
	var sources []coverage.SourceInfo
	for _, in := range req.Inputs {
		path, err := s.resolvePath(in)
		if err != nil {
			http.Error(w, fmt.Sprintf("input resolve %s: %v", in, err), http.StatusBadRequest)
			return
		}
		model, err := container.Load(path)
		if err != nil {
			http.Error(w, fmt.Sprintf("load container %s: %v", in, err), http.StatusBadRequest)
			return
		}
		agg.AddModel(model)
		info := coverage.SourceInfo{
			Name:      model.Meta.SourceName,
			Format:    model.Meta.Format,
			Pings:     len(model.Pings),
			Soundings: model.SoundingCount(),
		}
		if hex, _, err := common.Sha256OfFile(path); err == nil {
			info.Sha256 = hex
		}
		sources = append(sources, info)
	}
	rep := coverage.BuildReport(sources, agg)

	jsonPath, err := s.tempPath("coverage-*.json")
	if err != nil {
		http.Error(w, fmt.Sprintf("coverage temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := coverage.SaveReportJSON(rep, jsonPath); err != nil {
		http.Error(w, fmt.Sprintf("write coverage: %v", err), http.StatusInternalServerError)
		return
	}
	jsonArt, err := s.addArtifact(jsonPath, "coverage.json", "application/json", "coverage")
	if err != nil {
		http.Error(w, fmt.Sprintf("register coverage: %v", err), http.StatusInternalServerError)
		return
	}
	artifacts := []ArtifactRef{toRef(jsonArt)}
	if req.PDF {
		pdfPath, err := s.tempPath("coverage-*.pdf")
		if err != nil {
			http.Error(w, fmt.Sprintf("coverage pdf temp: %v", err), http.StatusInternalServerError)
			return
		}
		if err := coverage.SaveCoveragePDF(rep, pdfPath); err != nil {
			http.Error(w, fmt.Sprintf("write coverage pdf: %v", err), http.StatusInternalServerError)
			return
		}
		pdfArt, err := s.addArtifact(pdfPath, "coverage.pdf", "application/pdf", "coverage")
		if err != nil {
			http.Error(w, fmt.Sprintf("register coverage pdf: %v", err), http.StatusInternalServerError)
			return
		}
		artifacts = append(artifacts, toRef(pdfArt))
	}
	common.Logf("coverage: %d source(s), %d group(s)", len(rep.Sources), len(rep.Groups))
	writeJSON(w, http.StatusOK, struct {
		Report    coverage.Report `json:"report"`
		Artifacts []ArtifactRef   `json:"artifacts"`
	}{Report: rep, Artifacts: artifacts})
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Inputs  []string `json:"inputs"`
		ShaAlgo string   `json:"shaAlgo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Inputs) == 0 {
		http.Error(w, "inputs required", http.StatusBadRequest)
		return
	}
	if req.ShaAlgo != "" && !strings.EqualFold(req.ShaAlgo, "sha256") {
		http.Error(w, "only sha256 supported", http.StatusBadRequest)
		return
	}
	var paths []string
	for _, in := range req.Inputs {
		resolved, err := s.resolvePath(in)
		if err != nil {
			http.Error(w, fmt.Sprintf("resolve %s: %v", in, err), http.StatusBadRequest)
			return
		}
		paths = append(paths, resolved)
	}
	m, err := manifest.Build(paths)
	if err != nil {
		http.Error(w, fmt.Sprintf("build manifest: %v", err), http.StatusInternalServerError)
		return
	}
	outPath, err := s.tempPath("manifest-*.json")
	if err != nil {
		http.Error(w, fmt.Sprintf("manifest temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := manifest.Save(m, outPath); err != nil {
		http.Error(w, fmt.Sprintf("write manifest: %v", err), http.StatusInternalServerError)
		return
	}
	art, err := s.addArtifact(outPath, "manifest.json", "application/json", "manifest")
	if err != nil {
		http.Error(w, fmt.Sprintf("register manifest: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Manifest manifest.Manifest `json:"manifest"`
		Artifact ArtifactRef       `json:"artifact"`
	}{Manifest: m, Artifact: toRef(art)})
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, []string{"kmall", "all"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/artifacts/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	art, ok := s.getArtifact(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, fmt.Sprintf("stat artifact: %v", err), http.StatusInternalServerError)
		return
	}
	if art.ContentType != "" {
		w.Header().Set("Content-Type", art.ContentType)
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	disposition := fmt.Sprintf("attachment; filename=\"%s\"", art.Name)
	w.Header().Set("Content-Disposition", disposition)
	io.Copy(w, f)
}

func toRef(art Artifact) ArtifactRef {
	return ArtifactRef{
		ID:          art.ID,
		Name:        art.Name,
		ContentType: art.ContentType,
		Size:        art.Size,
		Kind:        art.Kind,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func guessContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".ndjson":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".kmall", ".all", ".swc":
		return "application/octet-stream"
	default:
		return "application/octet-stream"
	}
}

func (s *Server) listArtifacts() []ArtifactRef {
	s.artifacts.mu.RLock()
	refs := make([]ArtifactRef, 0, len(s.artifacts.entries))
	for _, art := range s.artifacts.entries {
		refs = append(refs, toRef(art))
	}
	s.artifacts.mu.RUnlock()
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs
}
