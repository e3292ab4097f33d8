package server

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example.com/swathconv/internal/container"
	"example.com/swathconv/internal/swath"
)

// capturePing writes one single-partition modern sounding record.
func capturePing(counter uint16, timeSec uint32, nbeams int) []byte {
	le16 := binary.LittleEndian.AppendUint16
	le32 := binary.LittleEndian.AppendUint32
	lef32 := func(b []byte, v float32) []byte {
		return binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
	}
	lef64 := func(b []byte, v float64) []byte {
		return binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
	}

	body := le16(nil, 1) // numOfDgms
	body = le16(body, 1) // dgmNum
	body = le16(body, 6)
	body = le16(body, counter)
	body = append(body, 1, 0)
	body = le16(body, 50)
	body = lef64(body, 59.5)
	body = lef64(body, 10.75)
	for _, f := range []float32{90, 1500, 5, 0, 0, 0} {
		body = lef32(body, f)
	}
	body = append(body, byte(swath.PingModeShallow), byte(swath.PulseFormCW), byte(swath.SwathModeSingle), 0)
	body = lef32(body, 300_000)
	body = le16(body, uint16(nbeams))
	body = le16(body, 0)
	for i := 0; i < nbeams; i++ {
		body = lef32(body, float32(i*4)-30)
		body = lef32(body, 0.15)
		body = append(body, 0, 6)
		body = le16(body, 0)
		body = lef32(body, -22)
	}

	total := uint32(24 + len(body))
	out := le32(nil, total)
	out = append(out, "#MRZ"...)
	out = append(out, 0, 0)
	out = le16(out, 2040)
	out = le32(out, timeSec)
	out = le32(out, 0)
	out = append(out, body...)
	return le32(out, total)
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(Options{StorageDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	router, err := NewRouter(s)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return s, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, raw)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func uploadCapture(t *testing.T, baseURL, name string, data []byte) ArtifactRef {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()
	resp, err := http.Post(baseURL+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	var out struct {
		Files []ArtifactRef `json:"files"`
	}
	decodeJSON(t, resp, &out)
	if len(out.Files) != 1 {
		t.Fatalf("uploaded files = %d, want 1", len(out.Files))
	}
	return out.Files[0]
}

func TestConvertEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	capture := append(capturePing(1, 100, 16), capturePing(2, 101, 16)...)
	ref := uploadCapture(t, ts.URL, "line1.kmall", capture)

	resp := postJSON(t, ts.URL+"/convert", map[string]any{"inputs": []string{ref.ID}})
	var out struct {
		Files []struct {
			Source      string        `json:"source"`
			Format      string        `json:"format"`
			Pings       int           `json:"pings"`
			Soundings   int           `json:"soundings"`
			Diagnostics int           `json:"diagnostics"`
			Container   ArtifactRef   `json:"container"`
			Artifacts   []ArtifactRef `json:"artifacts"`
		} `json:"files"`
		Diagnostics int `json:"diagnostics"`
	}
	decodeJSON(t, resp, &out)
	if len(out.Files) != 1 {
		t.Fatalf("files = %d, want 1", len(out.Files))
	}
	f := out.Files[0]
	if f.Format != "kmall" || f.Pings != 2 || f.Soundings != 32 {
		t.Fatalf("summary = %+v", f)
	}
	if f.Diagnostics != 0 || out.Diagnostics != 0 {
		t.Fatalf("unexpected diagnostics in %+v", out)
	}
	if !strings.HasSuffix(f.Container.Name, ".swc") {
		t.Fatalf("container name = %q", f.Container.Name)
	}

	// The container artifact must download and decode.
	dl, err := http.Get(ts.URL + "/artifacts/" + f.Container.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != http.StatusOK {
		t.Fatalf("download status %d", dl.StatusCode)
	}
	raw, err := io.ReadAll(dl.Body)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	path := filepath.Join(t.TempDir(), "line1.swc")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write container: %v", err)
	}
	model, err := container.Load(path)
	if err != nil {
		t.Fatalf("Load downloaded container: %v", err)
	}
	if len(model.Pings) != 2 {
		t.Fatalf("downloaded container pings = %d, want 2", len(model.Pings))
	}
}

func TestConvertEndpointStreaming(t *testing.T) {
	_, ts := newTestServer(t)
	ref := uploadCapture(t, ts.URL, "line1.kmall", capturePing(1, 100, 8))

	resp := postJSON(t, ts.URL+"/convert?stream=true", map[string]any{"inputs": []string{ref.ID}})
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type = %q", ct)
	}

	var last map[string]any
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		last = nil
		if err := json.Unmarshal([]byte(line), &last); err != nil {
			t.Fatalf("bad ndjson line %q: %v", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if last == nil || last["type"] != "summary" {
		t.Fatalf("final stream object = %v, want summary", last)
	}
}

func TestConvertEndpointRejectsBadInput(t *testing.T) {
	_, ts := newTestServer(t)
	resp := postJSON(t, ts.URL+"/convert", map[string]any{"inputs": []string{"/no/such/file.kmall"}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/convert", map[string]any{"inputs": []string{}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty inputs status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadRejectsUnknownContent(t *testing.T) {
	_, ts := newTestServer(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write([]byte("these are not soundings"))
	mw.Close()
	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadDetectsFormat(t *testing.T) {
	_, ts := newTestServer(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "line1.kmall")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write(capturePing(1, 100, 4))
	mw.Close()
	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	var out struct {
		Files []struct {
			Kind   string `json:"kind"`
			Format string `json:"format"`
		} `json:"files"`
	}
	decodeJSON(t, resp, &out)
	if len(out.Files) != 1 || out.Files[0].Format != "kmall" || out.Files[0].Kind != "capture" {
		t.Fatalf("upload response = %+v", out.Files)
	}
}

func TestCoverageEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	dir := t.TempDir()
	swc := filepath.Join(dir, "line1.swc")
	model := &swath.Model{
		Meta: swath.Meta{SourceName: "line1.kmall", Format: swath.FormatModern},
		Pings: []swath.LogicalPing{
			{
				PingMode:    swath.PingModeShallow,
				FrequencyHz: 300_000,
				Soundings: []swath.Sounding{
					{AcrossM: -100, DepthM: 80, Valid: true},
					{AcrossM: 95, DepthM: 78, Valid: true},
				},
			},
		},
	}
	if err := container.Save(swc, model, false); err != nil {
		t.Fatalf("Save: %v", err)
	}

	resp := postJSON(t, ts.URL+"/coverage", map[string]any{"inputs": []string{swc}, "pdf": true})
	var out struct {
		Report struct {
			Sources []struct {
				Name   string `json:"name"`
				Sha256 string `json:"sha256"`
			} `json:"sources"`
			Groups []struct {
				MeanWidthM float64 `json:"meanWidthM"`
			} `json:"groups"`
		} `json:"report"`
		Artifacts []ArtifactRef `json:"artifacts"`
	}
	decodeJSON(t, resp, &out)
	if len(out.Report.Sources) != 1 || out.Report.Sources[0].Name != "line1.kmall" {
		t.Fatalf("sources = %+v", out.Report.Sources)
	}
	if out.Report.Sources[0].Sha256 == "" {
		t.Fatalf("source digest missing")
	}
	if len(out.Report.Groups) != 1 || out.Report.Groups[0].MeanWidthM != 195 {
		t.Fatalf("groups = %+v", out.Report.Groups)
	}
	if len(out.Artifacts) != 2 {
		t.Fatalf("artifacts = %+v, want json and pdf", out.Artifacts)
	}
}

func TestManifestEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	dir := t.TempDir()
	capture := filepath.Join(dir, "line1.kmall")
	if err := os.WriteFile(capture, capturePing(1, 100, 4), 0o644); err != nil {
		t.Fatalf("write capture: %v", err)
	}

	resp := postJSON(t, ts.URL+"/manifest", map[string]any{"inputs": []string{capture}})
	var out struct {
		Manifest struct {
			ShaAlgo string `json:"shaAlgo"`
			Items   []struct {
				Path   string `json:"path"`
				Sha256 string `json:"sha256"`
				Type   string `json:"type"`
			} `json:"items"`
		} `json:"manifest"`
		Artifact ArtifactRef `json:"artifact"`
	}
	decodeJSON(t, resp, &out)
	if len(out.Manifest.Items) != 1 {
		t.Fatalf("items = %+v", out.Manifest.Items)
	}
	item := out.Manifest.Items[0]
	if item.Type != "capture" || len(item.Sha256) != 64 {
		t.Fatalf("item = %+v", item)
	}
	if out.Artifact.ID == "" {
		t.Fatalf("manifest artifact not registered")
	}

	bad := postJSON(t, ts.URL+"/manifest", map[string]any{"inputs": []string{capture}, "shaAlgo": "md5"})
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("md5 status = %d, want 400", bad.StatusCode)
	}
}

func TestFormatsAndHealth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/formats")
	if err != nil {
		t.Fatalf("GET /formats: %v", err)
	}
	var formats []string
	decodeJSON(t, resp, &formats)
	if len(formats) != 2 || formats[0] != "kmall" || formats[1] != "all" {
		t.Fatalf("formats = %v", formats)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	var health map[string]string
	decodeJSON(t, resp, &health)
	if health["status"] != "ok" {
		t.Fatalf("health = %v", health)
	}
}

func TestArtifactListAndDownload(t *testing.T) {
	_, ts := newTestServer(t)
	ref := uploadCapture(t, ts.URL, "line1.kmall", capturePing(1, 100, 4))

	resp, err := http.Get(ts.URL + "/artifacts")
	if err != nil {
		t.Fatalf("GET /artifacts: %v", err)
	}
	var refs []ArtifactRef
	decodeJSON(t, resp, &refs)
	if len(refs) != 1 || refs[0].ID != ref.ID {
		t.Fatalf("artifact list = %+v", refs)
	}

	missing, err := http.Get(ts.URL + "/artifacts/" + "does-not-exist")
	if err != nil {
		t.Fatalf("GET missing artifact: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing artifact status = %d, want 404", missing.StatusCode)
	}

	dl, err := http.Get(ts.URL + "/artifacts/" + ref.ID)
	if err != nil {
		t.Fatalf("download upload: %v", err)
	}
	defer dl.Body.Close()
	if cd := dl.Header.Get("Content-Disposition"); !strings.Contains(cd, "line1.kmall") {
		t.Fatalf("content disposition = %q", cd)
	}
	raw, err := io.ReadAll(dl.Body)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if !bytes.Equal(raw, capturePing(1, 100, 4)) {
		t.Fatalf("downloaded upload differs from original (%d bytes)", len(raw))
	}
}
