package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"kjandoc-demoware/core/executor"
	"kjandoc-demoware/core/models"
	"kjandoc-demoware/core/monitoring"
	"kjandoc-demoware/core/repository"
	"kjandoc-demoware/storage"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type server struct {
	*httptest.Server
	exec      *executor.MergeExecutor
	uploads   *storage.UploadStore
	outputDir string
}

func newServer(t *testing.T) *server {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("merge tool stand-in is a shell script")
	}

	root := t.TempDir()
	webDir := filepath.Join(root, "web")
	outputDir := filepath.Join(root, "output")
	binDir := filepath.Join(root, "bin")
	for _, dir := range []string{webDir, outputDir, binDir} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(webDir, "index.html"), []byte("<h1>demoware</h1>"), 0o644))

	tool := filepath.Join(binDir, "kjandoc")
	require.NoError(t, os.WriteFile(tool, []byte(`#!/bin/sh
for a; do out=$a; done
echo "kjandoc: wrote $out"
printf merged > "$out"
`), 0o755))

	logger, _ := test.NewNullLogger()
	registry := repository.NewJobRegistry()
	uploads := storage.NewUploadStore(filepath.Join(root, "uploads"), logger)
	exec := executor.NewMergeExecutor(registry, uploads, executor.Config{
		OutputDir: outputDir,
		Timeout:   time.Minute,
		Binaries: map[models.MergeMode]string{
			models.MergeModeRender:       tool,
			models.MergeModeSameTemplate: filepath.Join(binDir, "kjandoc-st"),
		},
	}, logger)

	r := mux.NewRouter()
	SetupRoutes(r, Dependencies{
		Uploads:     uploads,
		Executor:    exec,
		Metrics:     monitoring.NewMetricsExporter(registry),
		Logger:      logger,
		WebDir:      webDir,
		OutputDir:   outputDir,
		CORSOrigins: "*",
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &server{Server: srv, exec: exec, uploads: uploads, outputDir: outputDir}
}

func (s *server) upload(t *testing.T, jobID, name string, body []byte) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.URL+"/api/upload", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Job-Id", jobID)
	req.Header.Set("X-Filename", name)
	return do(t, req)
}

func (s *server) merge(t *testing.T, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.URL+"/api/merge", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return do(t, req)
}

func (s *server) status(t *testing.T, jobID string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.URL+"/api/status/"+jobID, nil)
	require.NoError(t, err)
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestUploadMergeStatusFlow(t *testing.T) {
	s := newServer(t)

	resp, body := s.upload(t, "abc", "slides.pptx", bytes.Repeat([]byte("p"), 1024))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "slides.pptx", body["file"])

	resp, body = s.merge(t, `{"job_id":"abc","files":["slides.pptx"],"mode":"render"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "abc", body["job_id"])
	output, _ := body["output"].(string)
	assert.Regexp(t, `^\d+_[0-9a-f]{8}\.pptx$`, output)
	assert.Equal(t, "kjandoc slides.pptx -o output/"+output, body["command"])

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.exec.Wait(ctx))

	resp, body = s.status(t, "abc")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "done", body["status"])
	assert.Equal(t, output, body["output"])
	assert.Contains(t, body["log"], "kjandoc: wrote")
	assert.NoDirExists(t, s.uploads.SessionDir("abc"))

	artifact, err := http.Get(s.URL + "/output/" + output)
	require.NoError(t, err)
	defer artifact.Body.Close()
	data, _ := io.ReadAll(artifact.Body)
	assert.Equal(t, http.StatusOK, artifact.StatusCode)
	assert.Equal(t, "merged", string(data))
}

func TestUploadErrors(t *testing.T) {
	s := newServer(t)

	resp, body := s.upload(t, "", "a.pptx", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "missing-headers", body["code"])

	resp, body = s.upload(t, "abc", "a.pptx", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "empty-file", body["code"])

	resp, body = s.upload(t, "abc", "a.docx", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "wrong-extension", body["code"])
	assert.Equal(t, "not a .pptx file", body["error"])

	resp, body = s.upload(t, "..", "a.pptx", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid-job-id", body["code"])
}

func TestUploadAcceptsPut(t *testing.T) {
	s := newServer(t)

	req, err := http.NewRequest(http.MethodPut, s.URL+"/api/upload", bytes.NewBufferString("deck"))
	require.NoError(t, err)
	req.Header.Set("X-Job-Id", "abc")
	req.Header.Set("X-Filename", "..%2F..%2Fdeck.pptx")
	resp, body := do(t, req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "deck.pptx", body["file"])
	assert.FileExists(t, s.uploads.FilePath("abc", "deck.pptx"))
}

func TestMergeErrors(t *testing.T) {
	s := newServer(t)
	resp, _ := s.upload(t, "abc", "a.pptx", []byte("x"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cases := []struct {
		body   string
		status int
		code   string
	}{
		{`{"job_id":`, http.StatusBadRequest, "bad-json"},
		{`{"job_id":"abc","files":[]}`, http.StatusBadRequest, "missing-fields"},
		{`{"job_id":"nope","files":["a.pptx"]}`, http.StatusBadRequest, "upload-dir-missing"},
		{`{"job_id":"abc","files":["a.pptx"],"mode":"fast"}`, http.StatusBadRequest, "invalid-mode"},
		{`{"job_id":"abc","files":["a.pptx"],"mode":""}`, http.StatusBadRequest, "invalid-mode"},
		{`{"job_id":"abc","files":["."]}`, http.StatusBadRequest, "file-not-found"},
		{`{"job_id":"abc","files":["../a.pptx"]}`, http.StatusBadRequest, "bad-filename"},
		{`{"job_id":"abc","files":["a\\b.pptx"]}`, http.StatusBadRequest, "bad-filename"},
		{`{"job_id":"abc","files":["b.pptx"]}`, http.StatusBadRequest, "file-not-found"},
		{`{"job_id":"abc","files":["a.pptx"],"mode":"same-template"}`, http.StatusInternalServerError, "binary-unavailable"},
	}
	for _, tc := range cases {
		resp, body := s.merge(t, tc.body)
		assert.Equal(t, tc.status, resp.StatusCode, tc.body)
		assert.Equal(t, tc.code, body["code"], tc.body)
		assert.NotEmpty(t, body["error"], tc.body)
	}

	resp, body := s.status(t, "abc")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not-found", body["code"])
}

func TestStatusUnknownJob(t *testing.T) {
	s := newServer(t)

	resp, body := s.status(t, "ghost")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown job", body["error"])
	assert.NotContains(t, body, "status")
}

func TestOperationalEndpoints(t *testing.T) {
	s := newServer(t)

	resp, err := http.Get(s.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s.upload(t, "abc", "a.txt", []byte("x"))
	resp, err = http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(data), `demoware_uploads_total{result="rejected"} 1`)

	resp, err = http.Get(s.URL + "/")
	require.NoError(t, err)
	data, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(data), "demoware")
}
