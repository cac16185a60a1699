// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package upload

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"

	"github.com/aifimmunology/hise/backend"
	"github.com/aifimmunology/hise/config"
	"github.com/aifimmunology/hise/core"
	"github.com/aifimmunology/hise/hisetest"
	"github.com/aifimmunology/hise/ledger"
)

var server *hisetest.Server
var homeDir string

// names of the files received by the fake toolchain's upload route
var uploaded []string

// names of the entries in the last archive received by the fake toolchain
var archived []string

// the last figure received by the fake toolchain
var figure []byte

// an Instance with a fixed name
type testInstance string

func (i testInstance) InstanceName(ctx context.Context) (string, error) {
	return string(i), nil
}

func newUploader() *Uploader {
	return &Uploader{
		Client:   backend.NewClient(server.Authorizer()),
		Ledger:   ledger.Default(false),
		Instance: testInstance("test-instance"),
		Notebook: "analysis.ipynb",
	}
}

// returns a valid request to upload the results file, citing the given inputs
func resultRequest(inputs ...string) UploadRequest {
	return UploadRequest{
		Files:        []string{filepath.Join(homeDir, "results.csv")},
		StudySpaceId: "SS1",
		Title:        "Differential expression results",
		InputFileIds: inputs,
	}
}

// returns the requests received by the server at the given path
func requestsTo(path string) []hisetest.Request {
	var requests []hisetest.Request
	for _, r := range server.Requests() {
		if r.Path == path {
			requests = append(requests, r)
		}
	}
	return requests
}

func TestUploadValidation(t *testing.T) {
	assert := assert.New(t)
	uploader := newUploader()
	ctx := context.Background()
	server.Reset()

	invalid := []func(*UploadRequest){
		func(r *UploadRequest) { r.Files = nil },
		func(r *UploadRequest) { r.FileTypes = []string{"csv", "csv"} },
		func(r *UploadRequest) { r.Store = "attic" },
		func(r *UploadRequest) { r.StudySpaceId = "" },
		func(r *UploadRequest) { r.Title = "" },
		func(r *UploadRequest) { r.Title = "too short" },
		func(r *UploadRequest) { r.InputFileIds = nil },
		func(r *UploadRequest) { r.Files = []string{filepath.Join(homeDir, "missing.csv")} },
	}
	for i, modify := range invalid {
		req := resultRequest("IN1")
		modify(&req)
		_, err := uploader.UploadFiles(ctx, req)
		assert.True(core.IsValidation(err), "case %d: %v", i, err)
	}
	assert.Empty(server.Requests())
}

// uploads may cite only files recorded in the ledger
func TestUploadRequiresDownloadedInputs(t *testing.T) {
	assert := assert.New(t)
	uploader := newUploader()
	ctx := context.Background()

	_, err := uploader.UploadFiles(ctx, resultRequest("X"))
	assert.True(core.IsValidation(err))
	assert.Contains(err.Error(), "X")

	err = uploader.Ledger.Record("X", "")
	assert.Nil(err)
	result, err := uploader.UploadFiles(ctx, resultRequest("X"))
	assert.Nil(err)
	assert.Equal("T1", result.TraceId)

	// debug mode skips the check
	uploader.Ledger = ledger.New(filepath.Join(homeDir, "no-ledger.csv"), true)
	_, err = uploader.UploadFiles(ctx, resultRequest("unrecorded"))
	assert.Nil(err)
}

func TestUploadFiles(t *testing.T) {
	assert := assert.New(t)
	uploader := newUploader()
	server.Reset()
	uploaded = nil

	req := resultRequest("IN1")
	req.Files = append(req.Files, filepath.Join(homeDir, "notes"))
	req.InputSampleIds = []string{"S1"}
	req.Store = "project"
	req.Destination = "analysis"
	result, err := uploader.UploadFiles(context.Background(), req)
	assert.Nil(err)
	assert.Equal(UploadResult{TraceId: "T1", Files: req.Files}, result)
	assert.Equal([]string{"results.csv", "notes"}, uploaded)

	requests := requestsTo("/toolchain/upload")
	assert.Equal(1, len(requests))
	query := requests[0].Query
	assert.Equal([]string{"csv", "json"}, query["fileType"])
	assert.Equal("Differential expression results", query.Get("title"))
	assert.Equal("SS1", query.Get("studySpaceId"))
	assert.Equal("project", query.Get("store"))
	assert.Equal("analysis", query.Get("destination"))
	assert.Equal("test-instance", query.Get("instanceId"))
	assert.Equal("analysis.ipynb", query.Get("notebook"))
	assert.Equal(homeDir, query.Get("homedir"))
	assert.Equal("true", query.Get("saveIDE"))
	assert.Equal([]string{"IN1"}, query["inputFileIds"])
	assert.Equal([]string{"S1"}, query["sampleIds"])
	assert.False(query.Has("harvest"))
}

func TestUploadHarvest(t *testing.T) {
	assert := assert.New(t)
	uploader := newUploader()
	server.Reset()

	req := resultRequest("IN1")
	req.Files = []string{filepath.Join(homeDir, "big.h5")}
	req.FileTypes = []string{"h5ad"}
	req.Project = "proj1"
	result, err := uploader.UploadFiles(context.Background(), req)
	assert.Nil(err)
	assert.Equal("T2", result.TraceId)

	requests := requestsTo("/toolchain/upload")
	assert.Equal(1, len(requests))
	assert.Equal("true", requests[0].Query.Get("harvest"))
	assert.Equal("proj1", requests[0].Query.Get("project"))
	assert.False(requests[0].Query.Has("fileType"))
	var body harvestBody
	assert.Nil(requests[0].Decode(&body))
	assert.Equal([]harvestFile{{Name: filepath.Join(homeDir, "big.h5"), Type: "h5ad"}}, body.Files)
}

func TestSaveStaticImage(t *testing.T) {
	assert := assert.New(t)
	uploader := newUploader()
	server.Reset()
	ctx := context.Background()
	image := filepath.Join(homeDir, "hero.png")

	_, err := uploader.SaveStaticImage(ctx, image, "Figure one of many", "")
	assert.True(core.IsValidation(err))
	_, err = uploader.SaveStaticImage(ctx, image, "Figure", "SS1")
	assert.True(core.IsValidation(err))
	_, err = uploader.SaveStaticImage(ctx, filepath.Join(homeDir, "missing.png"), "Figure one of many", "SS1")
	assert.True(core.IsValidation(err))
	assert.Empty(server.Requests())

	record, err := uploader.SaveStaticImage(ctx, image, "Figure one of many", "SS1")
	assert.Nil(err)
	assert.Equal("https://images/hero.png", record["url"])
	requests := requestsTo("/hydration/source/studyspace/file")
	assert.Equal(1, len(requests))
	assert.Equal("SS1", requests[0].Query.Get("studySpaceId"))
}

func TestProjectGuid(t *testing.T) {
	assert := assert.New(t)
	uploader := newUploader()
	ctx := context.Background()

	guid, err := uploader.ProjectGuid(ctx, "proj1")
	assert.Nil(err)
	assert.Equal("PG1", guid)
	_, err = uploader.ProjectGuid(ctx, "nope")
	assert.True(core.IsValidation(err))
	assert.Contains(err.Error(), "proj1")
	_, err = uploader.ProjectGuid(ctx, "dup")
	assert.True(core.IsValidation(err))
}

// returns a valid request to save the test app
func abstractionRequest() AbstractionRequest {
	return AbstractionRequest{
		AppFile:         filepath.Join(homeDir, "app", "app.py"),
		AdditionalFiles: []string{filepath.Join(homeDir, "app", "lib", "util.py")},
		Title:           "Expression explorer",
		Description:     "Explore expression by cohort",
		Project:         "proj1",
		DataContractId:  "DC1",
		ResultFileTypes: []string{"Olink", "scRNA"},
		Image:           filepath.Join(homeDir, "hero.png"),
	}
}

func TestSaveAbstraction(t *testing.T) {
	assert := assert.New(t)
	uploader := newUploader()
	server.Reset()
	archived = nil

	result, err := uploader.SaveAbstraction(context.Background(), abstractionRequest())
	assert.Nil(err)
	assert.Equal(AbstractionResult{Message: "Saved", AbstractionId: "AB1"}, result)
	assert.ElementsMatch([]string{"app.py", "config.toml", "build.sh", "entrypoint.sh",
		"environment.yml", "lib/", "lib/util.py", "datapackage.json"}, archived)

	assert.Equal(1, len(requestsTo("/hydration/static/image")))
	requests := requestsTo("/toolchain/abstraction")
	assert.Equal(1, len(requests))
	query := requests[0].Query
	assert.Equal("PG1", query.Get("projectGuid"))
	assert.Equal([]string{"RF1", "RF2"}, query["inputResultFiles"])
	assert.Equal("https://images/hero.png", query.Get("heroImages"))
	assert.Equal("abstraction_app.tar.gz", query.Get("appDetails"))
	assert.Equal("DC1", query.Get("dataContractId"))
	assert.Equal("test-instance", query.Get("instanceId"))
}

func TestSaveAbstractionValidation(t *testing.T) {
	assert := assert.New(t)
	uploader := newUploader()
	ctx := context.Background()
	server.Reset()

	invalid := []func(*AbstractionRequest){
		func(r *AbstractionRequest) { r.Title = "" },
		func(r *AbstractionRequest) { r.Description = "" },
		func(r *AbstractionRequest) { r.DataContractId = "" },
		func(r *AbstractionRequest) { r.Project = "" },
		func(r *AbstractionRequest) { r.AppFile = filepath.Join(homeDir, "app", "lib", "util.py") },
		func(r *AbstractionRequest) { r.AppFile = filepath.Join(homeDir, "missing", "app.py") },
		func(r *AbstractionRequest) { r.Image = filepath.Join(homeDir, "missing.png") },
		func(r *AbstractionRequest) { r.AdditionalFiles = []string{filepath.Join(homeDir, "outside.py")} },
	}
	for i, modify := range invalid {
		req := abstractionRequest()
		modify(&req)
		_, err := uploader.SaveAbstraction(ctx, req)
		assert.True(core.IsValidation(err), "case %d: %v", i, err)
	}
	assert.Empty(server.Requests())

	// these are detected only once the project's result files are known
	req := abstractionRequest()
	req.ResultFileTypes = []string{"Other"}
	_, err := uploader.SaveAbstraction(ctx, req)
	assert.True(core.IsValidation(err))
	req.ResultFileTypes = nil
	req.Project = "nope"
	_, err = uploader.SaveAbstraction(ctx, req)
	assert.True(core.IsValidation(err))
	assert.Empty(requestsTo("/toolchain/abstraction"))
}

// returns the names of the entries in a gzipped tarball
func archivedNames(r io.Reader) ([]string, error) {
	gz, err := pgzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	var names []string
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names, nil
		} else if err != nil {
			return nil, err
		}
		names = append(names, header.Name)
	}
}

func handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("harvest") == "true" {
		hisetest.WriteJSON(w, 200, map[string]any{"TraceId": "T2"})
		return
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		hisetest.WriteJSON(w, 400, hisetest.ErrorBody(err.Error()))
		return
	}
	for _, file := range r.MultipartForm.File["file"] {
		uploaded = append(uploaded, file.Filename)
		if strings.HasSuffix(file.Filename, ".tar.gz") {
			f, err := file.Open()
			if err == nil {
				archived, err = archivedNames(f)
				f.Close()
			}
			if err != nil {
				hisetest.WriteJSON(w, 400, hisetest.ErrorBody(err.Error()))
				return
			}
		}
	}
	hisetest.WriteJSON(w, 200, map[string]any{"TraceId": "T1"})
}

func handleAbstraction(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err == nil {
		defer file.Close()
		archived, err = archivedNames(file)
	}
	if err != nil {
		hisetest.WriteJSON(w, 400, hisetest.ErrorBody(err.Error()))
		return
	}
	hisetest.WriteJSON(w, 200, map[string]any{"Message": "Saved", "AbstractionId": "AB1"})
}

// receives a figure without its data
func handleFigure(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err == nil {
		defer file.Close()
		figure, err = io.ReadAll(file)
	}
	if err != nil {
		hisetest.WriteJSON(w, 400, hisetest.ErrorBody(err.Error()))
		return
	}
	hisetest.WriteJSON(w, 200, map[string]any{"ok": true})
}

// writes a file (and its directory) beneath the home directory
func writeFile(name, contents string) {
	path := filepath.Join(homeDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		panic(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		panic(err)
	}
}

// this function gets called at the begіnning of a test session
func setup() {
	var err error
	homeDir, err = os.MkdirTemp(os.TempDir(), "hise-upload-tests-")
	if err != nil {
		panic(err)
	}
	server = hisetest.NewServer()
	err = config.Init([]byte(hisetest.Config(server.Host(), homeDir)))
	if err != nil {
		panic(err)
	}

	writeFile("results.csv", "gene,logfc\nIL6,1.5\n")
	writeFile("notes", "{}")
	writeFile("big.h5", strings.Repeat("x", 1024*1024+1))
	writeFile("hero.png", "png")
	writeFile("outside.py", "print('outside')\n")
	writeFile(filepath.Join("app", "app.py"), "import lib.util\n")
	writeFile(filepath.Join("app", "lib", "util.py"), "def helper(): pass\n")
	for _, name := range config.Abstraction.ConfigFiles {
		writeFile(filepath.Join("viz_configs", name), "# "+name+"\n")
	}
	// the ledger exists but doesn't yet hold the files cited by uploads
	if err := ledger.Default(false).Record("IN1", "S1"); err != nil {
		panic(err)
	}

	server.Handle("POST", "toolchain/upload", handleUpload)
	server.Handle("POST", "toolchain/abstraction", handleAbstraction)
	server.HandleJSON("POST", "toolchain/broken", 500, hisetest.ErrorBody("Toolchain is broken"))
	server.HandleJSON("POST", "hydration/source/studyspace/file", 200,
		map[string]any{"id": "IMG1", "url": "https://images/hero.png"})
	server.Handle("POST", "toolchain/visualization/json", handleFigure)
	server.HandleJSON("POST", "toolchain/visualization/dash", 200, map[string]any{"TraceId": "DT1"})
	server.Handle("POST", "toolchain/deploy/visualization/{id}", func(w http.ResponseWriter, r *http.Request) {
		hisetest.WriteJSON(w, 200, map[string]any{"status": "deployed", "traceId": mux.Vars(r)["id"]})
	})
	server.HandleJSON("POST", "hydration/static/image", 200,
		map[string]any{"url": "https://images/hero.png"})
	server.HandleJSON("GET", "amds/project", 200, []Project{
		{Guid: "PG1", ShortName: "proj1", Name: "Project 1"},
		{Guid: "PG2", ShortName: "dup", Name: "Duplicate 1"},
		{Guid: "PG3", ShortName: "dup", Name: "Duplicate 2"},
	})
	server.HandleJSON("GET", "ledger/resultfile", 200, []map[string]any{
		{"id": "RF1", "projectGuid": "PG1", "fileType": "Olink"},
		{"id": "RF2", "projectGuid": anyProject, "fileType": "scRNA"},
		{"id": "RF3", "projectGuid": "PG9", "fileType": "Other"},
	})
}

// this function gets called after all tests have been run
func breakdown() {
	server.Close()
	os.RemoveAll(homeDir)
}

// This runs setup, runs all tests, and does breakdown.
func TestMain(m *testing.M) {
	var status int
	setup()
	status = m.Run()
	breakdown()
	os.Exit(status)
}
