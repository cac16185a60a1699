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
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aifimmunology/hise/core"
)

func barChart() core.Record {
	return core.Record{
		"data": []any{map[string]any{"type": "bar", "y": []any{1.0, 2.0}}},
		"layout": map[string]any{"title": "Cells"},
	}
}

func TestSaveVisualization(t *testing.T) {
	assert := assert.New(t)
	uploader := newUploader()
	server.Reset()
	ctx := context.Background()
	chart := barChart()

	result, err := uploader.SaveVisualization(ctx, VisualizationRequest{
		Figure:       chart,
		Image:        filepath.Join(homeDir, "hero.png"),
		StudySpaceId: "SS1",
		Title:        "Cell counts by visit",
		InputFileIds: []string{"IN1"},
	})
	assert.Nil(err)
	assert.Equal("T1", result.TraceId)
	assert.Equal(1, len(requestsTo("/hydration/source/studyspace/file")))

	uploads := requestsTo("/toolchain/upload")
	assert.Equal(1, len(uploads))
	assert.Equal([]string{"Visualization-dataframe"}, uploads[0].Query["fileType"])
	assert.Equal("permanent", uploads[0].Query.Get("store"))
	assert.Contains(string(uploads[0].Body), `[{"type":"bar","y":[1,2]}]`)

	figures := requestsTo("/toolchain/visualization/json")
	assert.Equal(1, len(figures))
	assert.Equal("IMG1", figures[0].Query.Get("images"))
	assert.Equal("T1", figures[0].Query.Get("traceId"))
	assert.JSONEq(`{"data": [], "layout": {"title": "Cells"}}`, string(figure))
	assert.Equal(1, len(chart["data"].([]any)))
}

func TestSaveVisualizationToProject(t *testing.T) {
	assert := assert.New(t)
	uploader := newUploader()
	server.Reset()

	_, err := uploader.SaveVisualization(context.Background(), VisualizationRequest{
		Figure:       barChart(),
		Image:        filepath.Join(homeDir, "hero.png"),
		Project:      "proj1",
		Title:        "Cell counts by visit",
		InputFileIds: []string{"IN1"},
	})
	assert.Nil(err)
	assert.Empty(requestsTo("/hydration/source/studyspace/file"))
	figures := requestsTo("/toolchain/visualization/json")
	assert.Equal(1, len(figures))
	assert.Equal("proj1", figures[0].Query.Get("project"))
	assert.False(figures[0].Query.Has("images"))
}

func TestSaveVisualizationValidation(t *testing.T) {
	assert := assert.New(t)
	uploader := newUploader()
	server.Reset()
	ctx := context.Background()
	req := VisualizationRequest{
		StudySpaceId: "SS1",
		Title:        "Cell counts by visit",
		InputFileIds: []string{"IN1"},
	}

	_, err := uploader.SaveVisualization(ctx, req)
	assert.True(core.IsValidation(err))
	req.Figure = barChart()
	req.InputFileIds = []string{"X9"}
	_, err = uploader.SaveVisualization(ctx, req)
	assert.True(core.IsValidation(err))
	req.InputFileIds = nil
	_, err = uploader.SaveVisualization(ctx, req)
	assert.True(core.IsValidation(err))
	assert.Empty(server.Requests())
}

func dashAppRequest() DashAppRequest {
	return DashAppRequest{
		AppFile: filepath.Join(homeDir, "app", "app.py"),
		AdditionalFiles: []string{
			filepath.Join(homeDir, "outside.py"),
			filepath.Join(homeDir, "app", "lib", "util.py"),
		},
		InputFileIds:   []string{"IN1"},
		InputSampleIds: []string{"S1"},
		StudySpaceId:   "SS1",
		Title:          "Hello world Dash app",
		Description:    "Cell counts by visit",
		Image:          filepath.Join(homeDir, "hero.png"),
	}
}

func TestSaveDashApp(t *testing.T) {
	assert := assert.New(t)
	uploader := newUploader()
	server.Reset()
	uploaded, archived = nil, nil

	deployed, err := uploader.SaveDashApp(context.Background(), dashAppRequest())
	assert.Nil(err)
	assert.Equal(core.Record{"status": "deployed", "traceId": "DT1"}, deployed)

	assert.Equal(1, len(requestsTo("/hydration/source/studyspace/file")))
	assert.Equal([]string{"dash_app.tar.gz"}, uploaded)
	for _, name := range []string{"app/app.py", "app/lib/util.py", "outside.py", "datapackage.json"} {
		assert.Contains(archived, name)
	}
	uploads := requestsTo("/toolchain/upload")
	assert.Equal(1, len(uploads))
	assert.Equal("permanent", uploads[0].Query.Get("store"))

	saves := requestsTo("/toolchain/visualization/dash")
	assert.Equal(1, len(saves))
	query := saves[0].Query
	assert.Equal("SS1", query.Get("studySpaceId"))
	assert.Equal("Hello world Dash app", query.Get("title"))
	assert.Equal("IMG1", query.Get("images"))
	assert.Equal("T1", query.Get("traceId"))
	assert.Equal("test-instance", query.Get("instanceId"))
	assert.Equal([]string{"IN1"}, query["inputFileIds"])
	assert.Equal([]string{"S1"}, query["sampleIds"])
	assert.Equal(1, len(requestsTo("/toolchain/deploy/visualization/DT1")))

	// the staging directory is removed
	staged, err := filepath.Glob(filepath.Join(homeDir, "dash-app-*"))
	assert.Nil(err)
	assert.Empty(staged)
}

func TestSaveDashAppValidation(t *testing.T) {
	assert := assert.New(t)
	uploader := newUploader()
	server.Reset()
	ctx := context.Background()
	elsewhere := t.TempDir()
	assert.Nil(os.WriteFile(filepath.Join(elsewhere, "app.py"), []byte("print()\n"), 0644))

	invalid := []func(*DashAppRequest){
		func(req *DashAppRequest) { req.AppFile = filepath.Join(homeDir, "outside.py") },
		func(req *DashAppRequest) { req.AppFile = filepath.Join(elsewhere, "app.py") },
		func(req *DashAppRequest) {
			req.AdditionalFiles = []string{filepath.Join(homeDir, "missing.csv")}
		},
		func(req *DashAppRequest) {
			req.AdditionalFiles = []string{filepath.Join(elsewhere, "app.py")}
		},
		func(req *DashAppRequest) { req.Image = filepath.Join(homeDir, "notes") },
		func(req *DashAppRequest) { req.Image = filepath.Join(homeDir, "missing.png") },
		func(req *DashAppRequest) { req.StudySpaceId = "" },
		func(req *DashAppRequest) { req.Title = "Dash" },
		func(req *DashAppRequest) { req.InputFileIds = []string{"X9"} },
	}
	for i, change := range invalid {
		req := dashAppRequest()
		change(&req)
		_, err := uploader.SaveDashApp(ctx, req)
		assert.True(core.IsValidation(err), i)
	}
	assert.Empty(server.Requests())
}
