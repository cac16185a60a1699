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
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aifimmunology/hise/backend"
	"github.com/aifimmunology/hise/config"
	"github.com/aifimmunology/hise/core"
)

const (
	// the file type of a visualization's data
	dataframeFileType = "Visualization-dataframe"
	// the store holding visualizations and dash apps
	permanentStore = "permanent"
	// the entry file of a dash app and the archive carrying it
	dashEntryFile   = "app.py"
	dashArchiveName = "dash_app.tar.gz"
)

// VisualizationRequest describes a (plotly) figure to be saved.
type VisualizationRequest struct {
	// the figure, whose "data" is stored apart from its layout
	Figure core.Record
	// an optional PNG rendering of the figure, saved as its static image when
	// a study space is given
	Image string
	// the study space receiving the figure; if empty, Project must be given
	StudySpaceId string
	Project      string
	Title        string
	// the folder within the store receiving the figure's data
	Destination    string
	InputFileIds   []string
	InputSampleIds []string
}

// writes a value as JSON to the given file
func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Saves a figure as a visualization. The figure's data is uploaded as a
// result file, and the rest of the figure is sent to the toolchain with the
// upload's trace. Returns the upload of the data.
func (u *Uploader) SaveVisualization(ctx context.Context, req VisualizationRequest) (UploadResult, error) {
	if req.Figure == nil {
		return UploadResult{}, core.Invalid("No figure was given")
	}
	if err := validateResult(req.StudySpaceId, req.Project, req.Title, req.InputFileIds); err != nil {
		return UploadResult{}, err
	}
	if err := u.Ledger.ValidateUploaded(req.InputFileIds, req.InputSampleIds); err != nil {
		return UploadResult{}, err
	}

	args := url.Values{}
	switch {
	case req.StudySpaceId == "":
		slog.Info("No study space was given, so no static image will be saved")
		args.Set("project", req.Project)
	case req.Image != "":
		image, err := u.SaveStaticImage(ctx, req.Image, req.Title, req.StudySpaceId)
		if err != nil {
			return UploadResult{}, err
		}
		args.Set("images", core.StringField(image, "id"))
	}

	dir, err := os.MkdirTemp("", "visualization-")
	if err != nil {
		return UploadResult{}, err
	}
	defer os.RemoveAll(dir)
	dataFile := filepath.Join(dir, "plotly_data.json")
	if err := writeJSON(dataFile, req.Figure["data"]); err != nil {
		return UploadResult{}, err
	}
	result, err := u.UploadFiles(ctx, UploadRequest{
		Files:          []string{dataFile},
		StudySpaceId:   req.StudySpaceId,
		Project:        req.Project,
		Title:          req.Title,
		InputFileIds:   req.InputFileIds,
		InputSampleIds: req.InputSampleIds,
		FileTypes:      []string{dataframeFileType},
		Store:          permanentStore,
		Destination:    req.Destination,
	})
	if err != nil {
		return UploadResult{}, err
	}
	args.Set("traceId", result.TraceId)

	figure := core.CopyRecord(req.Figure)
	figure["data"] = []any{}
	figureFile := filepath.Join(dir, "plotly.json")
	if err := writeJSON(figureFile, figure); err != nil {
		return UploadResult{}, err
	}
	target, err := u.Client.URL(ctx, config.Toolchain, "visualization_path", "json", args)
	if err != nil {
		return UploadResult{}, err
	}
	if _, err := u.Client.PostMultipart(ctx, target, nil, []backend.FilePart{
		{Field: fileField, Path: figureFile},
	}); err != nil {
		return UploadResult{}, err
	}
	return result, nil
}

// DashAppRequest describes a Dash app to be deployed to a study space.
type DashAppRequest struct {
	// the app's entry file, named app.py
	AppFile string
	// other files used by the app, anywhere within the home directory
	AdditionalFiles []string
	// the files and samples the app visualizes
	InputFileIds   []string
	InputSampleIds []string
	StudySpaceId   string
	Title          string
	Description    string
	// a PNG thumbnail for the app
	Image string
}

func (req DashAppRequest) validate() error {
	home := config.Workspace.HomeDir
	if filepath.Base(req.AppFile) != dashEntryFile {
		return core.Invalid("The app file must be called %s", dashEntryFile)
	}
	app, err := regularFile(req.AppFile, "app file")
	if err != nil {
		return err
	}
	if _, ok := within(home, app); !ok {
		return core.Invalid("The app file must be within %s", home)
	}
	for _, file := range req.AdditionalFiles {
		abs, err := regularFile(file, "file")
		if err != nil {
			return err
		}
		if _, ok := within(home, abs); !ok {
			return core.Invalid("Only files under %s can be included. Not there: %s", home, abs)
		}
	}
	if !strings.EqualFold(filepath.Ext(req.Image), ".png") {
		return core.Invalid("The image must be a PNG")
	}
	if _, err := regularFile(req.Image, "image"); err != nil {
		return err
	}
	if req.StudySpaceId == "" {
		return core.Invalid("A study space must be specified")
	}
	return validateResult(req.StudySpaceId, "", req.Title, req.InputFileIds)
}

// Bundles a Dash app with its files, uploads the bundle and its thumbnail
// to a study space, and deploys the app. Files keep their places relative to
// the home directory. Returns the toolchain's description of the deployment.
func (u *Uploader) SaveDashApp(ctx context.Context, req DashAppRequest) (core.Record, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := u.Ledger.ValidateUploaded(req.InputFileIds, req.InputSampleIds); err != nil {
		return nil, err
	}

	// large bundles are harvested by the toolchain, so they're staged where
	// it can read them
	workDir, err := os.MkdirTemp(config.Workspace.HomeDir, "dash-app-")
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(workDir, 0777); err != nil {
		return nil, err
	}
	bundle, err := NewBundle(BundleSpec{
		WorkDir:         workDir,
		EntryFile:       req.AppFile,
		Root:            config.Workspace.HomeDir,
		AdditionalFiles: req.AdditionalFiles,
		Name:            req.Title,
		Title:           req.Title,
		Description:     req.Description,
		Notebook:        u.Notebook,
	})
	if err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	defer cleanUp(bundle)
	archive, err := Packager{Client: u.Client, ArchiveName: dashArchiveName}.Pack(bundle)
	if err != nil {
		return nil, err
	}

	image, err := u.SaveStaticImage(ctx, req.Image, req.Title, req.StudySpaceId)
	if err != nil {
		return nil, err
	}
	upload, err := u.UploadFiles(ctx, UploadRequest{
		Files:          []string{archive},
		StudySpaceId:   req.StudySpaceId,
		Title:          req.Title,
		InputFileIds:   req.InputFileIds,
		InputSampleIds: req.InputSampleIds,
		Store:          permanentStore,
	})
	if err != nil {
		return nil, err
	}

	args, err := u.workspaceArgs(ctx)
	if err != nil {
		return nil, err
	}
	args.Set("studySpaceId", req.StudySpaceId)
	args.Set("title", req.Title)
	args["inputFileIds"] = req.InputFileIds
	args["sampleIds"] = req.InputSampleIds
	args.Set("images", core.StringField(image, "id"))
	args.Set("traceId", upload.TraceId)
	target, err := u.Client.URL(ctx, config.Toolchain, "save_dash_app_path", "", args)
	if err != nil {
		return nil, err
	}
	data, err := u.Client.Post(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	var saved struct {
		TraceId string `json:"TraceId"`
	}
	if err := json.Unmarshal(data, &saved); err != nil || saved.TraceId == "" {
		return nil, &core.SchemaError{Key: "TraceId", Message: fmt.Sprintf("dash app save response: %s", data)}
	}

	target, err = u.Client.URL(ctx, config.Toolchain, "deploy_dash_app_path", saved.TraceId, nil)
	if err != nil {
		return nil, err
	}
	data, err = u.Client.Post(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	var deployed core.Record
	if err := json.Unmarshal(data, &deployed); err != nil {
		return nil, &core.SchemaError{Message: fmt.Sprintf("dash app deploy response: %s", err)}
	}
	slog.Info(fmt.Sprintf("Deployed dash app %s (trace %s)", req.Title, saved.TraceId))
	return deployed, nil
}
