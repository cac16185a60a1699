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

// Package upload sends results produced in a workspace back to HISE: files
// uploaded to a study space or project, static images, and abstractions
// (data apps) packaged as bundles.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/aifimmunology/hise/auth"
	"github.com/aifimmunology/hise/backend"
	"github.com/aifimmunology/hise/config"
	"github.com/aifimmunology/hise/core"
	"github.com/aifimmunology/hise/ledger"
)

// the file type assumed for files without an extension
const defaultFileType = "json"

// An Instance identifies the notebook instance on whose behalf uploads are
// made.
type Instance interface {
	InstanceName(ctx context.Context) (string, error)
}

// An Uploader sends results to HISE, permitting only results that cite files
// downloaded into the workspace.
type Uploader struct {
	Client   *backend.Client
	Ledger   *ledger.Ledger
	Instance Instance
	// the notebook producing the results
	Notebook string
}

// Creates an uploader acting for the given session, checking uploads against
// the workspace's ledger.
func New(client *backend.Client, session *auth.Session) *Uploader {
	return &Uploader{
		Client:   client,
		Ledger:   ledger.Default(session.Debug()),
		Instance: session,
		Notebook: session.Notebook,
	}
}

// UploadRequest describes files to be uploaded as a result.
type UploadRequest struct {
	// paths of the files to upload
	Files []string
	// the study space receiving the result; if empty, Project must be given
	StudySpaceId string
	// short name of the project receiving the result
	Project string
	// a title for the result
	Title string
	// IDs of the files (and samples) from which the result was produced
	InputFileIds   []string
	InputSampleIds []string
	// the type of each file; if omitted, types are taken from file extensions
	FileTypes []string
	// the store ("project" or "permanent") holding the files
	Store string
	// the folder within the store receiving the files
	Destination string
}

// UploadResult identifies an upload.
type UploadResult struct {
	// the trace recording the upload
	TraceId string `json:"trace_id"`
	// the files uploaded
	Files []string `json:"files"`
}

func validateTitle(title string) error {
	if title == "" {
		return core.Invalid("Title cannot be empty")
	}
	if len(title) < config.Upload.MinTitleLength {
		return core.Invalid("Title must be at least %d characters", config.Upload.MinTitleLength)
	}
	return nil
}

// checks the title and destination of a result
func validateResult(studySpaceId, project, title string, inputFileIds []string) error {
	if studySpaceId == "" && project == "" {
		return core.Invalid("One of study space or project must be specified")
	}
	if err := validateTitle(title); err != nil {
		return err
	}
	if len(inputFileIds) == 0 {
		return core.Invalid("You must specify at least one input file UUID")
	}
	return nil
}

// returns the type of a file from its extension
func fileType(path string) string {
	if ext := filepath.Ext(path); len(ext) > 1 {
		return ext[1:]
	}
	return defaultFileType
}

// returns the absolute paths of the given files and their total size in
// bytes, failing if any file is missing
func inspect(files []string) ([]string, uint64, error) {
	paths := make([]string, len(files))
	var size uint64
	for i, file := range files {
		abs, err := regularFile(file, "file")
		if err != nil {
			return nil, 0, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, 0, err
		}
		paths[i], size = abs, size+uint64(info.Size())
	}
	return paths, size, nil
}

// validates an upload request, returning the absolute paths of its files and
// their total size
func (u *Uploader) validate(req UploadRequest) ([]string, uint64, error) {
	if len(req.Files) == 0 {
		return nil, 0, core.Invalid("No files specified for upload")
	}
	if req.FileTypes != nil && len(req.FileTypes) != len(req.Files) {
		return nil, 0, core.Invalid("File types must be a list with one type for each upload")
	}
	if req.Store != "" && !slices.Contains(config.Upload.Stores, req.Store) {
		return nil, 0, core.Invalid("Value for store must be in %s", strings.Join(config.Upload.Stores, ", "))
	}
	if err := validateResult(req.StudySpaceId, req.Project, req.Title, req.InputFileIds); err != nil {
		return nil, 0, err
	}
	if err := u.Ledger.ValidateUploaded(req.InputFileIds, req.InputSampleIds); err != nil {
		return nil, 0, err
	}
	return inspect(req.Files)
}

// returns the query arguments identifying the workspace making a request
func (u *Uploader) workspaceArgs(ctx context.Context) (url.Values, error) {
	instance, err := u.Instance.InstanceName(ctx)
	if err != nil {
		return nil, err
	}
	return url.Values{
		"instanceId": {instance},
		"notebook":   {u.Notebook},
		"homedir":    {config.Workspace.HomeDir},
	}, nil
}

// the body of a harvest request, naming files for the toolchain to collect
// from the workspace itself
type harvestBody struct {
	Files []harvestFile `json:"files"`
}

type harvestFile struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Uploads files as a result in a study space or project. Every input file and
// sample must have been downloaded into the workspace. Small uploads carry
// their files in the request; larger ones are harvested from the workspace by
// the toolchain.
func (u *Uploader) UploadFiles(ctx context.Context, req UploadRequest) (UploadResult, error) {
	paths, size, err := u.validate(req)
	if err != nil {
		return UploadResult{}, err
	}
	args, err := u.workspaceArgs(ctx)
	if err != nil {
		return UploadResult{}, err
	}
	args.Set("title", req.Title)
	args.Set("saveIDE", "true")
	args.Set("destination", req.Destination)
	if req.Store != "" {
		args.Set("store", req.Store)
	}
	args["inputFileIds"] = req.InputFileIds
	args["sampleIds"] = req.InputSampleIds
	if req.StudySpaceId != "" {
		args.Set("studySpaceId", req.StudySpaceId)
	}
	if req.Project != "" {
		args.Set("project", req.Project)
	}
	types := make([]string, len(paths))
	for i, path := range paths {
		if req.FileTypes != nil {
			types[i] = req.FileTypes[i]
		} else {
			types[i] = fileType(path)
		}
	}

	harvest := size > uint64(config.Upload.HarvestLowerBoundMB)*1024*1024
	var body *harvestBody
	var parts []backend.FilePart
	if harvest {
		args.Set("harvest", "true")
		body = &harvestBody{Files: make([]harvestFile, len(paths))}
		for i, path := range paths {
			body.Files[i] = harvestFile{Name: path, Type: types[i]}
		}
	} else {
		args["fileType"] = types
		parts = make([]backend.FilePart, len(paths))
		for i, path := range paths {
			parts[i] = backend.FilePart{Field: fileField, Path: path}
		}
	}
	target, err := u.Client.URL(ctx, config.Toolchain, "upload_file_path", "", args)
	if err != nil {
		return UploadResult{}, err
	}
	var data []byte
	if harvest {
		slog.Info(fmt.Sprintf("Harvesting %d file(s) (%s) from the workspace", len(paths), humanize.Bytes(size)))
		data, err = u.Client.Post(ctx, target, body)
	} else {
		slog.Info(fmt.Sprintf("Uploading %d file(s) (%s)", len(paths), humanize.Bytes(size)))
		data, err = u.Client.PostMultipart(ctx, target, nil, parts)
	}
	if err != nil {
		return UploadResult{}, err
	}

	var resp struct {
		TraceId string `json:"TraceId"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return UploadResult{}, &core.SchemaError{Message: fmt.Sprintf("upload response: %s", err)}
	}
	return UploadResult{TraceId: resp.TraceId, Files: req.Files}, nil
}
