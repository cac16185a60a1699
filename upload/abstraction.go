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

// the project GUID of result files available to every project
const anyProject = "urn:hise:project:any"

// the multipart field carrying images
const imageField = "bytes"

// A Project is a HISE project, as listed by the project metadata service.
type Project struct {
	Guid      string `json:"guid"`
	ShortName string `json:"short_name"`
	Name      string `json:"name"`
}

// fetches and decodes a JSON list from the given service path
func (u *Uploader) list(ctx context.Context, service, pathName string, v any) error {
	target, err := u.Client.URL(ctx, service, pathName, "", nil)
	if err != nil {
		return err
	}
	data, err := u.Client.Get(ctx, target)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &core.SchemaError{Message: fmt.Sprintf("%s %s: %s", service, pathName, err)}
	}
	return nil
}

// Returns the projects of the current account.
func (u *Uploader) Projects(ctx context.Context) ([]Project, error) {
	var projects []Project
	err := u.list(ctx, config.Amds, "project_path", &projects)
	return projects, err
}

// Returns the GUID of the project with the given short name.
func (u *Uploader) ProjectGuid(ctx context.Context, shortName string) (string, error) {
	projects, err := u.Projects(ctx)
	if err != nil {
		return "", err
	}
	var names, matches []string
	for _, project := range projects {
		names = append(names, project.ShortName)
		if project.ShortName == shortName {
			matches = append(matches, project.Guid)
		}
	}
	switch len(matches) {
	case 0:
		return "", core.Invalid("%s is not a valid project name. Valid projects are: %s",
			shortName, strings.Join(names, ", "))
	case 1:
		return matches[0], nil
	default:
		return "", core.Invalid("The project name %s is shared by projects %s",
			shortName, strings.Join(matches, ", "))
	}
}

// Returns the result files known to the ledger.
func (u *Uploader) ResultFiles(ctx context.Context) ([]core.Record, error) {
	var records []core.Record
	err := u.list(ctx, config.Ledger, "result_file_search_path", &records)
	return records, err
}

// returns the ID of the result file with the given type that is available to
// the given project
func resultFileId(results []core.Record, fileType, projectGuid string) (string, error) {
	var types, ids []string
	for _, result := range results {
		guid := core.StringField(result, "projectGuid")
		if guid != projectGuid && guid != anyProject {
			continue
		}
		types = append(types, core.StringField(result, "fileType"))
		if core.StringField(result, "fileType") == fileType {
			ids = append(ids, core.StringField(result, "id"))
		}
	}
	switch len(ids) {
	case 0:
		return "", core.Invalid("%s is not a valid result file type for project %s. Valid types are: %s",
			fileType, projectGuid, strings.Join(types, ", "))
	case 1:
		return ids[0], nil
	default:
		return "", core.Invalid("The result file type %s matches result files %s",
			fileType, strings.Join(ids, ", "))
	}
}

// posts an image to the given service path, returning the response
func (u *Uploader) postImage(ctx context.Context, pathName, image string,
	args url.Values) (core.Record, error) {
	target, err := u.Client.URL(ctx, config.Hydration, pathName, "", args)
	if err != nil {
		return nil, err
	}
	data, err := u.Client.PostMultipart(ctx, target, nil, []backend.FilePart{
		{Field: imageField, Path: image},
	})
	if err != nil {
		return nil, err
	}
	var record core.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, &core.SchemaError{Message: fmt.Sprintf("image upload response: %s", err)}
	}
	return record, nil
}

// Saves an image to a study space under the given title, returning the
// hydration service's description of the saved image.
func (u *Uploader) SaveStaticImage(ctx context.Context, image, title, studySpaceId string) (core.Record, error) {
	if _, err := regularFile(image, "image"); err != nil {
		return nil, err
	}
	if studySpaceId == "" {
		return nil, core.Invalid("A study space must be specified")
	}
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	return u.postImage(ctx, "upload_path", image, url.Values{
		"studySpaceId": {studySpaceId},
		"title":        {title},
	})
}

// AbstractionRequest describes an abstraction (a data app) to be saved.
type AbstractionRequest struct {
	// the app's entry file
	AppFile string
	// other files used by the app, within the entry file's directory tree
	AdditionalFiles []string
	Title           string
	Description     string
	// short name of the project owning the abstraction
	Project string
	// the data contract describing the app's input
	DataContractId string
	// types of the result files the app reads
	ResultFileTypes []string
	// an optional thumbnail image for the app
	Image string
}

// AbstractionResult identifies a saved abstraction.
type AbstractionResult struct {
	Message       string `json:"message"`
	AbstractionId string `json:"AbstractionId"`
}

func (req AbstractionRequest) validate() error {
	switch {
	case req.Title == "":
		return core.Invalid("You must provide a title for the abstraction")
	case req.Description == "":
		return core.Invalid("A description for the abstraction is required")
	case req.DataContractId == "":
		return core.Invalid("A data contract must be submitted when saving an abstraction")
	case req.Project == "":
		return core.Invalid("A project must be specified when saving an abstraction")
	}
	if filepath.Base(req.AppFile) != config.Abstraction.EntryFile {
		return core.Invalid("The app file must be called %s", config.Abstraction.EntryFile)
	}
	app, err := regularFile(req.AppFile, "app file")
	if err != nil {
		return err
	}
	if rel, err := filepath.Rel(config.Workspace.HomeDir, app); err != nil || strings.HasPrefix(rel, "..") {
		return core.Invalid("The app file must be within %s", config.Workspace.HomeDir)
	}
	if req.Image != "" {
		if _, err := regularFile(req.Image, "image"); err != nil {
			return err
		}
	}
	return nil
}

// Saves an abstraction to the given project. The app's entry file, the fixed
// configuration files and any additional files are bundled into an archive
// and sent to the toolchain.
func (u *Uploader) SaveAbstraction(ctx context.Context, req AbstractionRequest) (AbstractionResult, error) {
	if err := req.validate(); err != nil {
		return AbstractionResult{}, err
	}
	workDir, err := os.MkdirTemp("", "abstraction-")
	if err != nil {
		return AbstractionResult{}, err
	}
	defer os.RemoveAll(workDir)
	bundle, err := NewBundle(BundleSpec{
		WorkDir:         workDir,
		EntryFile:       req.AppFile,
		ConfigsDir:      config.Abstraction.ConfigsDir,
		ConfigFiles:     config.Abstraction.ConfigFiles,
		AdditionalFiles: req.AdditionalFiles,
		Name:            req.Title,
		Title:           req.Title,
		Description:     req.Description,
		Notebook:        u.Notebook,
	})
	if err != nil {
		return AbstractionResult{}, err
	}

	projectGuid, err := u.ProjectGuid(ctx, req.Project)
	if err != nil {
		return AbstractionResult{}, err
	}
	resultFileIds := []string{}
	if len(req.ResultFileTypes) > 0 {
		results, err := u.ResultFiles(ctx)
		if err != nil {
			return AbstractionResult{}, err
		}
		for _, fileType := range req.ResultFileTypes {
			id, err := resultFileId(results, fileType, projectGuid)
			if err != nil {
				return AbstractionResult{}, err
			}
			resultFileIds = append(resultFileIds, id)
		}
	}

	args, err := u.workspaceArgs(ctx)
	if err != nil {
		return AbstractionResult{}, err
	}
	args.Set("title", req.Title)
	args.Set("description", req.Description)
	args.Set("appDetails", config.Abstraction.ArchiveName)
	args.Set("dataContractId", req.DataContractId)
	args.Set("projectGuid", projectGuid)
	args["inputResultFiles"] = resultFileIds
	if req.Image != "" {
		image, err := u.postImage(ctx, "static_image_path", req.Image, nil)
		if err != nil {
			return AbstractionResult{}, err
		}
		args.Set("heroImages", core.StringField(image, "url"))
	}

	target, err := u.Client.URL(ctx, config.Toolchain, "abstraction_path", "", args)
	if err != nil {
		return AbstractionResult{}, err
	}
	data, err := Packager{Client: u.Client}.Send(ctx, bundle, target, nil)
	if err != nil {
		return AbstractionResult{}, err
	}
	var resp struct {
		Message       string `json:"Message"`
		AbstractionId string `json:"AbstractionId"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return AbstractionResult{}, &core.SchemaError{Message: fmt.Sprintf("abstraction response: %s", err)}
	}
	slog.Info(fmt.Sprintf("Saved abstraction %s (%s)", resp.AbstractionId, req.Title))
	return AbstractionResult{Message: resp.Message, AbstractionId: resp.AbstractionId}, nil
}
