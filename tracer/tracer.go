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

// Package tracer reads the records of HISE's tracer service: the study spaces
// a user belongs to, the traces recording uploads, and the filesets shared
// within a study space.
package tracer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/aifimmunology/hise/backend"
	"github.com/aifimmunology/hise/config"
	"github.com/aifimmunology/hise/core"
	"github.com/aifimmunology/hise/fetch"
	"github.com/aifimmunology/hise/tabular"
)

// columns of the fileset table
var filesetColumns = []string{"id", "studySpaceId", "title", "description", "fileIds"}

// A StudySpace is a study in the collaboration space.
type StudySpace struct {
	Id          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// A Tracer reads tracer records, fetching the files they name with a Fetcher.
type Tracer struct {
	Client  *backend.Client
	Fetcher *fetch.Fetcher
}

// Creates a tracer that fetches files with the given fetcher.
func New(fetcher *fetch.Fetcher) *Tracer {
	return &Tracer{Client: fetcher.Client, Fetcher: fetcher}
}

// fetches the given tracer path and decodes its JSON response into v
func (t *Tracer) get(ctx context.Context, pathName, resource string, args url.Values, v any) error {
	u, err := t.Client.URL(ctx, config.Tracer, pathName, resource, args)
	if err != nil {
		return err
	}
	data, err := t.Client.Get(ctx, u)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &core.SchemaError{Message: fmt.Sprintf("tracer %s: %s", pathName, err)}
	}
	return nil
}

// Returns the study spaces the user has access to.
func (t *Tracer) StudySpaces(ctx context.Context) ([]StudySpace, error) {
	var spaces []StudySpace
	err := t.get(ctx, "study_space_path", "", nil, &spaces)
	return spaces, err
}

// Returns the user's study space, which must be the only one the user
// belongs to.
func (t *Tracer) DefaultStudySpace(ctx context.Context) (StudySpace, error) {
	spaces, err := t.StudySpaces(ctx)
	if err != nil {
		return StudySpace{}, err
	}
	switch len(spaces) {
	case 0:
		return StudySpace{}, core.Invalid("User belongs to no study spaces! Cannot upload to HISE!")
	case 1:
		return spaces[0], nil
	default:
		names := make([]string, len(spaces))
		for i, space := range spaces {
			names[i] = fmt.Sprintf("%s (%s)", space.Id, space.Name)
		}
		return StudySpace{}, core.Invalid("User belongs to multiple study spaces. "+
			"Please specify one of: %s", strings.Join(names, ", "))
	}
}

// Returns the trace with the given ID.
func (t *Tracer) Trace(ctx context.Context, traceId string) (core.Record, error) {
	var traces []core.Record
	if err := t.get(ctx, "trace_path", traceId, nil, &traces); err != nil {
		return nil, err
	}
	if len(traces) == 0 {
		return nil, core.Invalid("Trace id %s is invalid", traceId)
	}
	return traces[0], nil
}

// Returns the IDs of the files matched by a saved query.
func (t *Tracer) FilesForQuery(ctx context.Context, queryId string) ([]string, error) {
	return t.Fetcher.QueryFileIds(ctx, queryId)
}

// returns true if a fileset has been deleted (reported either as a string or
// a boolean)
func deleted(fileset core.Record) bool {
	switch d := fileset["deleted"].(type) {
	case bool:
		return d
	case string:
		return d != "false"
	}
	return false
}

// returns the sorted IDs of the files in a fileset, whose fileIds value maps
// file IDs to their details
func filesetFileIds(fileset core.Record) []string {
	var ids []string
	switch f := fileset["fileIds"].(type) {
	case map[string]any:
		for id := range f {
			ids = append(ids, id)
		}
	case []any:
		for _, id := range f {
			if s, ok := id.(string); ok {
				ids = append(ids, s)
			}
		}
	}
	slices.Sort(ids)
	return ids
}

// Returns the filesets of the given study space that haven't been deleted, as
// a table with columns id, studySpaceId, title, description and fileIds.
func (t *Tracer) Filesets(ctx context.Context, studySpaceId string) (*tabular.Table, error) {
	var filesets []core.Record
	err := t.get(ctx, "file_set_path", "", url.Values{"studySpaceId": {studySpaceId}}, &filesets)
	if err != nil {
		return nil, err
	}
	if len(filesets) == 0 {
		return nil, core.Invalid("There are no filesets in the study space %s", studySpaceId)
	}
	table := tabular.New(filesetColumns...)
	for _, fileset := range filesets {
		if deleted(fileset) {
			continue
		}
		var ids []any
		for _, id := range filesetFileIds(fileset) {
			ids = append(ids, id)
		}
		table.AppendRow(map[string]any{
			"id":           fileset["id"],
			"studySpaceId": fileset["studySpaceId"],
			"title":        fileset["title"],
			"description":  fileset["description"],
			"fileIds":      ids,
		})
	}
	return table, nil
}

// Downloads every file in the given fileset into the workspace cache, beneath
// a directory named for the fileset's title.
func (t *Tracer) CacheFileset(ctx context.Context, filesetId, studySpaceId string) ([]fetch.FileResult, error) {
	if filesetId == "" || studySpaceId == "" {
		return nil, core.Invalid("You must specify a fileset and a study space")
	}
	filesets, err := t.Filesets(ctx, studySpaceId)
	if err != nil {
		return nil, err
	}
	for i := 0; i < filesets.Len(); i++ {
		row := filesets.Row(i)
		if row["id"] != filesetId {
			continue
		}
		var ids []string
		if list, ok := row["fileIds"].([]any); ok {
			for _, id := range list {
				ids = append(ids, id.(string))
			}
		}
		if len(ids) == 0 {
			return nil, core.Invalid("The fileset %s has no files", filesetId)
		}
		title, _ := row["title"].(string)
		dir := filepath.Join(config.CacheDirectory(), strings.ReplaceAll(title, "/", "_"))
		return t.Fetcher.CacheFilesTo(ctx, fetch.Request{Ids: ids}, dir)
	}
	return nil, core.Invalid("There is no fileset %s in the study space %s", filesetId, studySpaceId)
}

// fetches the given service path and decodes its JSON response into v
func (t *Tracer) getJSON(ctx context.Context, service, pathName, resource string, v any) error {
	u, err := t.Client.URL(ctx, service, pathName, resource, nil)
	if err != nil {
		return err
	}
	data, err := t.Client.Get(ctx, u)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &core.SchemaError{Message: fmt.Sprintf("%s %s: %s", service, pathName, err)}
	}
	return nil
}

// Loads the visualization saved with the given trace: the figure stored by
// the toolchain, with the data the trace refers to restored. A data reference
// that can't be loaded leaves the figure without its data.
func (t *Tracer) Visualization(ctx context.Context, traceId string) (core.Record, error) {
	trace, err := t.Trace(ctx, traceId)
	if err != nil {
		return nil, err
	}
	var data any
	if ref := core.StringAt(trace, "steps", "dataReference"); ref != "" {
		dataId, err := uuid.Parse(ref)
		switch {
		case err != nil:
			slog.Warn(fmt.Sprintf("Failed to load data reference %s: %s", ref, err))
		case dataId != uuid.Nil:
			if err := t.getJSON(ctx, config.Hydration, "download_path", dataId.String(), &data); err != nil {
				slog.Warn(fmt.Sprintf("Failed to load data reference %s: %s", ref, err))
				data = nil
			}
		}
	}

	var figure core.Record
	if err := t.getJSON(ctx, config.Toolchain, "visualization_path", traceId, &figure); err != nil {
		return nil, err
	}
	if figure == nil {
		return nil, &core.SchemaError{Message: fmt.Sprintf("no visualization was saved with trace %s", traceId)}
	}
	if data != nil {
		figure["data"] = data
	}
	return figure, nil
}
