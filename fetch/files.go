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

package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/aifimmunology/hise/config"
	"github.com/aifimmunology/hise/core"
	"github.com/aifimmunology/hise/normalize"
	"github.com/aifimmunology/hise/query"
)

// the directory (within the cache) holding files downloaded by DownloadFiles
const downloadableDir = "downloadable"

// the directory (within the cache) holding files without a batch
const unknownBatch = "unknown"

// returns true if the filter names the type of file sought
func hasFileType(filter map[string][]any) bool {
	_, found := filter["fileType"]
	_, qualified := filter["file.fileType"]
	return found || qualified
}

// Searches the file collection with the given filter, which must include the
// fileType field. Returns the descriptors of the matching files.
func (f *Fetcher) QueryFiles(ctx context.Context, filter map[string][]any) ([]core.Record, error) {
	if !hasFileType(filter) {
		return nil, core.Invalid("fileType must be in your query")
	}
	translated, err := f.Translator.Translate(ctx, filter)
	if err != nil {
		return nil, err
	}
	records, _, err := f.search(ctx, "file_search_path", translated)
	return records, err
}

// Searches the file collection with the given filter and normalizes the
// matching descriptors into tables. The filter's fields must be among those
// listed by the catalog.
func (f *Fetcher) FileDescriptors(ctx context.Context, filter map[string][]any) (normalize.FileTables, error) {
	if !hasFileType(filter) {
		return normalize.FileTables{}, core.Invalid("fileType must be in your query")
	}
	fields, err := f.Translator.Catalog.ListQueryableFields(ctx)
	if err != nil {
		return normalize.FileTables{}, err
	}
	if err := query.CheckFields(filter, append(fields, "file.fileType")); err != nil {
		return normalize.FileTables{}, err
	}
	records, err := f.QueryFiles(ctx, filter)
	if err != nil {
		return normalize.FileTables{}, err
	}
	descriptors := make([]any, len(records))
	for i, record := range records {
		descriptors[i] = record
	}
	return normalize.Files(descriptors)
}

// returns the distinct file IDs named by the given records, in order
func fileIds(records []core.Record) []string {
	var ids []string
	for _, record := range records {
		id := core.StringAt(record, "file", "id")
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Returns the IDs of the files matched by a saved query.
func (f *Fetcher) QueryFileIds(ctx context.Context, queryId string) ([]string, error) {
	u, err := f.Client.URL(ctx, config.Hydration, "query_search_path", queryId, nil)
	if err != nil {
		return nil, err
	}
	data, err := f.Client.Post(ctx, u, nil)
	if err != nil {
		return nil, err
	}
	var records []core.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &core.SchemaError{
			Message: fmt.Sprintf("query %s did not return a list of files: %s", queryId, err),
		}
	}
	ids := fileIds(records)
	if len(ids) == 0 {
		return nil, core.Invalid("Query %s has no matching files", queryId)
	}
	return ids, nil
}

// resolves a request to the IDs of the files it selects
func (f *Fetcher) resolve(ctx context.Context, req Request) ([]string, error) {
	switch {
	case req.Ids != nil:
		if len(req.Ids) == 0 {
			return nil, core.Invalid("No file IDs were given")
		}
		return req.Ids, nil
	case req.QueryId != "":
		return f.QueryFileIds(ctx, req.QueryId)
	default:
		records, err := f.QueryFiles(ctx, req.Filter)
		if err != nil {
			return nil, err
		}
		ids := fileIds(records)
		if len(ids) == 0 {
			return nil, core.Invalid("Query had no matching results")
		}
		return ids, nil
	}
}

// returns the file block of the given descriptors (the first one's, for a
// multi-panel file)
func descriptorFile(descriptors any) core.Record {
	var descriptor core.Record
	switch d := descriptors.(type) {
	case map[string]any:
		descriptor = d
	case []any:
		if len(d) > 0 {
			descriptor, _ = d[0].(map[string]any)
		}
	}
	file, _ := core.Nested(descriptor, "file")
	return file
}

// converts one item of a hydration response into a result; malformed items
// become failed results
func fileResult(item any) FileResult {
	record, ok := item.(map[string]any)
	if !ok {
		return FileResult{
			Id:      core.MissingId,
			Message: fmt.Sprintf("Item in response is not a record, it is a %T", item),
		}
	}
	if e, found := core.Nested(record, "error"); found {
		result := FileResult{Id: core.StringField(e, "File"), Message: core.StringField(e, "Message")}
		if result.Id == "" {
			result.Id = core.MissingId
		}
		return result
	}

	result := FileResult{
		Id:          core.StringField(descriptorFile(record["descriptors"]), "id"),
		Status:      true,
		Message:     okMessage,
		Descriptors: record["descriptors"],
		Url:         core.StringField(record, "url"),
	}
	if result.Id == "" {
		result.Id = core.StringField(record, "id")
	}
	if result.Id == "" {
		result.Id = core.MissingId
	}
	switch {
	case result.Descriptors == nil:
		result.fail("Descriptors not found in file data")
	case descriptorFile(result.Descriptors) == nil:
		result.fail("Descriptors have no file block")
	case result.Url == "":
		result.fail("No download url found in file data")
	}
	return result
}

// returns true if no result succeeded
func allFailed(results []FileResult) bool {
	return !slices.ContainsFunc(results, func(r FileResult) bool { return r.Status })
}

// Fetches the records of the files selected by the given request from the
// hydration service. Each file is reported in its own result. Files the
// service reports errors for, malformed items and requested IDs missing from
// the response become failed results. If every file fails, the results are
// returned with an AllFailedError.
func (f *Fetcher) FileRecords(ctx context.Context, req Request) ([]FileResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ids, err := f.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	u, err := f.Client.URL(ctx, config.Hydration, "file_search_path", "", url.Values{"id": ids})
	if err != nil {
		return nil, err
	}
	data, err := f.Client.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, &core.SchemaError{
			Message: fmt.Sprintf("hydration response is not a list: %s", err),
		}
	}

	results := make([]FileResult, len(items))
	for i, item := range items {
		results[i] = fileResult(item)
	}
	if req.Ids != nil {
		// requested IDs that no result answers directly
		var unmatched []string
		for _, id := range ids {
			if !slices.ContainsFunc(results, func(r FileResult) bool { return r.Id == id }) {
				unmatched = append(unmatched, id)
			}
		}
		// a guest workspace is served replicas of the files it asks for under
		// new IDs, which are paired with the requested IDs left over
		for i := range results {
			if len(unmatched) == 0 {
				break
			}
			if results[i].Status && !slices.Contains(ids, results[i].Id) {
				results[i].RequestedId = unmatched[0]
				unmatched = unmatched[1:]
			}
		}
		for _, id := range unmatched {
			results = append(results, FileResult{Id: id, Message: "File not found"})
		}
	}
	if allFailed(results) {
		return results, &AllFailedError{URL: u, Results: results}
	}
	return results, nil
}

// downloads a fetched file to the given path and records it in the ledger
func (f *Fetcher) download(ctx context.Context, result *FileResult, dest string) error {
	n, err := f.Client.Download(ctx, result.Url, dest)
	if err != nil {
		return err
	}
	result.Path = dest
	slog.Info(fmt.Sprintf("Downloaded file %s (%s) to %s", result.Id, humanize.Bytes(uint64(n)), dest))
	if err := f.Ledger.RecordDescriptor(result.Descriptors); err != nil {
		return err
	}
	return f.Ledger.RecordReplica(result.Descriptors, result.RequestedId)
}

// returns the base name of the file described by a result
func fileName(result FileResult) (string, error) {
	name := path.Base(core.StringField(descriptorFile(result.Descriptors), "name"))
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("Unable to determine the name of file %s", result.Id)
	}
	return name, nil
}

// downloads every successful result to the path chosen by dest, marking
// results that can't be downloaded as failed
func (f *Fetcher) downloadAll(ctx context.Context, results []FileResult,
	dest func(FileResult, string) string) {
	for i := range results {
		result := &results[i]
		if !result.Status {
			continue
		}
		name, err := fileName(*result)
		if err == nil {
			err = f.download(ctx, result, dest(*result, name))
		}
		if err != nil {
			result.fail(err.Error())
		}
	}
	var failed []string
	for _, result := range results {
		if !result.Status {
			failed = append(failed, result.Id)
		}
	}
	if len(failed) > 0 {
		slog.Warn(fmt.Sprintf("The following files failed to download: %s", strings.Join(failed, ", ")))
	}
}

// reports that no file could be downloaded, naming the first file's URL
func downloadsFailed(results []FileResult) error {
	err := &AllFailedError{Results: results}
	for _, result := range results {
		if result.Url != "" {
			err.URL = result.Url
			break
		}
	}
	return err
}

// Fetches the files selected by the given request, downloads each into the
// workspace cache (under the directory named for its batch) and records it in
// the ledger. The descriptors of the downloaded files are returned as tables
// along with a result for every file; failures are reported as for
// FileRecords.
func (f *Fetcher) ReadFiles(ctx context.Context, req Request) (normalize.FileTables, []FileResult, error) {
	results, err := f.FileRecords(ctx, req)
	if err != nil {
		return normalize.FileTables{}, results, err
	}
	f.downloadAll(ctx, results, func(result FileResult, name string) string {
		batch := core.StringField(descriptorFile(result.Descriptors), "batchID")
		if batch == "" {
			batch = unknownBatch
		}
		return filepath.Join(config.CacheDirectory(), batch, name)
	})
	if allFailed(results) {
		return normalize.FileTables{}, results, downloadsFailed(results)
	}

	var descriptors []any
	for _, result := range results {
		if result.Status {
			descriptors = append(descriptors, result.Descriptors)
		}
	}
	tables, err := normalize.Files(descriptors)
	return tables, results, err
}

// Downloads the files selected by the given request into the workspace cache,
// each in a directory named for its ID, and records them in the ledger.
func (f *Fetcher) CacheFiles(ctx context.Context, req Request) ([]FileResult, error) {
	return f.CacheFilesTo(ctx, req, config.CacheDirectory())
}

// Downloads files as CacheFiles does, into the given directory rather than
// the top of the cache.
func (f *Fetcher) CacheFilesTo(ctx context.Context, req Request, dir string) ([]FileResult, error) {
	results, err := f.FileRecords(ctx, req)
	if err != nil {
		return results, err
	}
	f.downloadAll(ctx, results, func(result FileResult, name string) string {
		return filepath.Join(dir, result.Id, name)
	})
	if allFailed(results) {
		return results, downloadsFailed(results)
	}
	return results, nil
}

// Downloads files that aren't described by the ledger (and so have no
// descriptors), given a mapping of file IDs to the names under which they are
// saved. Each file is reported in its own result, in order of ID. These files
// aren't recorded in the ledger.
func (f *Fetcher) DownloadFiles(ctx context.Context, files map[string]string) ([]FileResult, error) {
	if len(files) == 0 {
		return nil, core.Invalid("No files were given to download")
	}
	ids := make([]string, 0, len(files))
	for id := range files {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	dir := filepath.Join(config.CacheDirectory(), downloadableDir)
	results := make([]FileResult, len(ids))
	for i, id := range ids {
		results[i] = FileResult{Id: id}
		name := files[id]
		if name == "" || name != filepath.Base(name) {
			results[i].fail(fmt.Sprintf("Invalid file name: '%s'", name))
			continue
		}
		u, err := f.Client.URL(ctx, config.Hydration, "download_path", id, nil)
		if err != nil {
			return nil, err
		}
		dest := filepath.Join(dir, name)
		if _, err := f.Client.Download(ctx, u, dest); err != nil {
			results[i].fail(err.Error())
			continue
		}
		results[i].Status = true
		results[i].Message = okMessage
		results[i].Path = dest
	}
	return results, nil
}
