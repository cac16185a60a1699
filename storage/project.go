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


// Package storage manages files kept in HISE outside of its records: project
// folders and project stores shared by the members of a project, and the
// private folders of a single user.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/aifimmunology/hise/backend"
	"github.com/aifimmunology/hise/config"
	"github.com/aifimmunology/hise/core"
	"github.com/aifimmunology/hise/ledger"
	"github.com/aifimmunology/hise/tabular"
)

// A SharedFile is a file in a project folder or store.
type SharedFile struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

// shared holds what project folders and project stores have in common. Both
// are named containers of files that can be listed and downloaded; downloads
// are recorded in the ledger so that results produced from them can be
// uploaded.
type shared struct {
	Client *backend.Client
	Ledger *ledger.Ledger
	// name of the hydration path serving the containers
	pathName string
	// key of the container list in listings and file requests
	listKey string
}

// escapes each segment of a slash-separated name for use in a URL path
func escapePath(name string) string {
	segments := strings.Split(name, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

func (s shared) resourceURL(ctx context.Context, resource string) (string, error) {
	return s.Client.URL(ctx, config.Hydration, s.pathName, resource, nil)
}

// Returns the names of the containers the user has access to.
func (s shared) List(ctx context.Context) ([]string, error) {
	u, err := s.resourceURL(ctx, "")
	if err != nil {
		return nil, err
	}
	data, err := s.Client.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	var listing map[string][]string
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, &core.SchemaError{Message: fmt.Sprintf("%s listing: %s", s.listKey, err)}
	}
	names, found := listing[s.listKey]
	if !found {
		return nil, &core.SchemaError{Key: s.listKey, Message: "missing from listing"}
	}
	if len(names) == 0 {
		slog.Warn(fmt.Sprintf("You don't have access to any project %s", s.listKey))
	}
	return names, nil
}

// Returns the files in the named container.
func (s shared) Files(ctx context.Context, name string) ([]SharedFile, error) {
	if name == "" {
		return nil, core.Invalid("No project %s was named", strings.TrimSuffix(s.listKey, "s"))
	}
	u, err := s.resourceURL(ctx, "files")
	if err != nil {
		return nil, err
	}
	data, err := s.Client.Post(ctx, u, map[string][]string{s.listKey: {name}})
	if err != nil {
		return nil, err
	}
	var listings []struct {
		Files []SharedFile `json:"files"`
	}
	if err := json.Unmarshal(data, &listings); err != nil {
		return nil, &core.SchemaError{Message: fmt.Sprintf("files of %s: %s", name, err)}
	}
	if len(listings) == 0 {
		return nil, &core.SchemaError{Message: fmt.Sprintf("no listing was returned for %s", name)}
	}
	if len(listings[0].Files) == 0 {
		slog.Warn(fmt.Sprintf("No files were found in %s", name))
	}
	return listings[0].Files, nil
}

// Returns the files in the named container as a table with columns id, name
// and the container's name.
func (s shared) FileTable(ctx context.Context, name string) (*tabular.Table, error) {
	files, err := s.Files(ctx, name)
	if err != nil {
		return nil, err
	}
	column := strings.TrimSuffix(s.listKey, "s") + "_name"
	table := tabular.New("id", "name", column)
	for _, file := range files {
		table.AppendRow(map[string]any{"id": file.Id, "name": file.Name, column: name})
	}
	return table, nil
}

// returns the directory into which downloads are placed: the given one, or
// the working directory
func downloadDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

// downloads a single file of the named container into dir/<container>,
// dropping the first segment of the file's name, and records it in the ledger
func (s shared) download(ctx context.Context, dir, name string, file SharedFile) (string, error) {
	u, err := s.resourceURL(ctx, escapePath(name)+"/files/"+escapePath(file.Name))
	if err != nil {
		return "", err
	}
	local := file.Name
	if _, rest, found := strings.Cut(file.Name, "/"); found {
		local = rest
	}
	dest := filepath.Join(dir, name, filepath.FromSlash(local))
	n, err := s.Client.Download(ctx, u, dest)
	if err != nil {
		return "", err
	}
	slog.Info(fmt.Sprintf("Downloaded %s (%s) to %s", file.Name, humanize.Bytes(uint64(n)), dest))
	if err := s.Ledger.Record(file.Id, ""); err != nil {
		return "", err
	}
	return dest, nil
}

// Downloads the named file of the named container into <dir>/<container>. If
// dir is empty, the working directory is used. Returns the path of the
// downloaded file.
func (s shared) Download(ctx context.Context, dir, name, fileName string) (string, error) {
	dir, err := downloadDir(dir)
	if err != nil {
		return "", err
	}
	files, err := s.Files(ctx, name)
	if err != nil {
		return "", err
	}
	for _, file := range files {
		if file.Name == fileName {
			return s.download(ctx, dir, name, file)
		}
	}
	return "", core.Invalid("There is no file %s in %s", fileName, name)
}

// Downloads every file of the named container lying within the given
// subdirectory, as Download does. Returns the paths of the downloaded files.
func (s shared) DownloadSubdir(ctx context.Context, dir, name, subdir string) ([]string, error) {
	if subdir == "" {
		return nil, core.Invalid("No subdirectory was given")
	}
	dir, err := downloadDir(dir)
	if err != nil {
		return nil, err
	}
	files, err := s.Files(ctx, name)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, file := range files {
		if !strings.Contains(file.Name, "/"+subdir+"/") {
			continue
		}
		path, err := s.download(ctx, dir, name, file)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	if len(paths) == 0 {
		return nil, core.Invalid("There are no files in %s/%s", name, subdir)
	}
	return paths, nil
}

// ProjectFolders are the folders holding files shared within projects.
type ProjectFolders struct {
	shared
}

// Returns the project folders reached with the given client, recording
// downloads in the given ledger.
func NewProjectFolders(client *backend.Client, ledger *ledger.Ledger) ProjectFolders {
	return ProjectFolders{shared{
		Client:   client,
		Ledger:   ledger,
		pathName: "project_folder_path",
		listKey:  "folders",
	}}
}

// ProjectStores are project-scoped stores whose files can be promoted to the
// permanent store or deleted.
type ProjectStores struct {
	shared
}

// Returns the project stores reached with the given client, recording
// downloads in the given ledger.
func NewProjectStores(client *backend.Client, ledger *ledger.Ledger) ProjectStores {
	return ProjectStores{shared{
		Client:   client,
		Ledger:   ledger,
		pathName: "project_store_path",
		listKey:  "stores",
	}}
}

// tags a file in a store
func (s ProjectStores) tag(ctx context.Context, store, fileName, tag string) error {
	if store == "" || fileName == "" {
		return core.Invalid("A store and a file name are required")
	}
	u, err := s.resourceURL(ctx, escapePath(store)+"/files/"+escapePath(fileName))
	if err != nil {
		return err
	}
	_, err = s.Client.Put(ctx, u, map[string]string{config.Storage.TagField: tag})
	return err
}

// Marks a file for promotion to the permanent store. Promoted files are no
// longer listed in the store.
func (s ProjectStores) Promote(ctx context.Context, store, fileName string) error {
	return s.tag(ctx, store, fileName, config.Storage.PromotedTag)
}

// Returns a promoted file to the store, provided it hasn't yet been moved to
// the permanent store.
func (s ProjectStores) UndoPromote(ctx context.Context, store, fileName string) error {
	return s.tag(ctx, store, fileName, config.Storage.AvailableTag)
}

// Deletes a file from the store, provided it isn't in use.
func (s ProjectStores) Delete(ctx context.Context, store, fileName string) error {
	return s.tag(ctx, store, fileName, config.Storage.DeletedTag)
}

// Restores a deleted file within its retention period.
func (s ProjectStores) UndoDelete(ctx context.Context, store, fileName string) error {
	return s.tag(ctx, store, fileName, config.Storage.AvailableTag)
}
