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


package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/aifimmunology/hise/backend"
	"github.com/aifimmunology/hise/config"
	"github.com/aifimmunology/hise/core"
)

// longest file path or name accepted by private folders
const maxNameLength = 1023

// PrivateFolders are folders visible only to their owner. Files downloaded
// from them aren't HISE records, so they aren't recorded in the ledger.
type PrivateFolders struct {
	Client *backend.Client
}

// Returns the private folders reached with the given client.
func NewPrivateFolders(client *backend.Client) PrivateFolders {
	return PrivateFolders{Client: client}
}

func (p PrivateFolders) resourceURL(ctx context.Context, resource string) (string, error) {
	return p.Client.URL(ctx, config.Hydration, "user_folder_path", resource, nil)
}

// returns the URL of a file in a folder
func (p PrivateFolders) fileURL(ctx context.Context, folder, fileName string) (string, error) {
	if folder == "" || fileName == "" {
		return "", core.Invalid("A folder and a file name are required")
	}
	if len(fileName) > maxNameLength {
		return "", core.Invalid("File names cannot exceed %d characters", maxNameLength)
	}
	return p.resourceURL(ctx, escapePath(folder)+"/files/"+escapePath(fileName))
}

// logs the response to a request that changed a folder
func logged(action string, data []byte, err error) error {
	if err == nil {
		slog.Debug(fmt.Sprintf("%s: %s", action, data))
	}
	return err
}

// Uploads the file at the given path into a folder.
func (p PrivateFolders) Upload(ctx context.Context, folder, path string) error {
	if folder == "" {
		return core.Invalid("No folder was given")
	}
	if len(path) > maxNameLength {
		return core.Invalid("File paths cannot exceed %d characters", maxNameLength)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	u, err := p.resourceURL(ctx, escapePath(folder)+"/files")
	if err != nil {
		return err
	}
	data, err := p.Client.PostMultipart(ctx, u, nil, []backend.FilePart{{Field: "file", Path: abs}})
	return logged("Upload to "+folder, data, err)
}

// decodes a listing of folders or files
func records(data []byte, what string) ([]core.Record, error) {
	var list []core.Record
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, &core.SchemaError{Message: fmt.Sprintf("%s: %s", what, err)}
	}
	return list, nil
}

// Returns every private folder, with the files within each.
func (p PrivateFolders) List(ctx context.Context) ([]core.Record, error) {
	u, err := p.resourceURL(ctx, "")
	if err != nil {
		return nil, err
	}
	data, err := p.Client.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	return records(data, "private folders")
}

// Returns the files in a folder.
func (p PrivateFolders) Files(ctx context.Context, folder string) ([]core.Record, error) {
	if folder == "" {
		return nil, core.Invalid("No folder was given")
	}
	u, err := p.resourceURL(ctx, escapePath(folder)+"/files")
	if err != nil {
		return nil, err
	}
	data, err := p.Client.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &core.SchemaError{Message: fmt.Sprintf("files of %s: %s", folder, err)}
	}
	if resp.Result == nil {
		return nil, &core.SchemaError{Key: "result", Message: "missing from the file listing"}
	}
	return records(resp.Result, "files of "+folder)
}

// Creates a folder whose files expire after the given number of days, or
// never if days is zero.
func (p PrivateFolders) Create(ctx context.Context, folder string, days int) error {
	if folder == "" {
		return core.Invalid("The folder must have a name")
	}
	if days < 0 {
		return core.Invalid("File expiration must be a number of days, not %d", days)
	}
	expiration := ""
	if days > 0 {
		expiration = strconv.Itoa(days)
	}
	u, err := p.resourceURL(ctx, "")
	if err != nil {
		return err
	}
	data, err := p.Client.Post(ctx, u, map[string]string{
		"folderName":     folder,
		"fileExpiration": expiration,
	})
	return logged("Create "+folder, data, err)
}

// Moves a file from one folder to another.
func (p PrivateFolders) Move(ctx context.Context, fileName, source, destination string) error {
	if destination == "" {
		return core.Invalid("No destination folder was given")
	}
	u, err := p.fileURL(ctx, source, fileName)
	if err != nil {
		return err
	}
	data, err := p.Client.Put(ctx, u, map[string]string{"newFolder": destination})
	return logged("Move "+fileName, data, err)
}

// Renames a file within a folder.
func (p PrivateFolders) Rename(ctx context.Context, folder, oldName, newName string) error {
	if newName == "" || len(newName) > maxNameLength {
		return core.Invalid("New file names must have 1 to %d characters", maxNameLength)
	}
	u, err := p.fileURL(ctx, folder, oldName)
	if err != nil {
		return err
	}
	data, err := p.Client.Put(ctx, u, map[string]string{"newName": newName})
	return logged("Rename "+oldName, data, err)
}

// Deletes a file from a folder.
func (p PrivateFolders) DeleteFile(ctx context.Context, folder, fileName string) error {
	u, err := p.fileURL(ctx, folder, fileName)
	if err != nil {
		return err
	}
	data, err := p.Client.Delete(ctx, u)
	return logged("Delete "+fileName, data, err)
}

// Deletes a folder.
func (p PrivateFolders) DeleteFolder(ctx context.Context, folder string) error {
	if folder == "" {
		return core.Invalid("No folder was given")
	}
	u, err := p.resourceURL(ctx, escapePath(folder))
	if err != nil {
		return err
	}
	data, err := p.Client.Delete(ctx, u)
	return logged("Delete "+folder, data, err)
}

// Downloads a file from a folder into <dir>/<folder>, or into a directory
// named for the folder within the working directory if dir is empty. Returns
// the path of the downloaded file.
func (p PrivateFolders) Download(ctx context.Context, dir, folder, fileName string) (string, error) {
	u, err := p.fileURL(ctx, folder, fileName)
	if err != nil {
		return "", err
	}
	dir, err = downloadDir(dir)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, folder, filepath.FromSlash(fileName))
	if _, err := p.Client.Download(ctx, u, dest); err != nil {
		return "", err
	}
	return dest, nil
}
