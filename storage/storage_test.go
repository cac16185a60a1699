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
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/aifimmunology/hise/backend"
	"github.com/aifimmunology/hise/config"
	"github.com/aifimmunology/hise/core"
	"github.com/aifimmunology/hise/hisetest"
	"github.com/aifimmunology/hise/ledger"
)

var server *hisetest.Server
var homeDir string

// files in every fake project folder and store
var sharedFiles = []SharedFile{
	{Id: "PF1", Name: "upload/a.csv"},
	{Id: "PF2", Name: "upload/sub/b.csv"},
	{Id: "PF3", Name: "upload/sub/c.csv"},
	{Id: "PF4", Name: "top.txt"},
}

func client() *backend.Client {
	return backend.NewClient(server.Authorizer())
}

// returns the requests received by the server with the given method
func requestsWith(method string) []hisetest.Request {
	var matches []hisetest.Request
	for _, r := range server.Requests() {
		if r.Method == method {
			matches = append(matches, r)
		}
	}
	return matches
}

// tests listing project folders and their files
func TestProjectFolderListing(t *testing.T) {
	assert := assert.New(t)
	folders := NewProjectFolders(client(), ledger.Default(false))
	ctx := context.Background()
	server.Reset()

	names, err := folders.List(ctx)
	assert.Nil(err)
	assert.Equal([]string{"proj1", "proj2"}, names)

	files, err := folders.Files(ctx, "proj1")
	assert.Nil(err)
	assert.Equal(sharedFiles, files)
	posts := requestsWith("POST")
	assert.Equal(1, len(posts))
	assert.Equal("/hydration/projectfolder/files", posts[0].Path)
	assert.JSONEq(`{"folders": ["proj1"]}`, string(posts[0].Body))

	table, err := folders.FileTable(ctx, "proj1")
	assert.Nil(err)
	assert.Equal([]string{"id", "name", "folder_name"}, table.Columns())
	assert.Equal(4, table.Len())
	assert.Equal("proj1", table.Value(3, "folder_name"))

	_, err = folders.Files(ctx, "")
	assert.True(core.IsValidation(err))
}

// tests that downloaded project folder files are recorded in the ledger
func TestProjectFolderDownload(t *testing.T) {
	assert := assert.New(t)
	folders := NewProjectFolders(client(), ledger.New(filepath.Join(t.TempDir(), "ledger.csv"), false))
	ctx := context.Background()
	dir := t.TempDir()

	path, err := folders.Download(ctx, dir, "proj1", "upload/a.csv")
	assert.Nil(err)
	assert.Equal(filepath.Join(dir, "proj1", "a.csv"), path)
	data, err := os.ReadFile(path)
	assert.Nil(err)
	assert.Equal("projectfolder proj1 upload/a.csv", string(data))

	path, err = folders.Download(ctx, dir, "proj1", "top.txt")
	assert.Nil(err)
	assert.Equal(filepath.Join(dir, "proj1", "top.txt"), path)

	entries, err := folders.Ledger.Entries()
	assert.Nil(err)
	assert.Equal(2, len(entries))
	assert.Equal("PF1", entries[0].FileId)
	assert.Equal("", entries[0].SampleId)
	assert.Equal("PF4", entries[1].FileId)

	_, err = folders.Download(ctx, dir, "proj1", "upload/missing.csv")
	assert.True(core.IsValidation(err))
}

// tests downloading every file in a subdirectory
func TestProjectStoreSubdirDownload(t *testing.T) {
	assert := assert.New(t)
	stores := NewProjectStores(client(), ledger.New(filepath.Join(t.TempDir(), "ledger.csv"), false))
	ctx := context.Background()
	dir := t.TempDir()

	names, err := stores.List(ctx)
	assert.Nil(err)
	assert.Equal([]string{"store1"}, names)

	paths, err := stores.DownloadSubdir(ctx, dir, "store1", "sub")
	assert.Nil(err)
	assert.Equal([]string{
		filepath.Join(dir, "store1", "sub", "b.csv"),
		filepath.Join(dir, "store1", "sub", "c.csv"),
	}, paths)
	for _, id := range []string{"PF2", "PF3"} {
		found, err := stores.Ledger.Contains(id)
		assert.Nil(err)
		assert.True(found, id)
	}
	found, _ := stores.Ledger.Contains("PF1")
	assert.False(found)

	_, err = stores.DownloadSubdir(ctx, dir, "store1", "nothing")
	assert.True(core.IsValidation(err))
}

// tests tagging files in a project store
func TestProjectStoreActions(t *testing.T) {
	assert := assert.New(t)
	stores := NewProjectStores(client(), ledger.Default(false))
	ctx := context.Background()
	server.Reset()

	assert.Nil(stores.Promote(ctx, "store1", "upload/a.csv"))
	assert.Nil(stores.UndoPromote(ctx, "store1", "upload/a.csv"))
	assert.Nil(stores.Delete(ctx, "store1", "top.txt"))
	assert.Nil(stores.UndoDelete(ctx, "store1", "top.txt"))

	puts := requestsWith("PUT")
	assert.Equal(4, len(puts))
	assert.Equal("/hydration/projectstore/store1/files/upload/a.csv", puts[0].Path)
	assert.JSONEq(`{"status": "promoted"}`, string(puts[0].Body))
	assert.JSONEq(`{"status": "available"}`, string(puts[1].Body))
	assert.JSONEq(`{"status": "deleted"}`, string(puts[2].Body))
	assert.JSONEq(`{"status": "available"}`, string(puts[3].Body))

	err := stores.Promote(ctx, "store1", "in-use.csv")
	assert.True(core.IsBackend(err))
	assert.Contains(err.Error(), "File is in use")

	assert.True(core.IsValidation(stores.Delete(ctx, "", "top.txt")))
}

// tests listing and changing private folders
func TestPrivateFolders(t *testing.T) {
	assert := assert.New(t)
	folders := NewPrivateFolders(client())
	ctx := context.Background()
	server.Reset()

	list, err := folders.List(ctx)
	assert.Nil(err)
	assert.Equal(1, len(list))
	assert.Equal("docs", list[0]["folder"])

	files, err := folders.Files(ctx, "docs")
	assert.Nil(err)
	assert.Equal(1, len(files))
	assert.Equal("a.txt", files[0]["name"])

	assert.Nil(folders.Create(ctx, "scratch", 30))
	assert.Nil(folders.Create(ctx, "keep", 0))
	assert.True(core.IsValidation(folders.Create(ctx, "bad", -1)))
	assert.Nil(folders.Move(ctx, "a.txt", "docs", "scratch"))
	assert.Nil(folders.Rename(ctx, "docs", "a.txt", "b.txt"))
	assert.True(core.IsValidation(folders.Rename(ctx, "docs", "a.txt", strings.Repeat("x", 1024))))
	assert.Nil(folders.DeleteFile(ctx, "docs", "b.txt"))
	assert.Nil(folders.DeleteFolder(ctx, "scratch"))

	posts := requestsWith("POST")
	assert.Equal(2, len(posts))
	assert.JSONEq(`{"folderName": "scratch", "fileExpiration": "30"}`, string(posts[0].Body))
	assert.JSONEq(`{"folderName": "keep", "fileExpiration": ""}`, string(posts[1].Body))
	puts := requestsWith("PUT")
	assert.Equal(2, len(puts))
	assert.Equal("/hydration/userfolder/docs/files/a.txt", puts[0].Path)
	assert.JSONEq(`{"newFolder": "scratch"}`, string(puts[0].Body))
	assert.JSONEq(`{"newName": "b.txt"}`, string(puts[1].Body))
	deletes := requestsWith("DELETE")
	assert.Equal(2, len(deletes))
	assert.Equal("/hydration/userfolder/docs/files/b.txt", deletes[0].Path)
	assert.Equal("/hydration/userfolder/scratch", deletes[1].Path)
}

// tests moving files into and out of private folders
func TestPrivateFolderTransfers(t *testing.T) {
	assert := assert.New(t)
	folders := NewPrivateFolders(client())
	ctx := context.Background()
	server.Reset()

	notes := filepath.Join(homeDir, "notes.txt")
	assert.Nil(os.WriteFile(notes, []byte("my notes"), 0644))
	assert.Nil(folders.Upload(ctx, "docs", notes))
	posts := requestsWith("POST")
	assert.Equal(1, len(posts))
	assert.Equal("/hydration/userfolder/docs/files", posts[0].Path)
	assert.True(strings.HasPrefix(posts[0].Header.Get("Content-Type"), "multipart/form-data"))
	assert.Contains(string(posts[0].Body), "my notes")

	dir := t.TempDir()
	path, err := folders.Download(ctx, dir, "docs", "a.txt")
	assert.Nil(err)
	assert.Equal(filepath.Join(dir, "docs", "a.txt"), path)
	data, err := os.ReadFile(path)
	assert.Nil(err)
	assert.Equal("private docs a.txt", string(data))

	_, err = folders.Download(ctx, dir, "docs", "")
	assert.True(core.IsValidation(err))
	_, err = folders.Download(ctx, dir, "docs", "gone.txt")
	assert.True(core.IsBackend(err))
	_, err = os.Stat(filepath.Join(dir, "docs", "gone.txt"))
	assert.True(os.IsNotExist(err))
}

// serves the shared files of project folders or stores
func handleShared(kind string) {
	base := "hydration/" + kind
	server.HandleJSON("POST", base+"/files", 200, []any{map[string]any{"files": sharedFiles}})
	server.Handle("GET", base+"/{name}/files/{file:.*}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		fmt.Fprintf(w, "%s %s %s", kind, vars["name"], vars["file"])
	})
}

// this function gets called at the begіnning of a test session
func setup() {
	var err error
	homeDir, err = os.MkdirTemp(os.TempDir(), "hise-storage-tests-")
	if err != nil {
		panic(err)
	}
	server = hisetest.NewServer()
	err = config.Init([]byte(hisetest.Config(server.Host(), homeDir)))
	if err != nil {
		panic(err)
	}

	server.HandleJSON("GET", "hydration/projectfolder", 200, map[string]any{"folders": []string{"proj1", "proj2"}})
	handleShared("projectfolder")
	server.HandleJSON("GET", "hydration/projectstore", 200, map[string]any{"stores": []string{"store1"}})
	handleShared("projectstore")
	server.Handle("PUT", "hydration/projectstore/{store}/files/{file:.*}", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["file"] == "in-use.csv" {
			hisetest.WriteJSON(w, 409, hisetest.ErrorBody("File is in use"))
			return
		}
		hisetest.WriteJSON(w, 200, map[string]any{"ok": true})
	})

	ok := map[string]any{"ok": true}
	server.HandleJSON("GET", "hydration/userfolder", 200, []any{
		map[string]any{"folder": "docs", "files": []string{"a.txt"}},
	})
	server.HandleJSON("POST", "hydration/userfolder", 200, ok)
	server.HandleJSON("GET", "hydration/userfolder/{folder}/files", 200, map[string]any{
		"result": []any{map[string]any{"name": "a.txt"}},
	})
	server.HandleJSON("POST", "hydration/userfolder/{folder}/files", 200, ok)
	server.HandleJSON("PUT", "hydration/userfolder/{folder}/files/{file}", 200, ok)
	server.HandleJSON("DELETE", "hydration/userfolder/{folder}/files/{file}", 200, ok)
	server.HandleJSON("DELETE", "hydration/userfolder/{folder}", 200, ok)
	server.Handle("GET", "hydration/userfolder/{folder}/files/{file}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if vars["file"] == "gone.txt" {
			hisetest.WriteJSON(w, 404, hisetest.ErrorBody("No such file"))
			return
		}
		fmt.Fprintf(w, "private %s %s", vars["folder"], vars["file"])
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
