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

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

// a valid services config entry
const VALID_SERVICES string = `
services:
  ledger:
    server: ${TEST_HISE_SERVER}
    paths:
      ledger_name: ledger
      file_search_path: ledger/file/search
      sample_search_path: ledger/sample/search
      subject_search_path: ledger/subject/search
  hydration:
    paths:
      file_search_path: hydration/file
  toolchain:
    paths:
      upload_file_path: toolchain/upload
  tracer:
    paths:
      trace_path: tracer/trace
`

// a valid workspace config entry
const VALID_WORKSPACE string = `
workspace:
  home_dir: /home/jovyan
  cache_dir: input
  cache_log_name: .hise_download_log.csv
`

// tests whether config.Init reports an error for blank input
func TestInitRejectsBlankInput(t *testing.T) {
	b := []byte("")
	err := Init(b)
	assert.NotNil(t, err, "Blank config didn't trigger an error.")
}

// tests whether config.Init rejects a configuration with no services
func TestInitRejectsNoServicesDefined(t *testing.T) {
	err := Init([]byte(VALID_WORKSPACE))
	assert.NotNil(t, err, "Config with no services didn't trigger an error.")
}

// tests whether config.Init rejects a configuration missing a required service
func TestInitRejectsMissingService(t *testing.T) {
	yaml := `
services:
  ledger:
    paths:
      file_search_path: ledger/file/search
` + VALID_WORKSPACE
	err := Init([]byte(yaml))
	assert.NotNil(t, err, "Config without a hydration service didn't trigger an error.")
}

// tests whether config.Init rejects a bad workspace
func TestInitRejectsBadWorkspace(t *testing.T) {
	yaml := VALID_SERVICES + "workspace:\n  cache_dir: input\n"
	err := Init([]byte(yaml))
	assert.NotNil(t, err, "Config with no home_dir didn't trigger an error.")

	yaml = VALID_SERVICES + VALID_WORKSPACE + "  timeout: 0\n"
	err = Init([]byte(yaml))
	assert.NotNil(t, err, "Config with zero timeout didn't trigger an error.")

	yaml = VALID_SERVICES + "workspace:\n  home_dir: /home/jovyan\n  cache_log_name: logs/ledger.csv\n"
	err = Init([]byte(yaml))
	assert.NotNil(t, err, "Config with a nested ledger path didn't trigger an error.")

	yaml = VALID_SERVICES + VALID_WORKSPACE + "  job_record_name: jobs/last\n"
	err = Init([]byte(yaml))
	assert.NotNil(t, err, "Config with a nested job record didn't trigger an error.")
}

// Tests whether config.Init properly initializes its globals for valid input.
func TestInitProperlySetsGlobals(t *testing.T) {
	assert := assert.New(t)
	os.Setenv("TEST_HISE_SERVER", "localhost:8080")
	yaml := VALID_SERVICES + VALID_WORKSPACE
	err := Init([]byte(yaml))
	assert.Nil(err, fmt.Sprintf("Valid YAML input produced an error: %s", err))

	assert.Equal(4, len(Services))
	assert.Equal("localhost:8080", Services[Ledger].Server)
	path, found := Services[Ledger].Path("sample_search_path")
	assert.True(found)
	assert.Equal("ledger/sample/search", path)
	_, found = Services[Tracer].Path("study_space_path")
	assert.False(found)

	// defaults
	assert.Equal([]string{"file", "sample", "subject"}, Workspace.QueryableCollections)
	assert.Equal(120, Workspace.Timeout)
	assert.Equal(100, Upload.HarvestLowerBoundMB)
	assert.Equal("app.py", Abstraction.EntryFile)
	assert.Equal(4, len(Abstraction.ConfigFiles))

	assert.Equal("status", Storage.TagField)
	assert.Equal("Completed", Schedule.CompleteStatus)

	assert.Equal("/home/jovyan/input", CacheDirectory())
	assert.Equal("/home/jovyan/.hise_download_log.csv", LedgerFile())
	assert.Equal("/home/jovyan/.notebookschedulerjobid", JobRecordFile())
	assert.Equal("/home/jovyan/.derivedinstance", DerivedInstanceFile())
}

// tests whether the default configuration is valid
func TestInitDefault(t *testing.T) {
	assert := assert.New(t)
	os.Setenv("HOME", "/home/jovyan")
	err := InitDefault()
	assert.Nil(err)
	assert.Equal("/home/jovyan", Workspace.HomeDir)
	assert.Equal(5, len(Services[Tracer].Paths))
	_, found := Services[Amds].Path("project_path")
	assert.True(found)
	for _, name := range []string{"user_folder_path", "project_folder_path", "project_store_path"} {
		_, found = Services[Hydration].Path(name)
		assert.True(found, name)
	}
	for _, name := range []string{"visualization_path", "save_dash_app_path",
		"deploy_dash_app_path", "scheduler_path"} {
		_, found = Services[Toolchain].Path(name)
		assert.True(found, name)
	}
}

// tests whether .env files fill in unset variables only
func TestLoadDotEnv(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	err := os.WriteFile(envFile,
		[]byte("HISE_DOTENV_NEW=fromfile\nHISE_DOTENV_SET=fromfile\n"), 0644)
	assert.Nil(err)

	os.Setenv("HISE_DOTENV_SET", "fromenv")
	err = LoadDotEnv(envFile)
	assert.Nil(err)
	assert.Equal("fromfile", os.Getenv("HISE_DOTENV_NEW"))
	assert.Equal("fromenv", os.Getenv("HISE_DOTENV_SET"))

	err = LoadDotEnv(filepath.Join(dir, "missing.env"))
	assert.Nil(err)
}

// this function gets called at the begіnning of a test session
func setup() {
}

// this function gets called after all tests have been run
func breakdown() {
}

// This runs setup, runs all tests, and does breakdown.
func TestMain(m *testing.M) {
	var status int
	setup()
	status = m.Run()
	breakdown()
	os.Exit(status)
}
