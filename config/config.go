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
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Global config variables, available once Init() has been called.
var Services map[string]serviceConfig
var Workspace workspaceConfig
var Auth authConfig
var Upload uploadConfig
var Abstraction abstractionConfig
var Storage storageConfig
var Schedule scheduleConfig

// This struct performs the unmarshalling from the YAML config file and then
// copies its fields to the globals above.
type configFile struct {
	Services    map[string]serviceConfig `yaml:"services"`
	Workspace   workspaceConfig          `yaml:"workspace"`
	Auth        authConfig               `yaml:"auth"`
	Upload      uploadConfig             `yaml:"upload"`
	Abstraction abstractionConfig        `yaml:"abstraction"`
	Storage     storageConfig            `yaml:"storage"`
	Schedule    scheduleConfig           `yaml:"schedule"`
}

// the configuration used by InitDefault, matching a standard IDE instance
const defaultConfig string = `
services:
  ledger:
    paths:
      ledger_name: ledger
      file_search_path: ledger/file/search
      sample_search_path: ledger/sample/search
      subject_search_path: ledger/subject/search
      result_file_search_path: ledger/resultfile
  hydration:
    paths:
      file_search_path: hydration/file
      query_search_path: hydration/query
      download_path: hydration/download
      upload_path: hydration/source/studyspace/file
      static_image_path: hydration/static/image
      user_folder_path: hydration/userfolder
      project_folder_path: hydration/projectfolder
      project_store_path: hydration/projectstore
  toolchain:
    paths:
      upload_file_path: toolchain/upload
      abstraction_path: toolchain/abstraction
      visualization_path: toolchain/visualization
      save_dash_app_path: toolchain/visualization/dash
      deploy_dash_app_path: toolchain/deploy/visualization
      scheduler_path: toolchain/scheduler
  tracer:
    paths:
      study_space_path: tracer/studyspace
      trace_path: tracer/trace
      file_set_path: tracer/fileset
      project_path: tracer/project
      filetype_path: tracer/filetype
  amds:
    paths:
      project_path: amds/project
workspace:
  home_dir: ${HOME}
  cache_dir: input
  cache_log_name: .hise_download_log.csv
  notebook: ${TEST_SCHEDULER_NOTEBOOK}
auth:
  metadata_url: http://metadata.google.internal/computeMetadata/v1/instance
  default_server: dev.allenimmunology.org
  debug_account_guid: 10f58583-1cdf-4f18-8de4-dc1ca94783e2
abstraction:
  configs_dir: ${VIZ_CONFIGS_PATH}
`

// This helper reads configuration data, returning an error indicating success
// or failure. All environment variables of the form ${ENV_VAR} are expanded.
func readConfig(bytes []byte) error {
	// Before we do anything else, expand any provided environment variables.
	bytes = []byte(os.ExpandEnv(string(bytes)))

	var conf configFile
	conf.Workspace.CacheDir = "input"
	conf.Workspace.CacheLogName = ".hise_download_log.csv"
	conf.Workspace.QueryableCollections = []string{"file", "sample", "subject"}
	conf.Workspace.Timeout = 120
	conf.Workspace.FieldCacheTTL = 300
	conf.Auth.MetadataURL = "http://metadata.google.internal/computeMetadata/v1/instance"
	conf.Upload.HarvestLowerBoundMB = 100
	conf.Upload.MinTitleLength = 10
	conf.Upload.Stores = []string{"project", "permanent"}
	conf.Abstraction.ConfigFiles = []string{"config.toml", "build.sh", "entrypoint.sh", "environment.yml"}
	conf.Abstraction.EntryFile = "app.py"
	conf.Abstraction.ArchiveName = "abstraction_app.tar.gz"
	conf.Workspace.JobRecordName = ".notebookschedulerjobid"
	conf.Workspace.DerivedInstanceFlag = ".derivedinstance"
	conf.Storage.TagField = "status"
	conf.Storage.PromotedTag = "promoted"
	conf.Storage.AvailableTag = "available"
	conf.Storage.DeletedTag = "deleted"
	conf.Schedule.DefaultPlatform = "notebook"
	conf.Schedule.CompleteStatus = "Completed"
	err := yaml.Unmarshal(bytes, &conf)
	if err != nil {
		slog.Error(fmt.Sprintf("Couldn't parse configuration data: %s", err))
		return err
	}

	// copy the config data into place
	Services = conf.Services
	Workspace = conf.Workspace
	Auth = conf.Auth
	Upload = conf.Upload
	Abstraction = conf.Abstraction
	Storage = conf.Storage
	Schedule = conf.Schedule

	return err
}

// This helper validates the given workspace parameters, returning an
// error indicating success or failure.
func validateWorkspaceParameters(params workspaceConfig) error {
	if params.HomeDir == "" {
		return fmt.Errorf("No home_dir was given for the workspace")
	}
	if params.CacheLogName == "" || params.CacheLogName != filepath.Base(params.CacheLogName) {
		return fmt.Errorf("Invalid cache_log_name: '%s' (must be a file name)",
			params.CacheLogName)
	}
	if len(params.QueryableCollections) == 0 {
		return fmt.Errorf("No queryable_collections were given")
	}
	if params.Timeout <= 0 {
		return fmt.Errorf("Invalid timeout: %d (must be positive)", params.Timeout)
	}
	if params.FieldCacheTTL < 0 {
		return fmt.Errorf("Invalid field_cache_ttl: %d (must be non-negative)",
			params.FieldCacheTTL)
	}
	for _, name := range []string{params.JobRecordName, params.DerivedInstanceFlag} {
		if name == "" || name != filepath.Base(name) {
			return fmt.Errorf("Invalid workspace file name: '%s' (must be a file name)", name)
		}
	}
	return nil
}

// This helper validates the configuration, returning an error that indicates
// success or failure.
func validateConfig() error {
	if len(Services) == 0 {
		return fmt.Errorf("No services were provided!")
	}
	for _, name := range []string{Ledger, Hydration, Toolchain, Tracer} {
		service, found := Services[name]
		if !found {
			return fmt.Errorf("The '%s' service is not configured", name)
		}
		if len(service.Paths) == 0 {
			return fmt.Errorf("No paths were given for the '%s' service", name)
		}
	}

	err := validateWorkspaceParameters(Workspace)
	if err != nil {
		return err
	}

	if Upload.HarvestLowerBoundMB <= 0 {
		return fmt.Errorf("Invalid harvest_lower_bound_mb: %d (must be positive)",
			Upload.HarvestLowerBoundMB)
	}
	if len(Upload.Stores) == 0 {
		return fmt.Errorf("No upload stores were provided!")
	}
	if Abstraction.EntryFile == "" || Abstraction.ArchiveName == "" {
		return fmt.Errorf("Abstractions require an entry_file and an archive_name")
	}
	if Storage.TagField == "" {
		return fmt.Errorf("No tag_field was given for project stores")
	}
	if Schedule.DefaultPlatform == "" {
		return fmt.Errorf("No default_platform was given for scheduled notebooks")
	}
	return nil
}

// Initializes the SDK configuration using the given YAML byte data.
func Init(yamlData []byte) error {

	// Read the configuration from our YAML data.
	err := readConfig(yamlData)
	if err != nil {
		return err
	}

	// Validate the configuration.
	err = validateConfig()
	return err
}

// Initializes the SDK configuration for a standard IDE instance.
func InitDefault() error {
	return Init([]byte(defaultConfig))
}

// Loads environment variables from the given .env file without overriding any
// that are already set. Call this before Init so that the variables are
// available for expansion. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	env, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	for key, value := range env {
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
	return nil
}

// Returns the absolute path of the directory into which files are cached.
func CacheDirectory() string {
	if filepath.IsAbs(Workspace.CacheDir) {
		return Workspace.CacheDir
	}
	return filepath.Join(Workspace.HomeDir, Workspace.CacheDir)
}

// Returns the absolute path of the download ledger file.
func LedgerFile() string {
	return filepath.Join(Workspace.HomeDir, Workspace.CacheLogName)
}

// Returns the absolute path of the file recording the last scheduled notebook
// job.
func JobRecordFile() string {
	return filepath.Join(Workspace.HomeDir, Workspace.JobRecordName)
}

// Returns the absolute path of the file marking a derived instance.
func DerivedInstanceFile() string {
	return filepath.Join(Workspace.HomeDir, Workspace.DerivedInstanceFlag)
}
