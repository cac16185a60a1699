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

// parameters governing file uploads
type uploadConfig struct {
	// total upload size (MB) above which files are harvested from the IDE
	// instead of being sent in the request body
	HarvestLowerBoundMB int `yaml:"harvest_lower_bound_mb"`
	// minimum number of characters in an upload title
	MinTitleLength int `yaml:"min_title_length"`
	// permissible destinations for uploaded files
	Stores []string `yaml:"stores"`
}

// parameters for packaging abstraction (data app) bundles
type abstractionConfig struct {
	// directory holding the fixed configuration files copied into each bundle
	ConfigsDir string `yaml:"configs_dir"`
	// names of the fixed configuration files
	ConfigFiles []string `yaml:"config_files"`
	// name of the bundle's entry file
	EntryFile string `yaml:"entry_file"`
	// name of the archive sent to the toolchain
	ArchiveName string `yaml:"archive_name"`
}

// tags applied to files in project stores
type storageConfig struct {
	// the field of a file action carrying the tag
	TagField string `yaml:"tag_field"`
	// marks a file for promotion to the permanent store
	PromotedTag string `yaml:"promoted_tag"`
	// returns a promoted or deleted file to the store
	AvailableTag string `yaml:"available_tag"`
	// marks a file for deletion
	DeletedTag string `yaml:"deleted_tag"`
}

// parameters for scheduled notebook jobs
type scheduleConfig struct {
	// the platform on which notebooks run unless another is given
	DefaultPlatform string `yaml:"default_platform"`
	// the status of a job that has finished
	CompleteStatus string `yaml:"complete_status"`
}
