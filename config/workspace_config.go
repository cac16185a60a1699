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

// describes the notebook workspace in which the SDK runs
type workspaceConfig struct {
	// the user's home directory inside the IDE
	HomeDir string `yaml:"home_dir"`
	// directory (relative to HomeDir unless absolute) into which files are cached
	CacheDir string `yaml:"cache_dir"`
	// name of the download ledger file within HomeDir
	CacheLogName string `yaml:"cache_log_name"`
	// collections whose fields can be queried
	QueryableCollections []string `yaml:"queryable_collections"`
	// HTTP request timeout (seconds)
	Timeout int `yaml:"timeout"`
	// how long a collection's field listing is cached (seconds)
	FieldCacheTTL int `yaml:"field_cache_ttl"`
	// the notebook currently being executed, recorded with uploads
	Notebook string `yaml:"notebook,omitempty"`
	// name of the file within HomeDir recording the last scheduled notebook job
	JobRecordName string `yaml:"job_record_name"`
	// name of the file within HomeDir whose presence marks an instance created
	// by HISE itself (e.g. to run a scheduled notebook)
	DerivedInstanceFlag string `yaml:"derived_instance_flag"`
}

// settings for the metadata service that identifies the running instance
type authConfig struct {
	// base URL of the instance metadata service
	MetadataURL string `yaml:"metadata_url"`
	// server used when the metadata service doesn't advertise one
	DefaultServer string `yaml:"default_server"`
	// account used in debug mode
	DebugAccountGuid string `yaml:"debug_account_guid"`
}
