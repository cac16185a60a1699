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

// Package frictionless describes bundles of files as Frictionless data
// packages (https://specs.frictionlessdata.io/data-package/), written as a
// manifest alongside the files they describe.
package frictionless

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/frictionlessdata/datapackage-go/datapackage"
	"github.com/frictionlessdata/datapackage-go/validator"
)

// the name of the manifest file within a bundle
const ManifestName = "datapackage.json"

// a Frictionless data package describing a set of related resources
type DataPackage struct {
	// list of contributors to the data package
	Contributors []Contributor `json:"contributors,omitempty"`
	// a timestamp indicated when the package was created
	Created string `json:"created,omitempty"`
	// a Markdown description of the data package
	Description string `json:"description,omitempty"`
	// an array of string keywords to assist users searching for the data package
	// in catalogs
	Keywords []string `json:"keywords,omitempty"`
	// the name of the data package
	Name string `json:"name"`
	// the profile of this descriptor per the DataPackage profiles specification
	Profile string `json:"profile,omitempty"`
	// a list of resources that belong to the package
	Resources []DataResource `json:"resources"`
	// a title or one sentence description for the data package
	Title string `json:"title,omitempty"`
}

// a Frictionless data resource describing a file in a package
// (https://specs.frictionlessdata.io/data-resource/)
type DataResource struct {
	// the size of the resource's file in bytes
	Bytes int64 `json:"bytes"`
	// indicates the format of the resource's file, often used as an extension
	Format string `json:"format,omitempty"`
	// the MD5 hash of the resource's file
	Hash string `json:"hash"`
	// the mediatype/mimetype of the resource (optional, e.g. "text/csv")
	MediaType string `json:"mediatype,omitempty"`
	// the name of the resource
	Name string `json:"name"`
	// a relative path to the resource's file within the package directory
	Path string `json:"path"`
}

// information about a contributor to a DataPackage
type Contributor struct {
	// name/title of the contributor
	Title string `json:"title"`
	// the role of the contributor ("author", "publisher", "maintainer",
	// "wrangler", "contributor")
	Role string `json:"role"`
}

// characters not permitted in package and resource names
var invalidNameChars = regexp.MustCompile(`[^-a-z0-9._/]`)

// Returns a name for a package or resource, made from the given string by
// lowercasing it and replacing characters Frictionless doesn't allow.
func Name(s string) string {
	return invalidNameChars.ReplaceAllString(strings.ToLower(s), "-")
}

// Describes the file at the given path relative to the package directory
// dir.
func NewResource(dir, path string) (DataResource, error) {
	f, err := os.Open(filepath.Join(dir, path))
	if err != nil {
		return DataResource{}, err
	}
	defer f.Close()
	hash := md5.New()
	n, err := io.Copy(hash, f)
	if err != nil {
		return DataResource{}, err
	}
	ext := filepath.Ext(path)
	return DataResource{
		Bytes:     n,
		Format:    strings.TrimPrefix(ext, "."),
		Hash:      hex.EncodeToString(hash.Sum(nil)),
		MediaType: mime.TypeByExtension(ext),
		Name:      Name(filepath.ToSlash(path)),
		Path:      filepath.ToSlash(path),
	}, nil
}

// Returns the package as a generic descriptor.
func (p DataPackage) Descriptor() (map[string]any, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var descriptor map[string]any
	err = json.Unmarshal(data, &descriptor)
	return descriptor, err
}

// Validates the package against the data package profile and writes it to
// the given file.
func (p DataPackage) Save(path string) error {
	descriptor, err := p.Descriptor()
	if err != nil {
		return err
	}
	pkg, err := datapackage.New(descriptor, filepath.Dir(path), validator.InMemoryLoader())
	if err != nil {
		return fmt.Errorf("Invalid data package %s: %w", p.Name, err)
	}
	return pkg.SaveDescriptor(path)
}

// Reads and validates the data package stored in the given file.
func Load(path string) (*datapackage.Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return datapackage.FromString(string(data), filepath.Dir(path), validator.InMemoryLoader())
}
