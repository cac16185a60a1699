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

package upload

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/pgzip"

	"github.com/aifimmunology/hise/core"
	"github.com/aifimmunology/hise/frictionless"
)

// the manifest name of bundles that aren't given one
const defaultBundleName = "bundle"

// BundleSpec describes the files gathered into a bundle.
type BundleSpec struct {
	// the working directory in which the bundle is staged (created if needed)
	WorkDir string
	// the bundle's entry file
	EntryFile string
	// the directory relative to which files are placed in the bundle; the
	// entry file's directory if empty
	Root string
	// directory holding the fixed configuration files
	ConfigsDir string
	// names of the fixed configuration files within ConfigsDir
	ConfigFiles []string
	// other files belonging to the bundle, within the entry file's directory
	// tree
	AdditionalFiles []string
	// name, title and description recorded in the bundle's manifest
	Name, Title, Description string
	// the notebook that created the bundle, credited in the manifest
	Notebook string
}

// A Bundle is a validated set of files ready to be staged into a working
// directory and archived. Bundles are immutable once created.
type Bundle struct {
	spec BundleSpec
	// absolute path of the directory relative to which files are placed
	root string
	// path of the entry file relative to root
	entry string
	// paths of the additional files relative to root
	relative []string
}

// returns an absolute path for the given regular file, or a ValidationError if
// there's no such file
func regularFile(path, role string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return "", core.Invalid("The %s '%s' is not a valid file", role, path)
	}
	return abs, nil
}

// returns the path of file relative to root, failing if it lies outside root
func within(root, file string) (string, bool) {
	rel, err := filepath.Rel(root, file)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// Creates a bundle from the given description, checking that each of its
// files exists and that every file lies within the bundle's root.
func NewBundle(spec BundleSpec) (*Bundle, error) {
	if spec.WorkDir == "" {
		return nil, core.Invalid("No working directory was given for the bundle")
	}
	entry, err := regularFile(spec.EntryFile, "entry file")
	if err != nil {
		return nil, err
	}
	b := Bundle{
		spec: spec,
		root: filepath.Dir(entry),
	}
	if spec.Root != "" {
		if b.root, err = filepath.Abs(spec.Root); err != nil {
			return nil, err
		}
	}
	var ok bool
	if b.entry, ok = within(b.root, entry); !ok {
		return nil, core.Invalid("The entry file %s is not within %s", spec.EntryFile, b.root)
	}
	b.spec.EntryFile = entry
	if b.spec.Name == "" {
		b.spec.Name = defaultBundleName
	}
	b.spec.ConfigFiles = slices.Clone(spec.ConfigFiles)
	for _, name := range b.spec.ConfigFiles {
		if name != filepath.Base(name) {
			return nil, core.Invalid("Invalid configuration file name: '%s'", name)
		}
		if _, err := regularFile(filepath.Join(spec.ConfigsDir, name), "configuration file"); err != nil {
			return nil, err
		}
	}

	b.spec.AdditionalFiles = make([]string, len(spec.AdditionalFiles))
	for i, file := range spec.AdditionalFiles {
		abs, err := regularFile(file, "file")
		if err != nil {
			return nil, err
		}
		rel, ok := within(b.root, abs)
		if !ok {
			return nil, core.Invalid("The file '%s' is not within the directory of %s (%s)",
				file, filepath.Base(entry), b.root)
		}
		b.spec.AdditionalFiles[i] = abs
		b.relative = append(b.relative, rel)
	}
	return &b, nil
}

// Returns the bundle's working directory.
func (b *Bundle) WorkDir() string {
	return b.spec.WorkDir
}

// Returns the paths of the bundle's files relative to its working directory,
// in the order in which they are staged.
func (b *Bundle) Files() []string {
	files := []string{b.entry}
	files = append(files, b.spec.ConfigFiles...)
	return append(files, b.relative...)
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Copies the bundle's files into its working directory and writes a manifest
// describing them.
func (b *Bundle) Stage() error {
	sources := []string{b.spec.EntryFile}
	for _, name := range b.spec.ConfigFiles {
		sources = append(sources, filepath.Join(b.spec.ConfigsDir, name))
	}
	sources = append(sources, b.spec.AdditionalFiles...)

	manifest := frictionless.DataPackage{
		Name:        frictionless.Name(b.spec.Name),
		Title:       b.spec.Title,
		Description: b.spec.Description,
	}
	if b.spec.Notebook != "" {
		manifest.Contributors = []frictionless.Contributor{
			{Title: b.spec.Notebook, Role: "author"},
		}
	}
	for i, file := range b.Files() {
		if err := copyFile(sources[i], filepath.Join(b.spec.WorkDir, file)); err != nil {
			return fmt.Errorf("staging %s: %w", sources[i], err)
		}
		resource, err := frictionless.NewResource(b.spec.WorkDir, file)
		if err != nil {
			return err
		}
		manifest.Resources = append(manifest.Resources, resource)
	}
	return manifest.Save(filepath.Join(b.spec.WorkDir, frictionless.ManifestName))
}

// Archives the contents of the staged working directory into a gzipped
// tarball with the given name, placed in the working directory. Entries carry
// no path prefix. Returns the path of the archive.
func (b *Bundle) Archive(name string) (string, error) {
	archive := filepath.Join(b.spec.WorkDir, name)
	f, err := os.Create(archive)
	if err != nil {
		return "", err
	}
	defer f.Close()
	gz := pgzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	err = filepath.WalkDir(b.spec.WorkDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == b.spec.WorkDir || path == archive {
			return nil
		}
		rel, err := filepath.Rel(b.spec.WorkDir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(tw, in)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("archiving %s: %w", b.spec.WorkDir, err)
	}
	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	slog.Debug(fmt.Sprintf("Archived bundle %s into %s", b.spec.WorkDir, archive))
	return archive, f.Close()
}
