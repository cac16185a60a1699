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
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aifimmunology/hise/backend"
	"github.com/aifimmunology/hise/config"
)

// the multipart field carrying uploaded files
const fileField = "file"

// A Packager stages bundles, archives them and sends the archives to HISE.
type Packager struct {
	Client *backend.Client
	// name of the archive; the configured abstraction archive name if empty
	ArchiveName string
}

// Stages the given bundle and archives it, returning the path of the archive
// within the bundle's working directory.
func (p Packager) Pack(bundle *Bundle) (string, error) {
	if err := bundle.Stage(); err != nil {
		return "", err
	}
	name := p.ArchiveName
	if name == "" {
		name = config.Abstraction.ArchiveName
	}
	return bundle.Archive(name)
}

// removes a bundle's working directory
func cleanUp(bundle *Bundle) {
	if err := os.RemoveAll(bundle.WorkDir()); err != nil {
		slog.Warn(fmt.Sprintf("Couldn't remove bundle directory %s: %s", bundle.WorkDir(), err))
	}
}

// Stages and archives the given bundle, then posts the archive to the given
// URL in a single multipart request carrying the given form fields. The
// bundle's working directory is removed afterward, whether or not the request
// succeeds. Returns the body of the response.
func (p Packager) Send(ctx context.Context, bundle *Bundle, u string,
	fields map[string]string) ([]byte, error) {
	defer cleanUp(bundle)
	archive, err := p.Pack(bundle)
	if err != nil {
		return nil, err
	}
	return p.Client.PostMultipart(ctx, u, fields, []backend.FilePart{
		{Field: fileField, Path: archive},
	})
}
