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

// the names of the backend services the SDK talks to
const (
	Ledger    = "ledger"
	Hydration = "hydration"
	Toolchain = "toolchain"
	Tracer    = "tracer"
	// project metadata, needed only for abstractions
	Amds = "amds"
)

// connection information for a single backend service
type serviceConfig struct {
	// host (and optional port) of the service; if empty, the server advertised
	// by the metadata service is used
	Server string `yaml:"server,omitempty"`
	// named resource paths relative to the server, e.g. file_search_path
	Paths map[string]string `yaml:"paths"`
}

// returns the resource path with the given name, and whether it is defined
func (s serviceConfig) Path(name string) (string, bool) {
	path, found := s.Paths[name]
	return path, found
}
