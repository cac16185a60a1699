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

// Package fetch retrieves file, sample and subject records from HISE services
// and caches the files they describe in the workspace.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aifimmunology/hise/backend"
	"github.com/aifimmunology/hise/catalog"
	"github.com/aifimmunology/hise/config"
	"github.com/aifimmunology/hise/core"
	"github.com/aifimmunology/hise/ledger"
	"github.com/aifimmunology/hise/query"
)

// A Request selects files in exactly one of three ways: by ID, by the ID of a
// query saved by HISE's advanced search, or by a filter whose keys are field
// names and whose values list accepted values.
type Request struct {
	Ids     []string
	QueryId string
	Filter  map[string][]any
}

// Checks that exactly one way of selecting files is given.
func (r Request) Validate() error {
	n := 0
	if r.Ids != nil {
		n++
	}
	if r.QueryId != "" {
		n++
	}
	if r.Filter != nil {
		n++
	}
	if n != 1 {
		return core.Invalid("Exactly one of file IDs, a query ID or a query filter must be given (got %d)", n)
	}
	return nil
}

// The outcome of fetching one file.
type FileResult struct {
	// the file's ID
	Id string `json:"id"`
	// true if the file was found (and, where requested, downloaded)
	Status bool `json:"status"`
	// "OK", or the reason the file could not be fetched
	Message string `json:"message"`
	// the file's descriptors: a record, or a list of records for multi-panel
	// files
	Descriptors any `json:"descriptors,omitempty"`
	// the URL from which the file's contents can be downloaded
	Url string `json:"url,omitempty"`
	// the path of the downloaded file, if any
	Path string `json:"path,omitempty"`
	// the ID requested, if the service answered with a replica of it
	RequestedId string `json:"requestedId,omitempty"`
}

const okMessage = "OK"

// marks the result as failed with the given reason
func (r *FileResult) fail(message string) {
	r.Status = false
	r.Message = message
}

// This error type is returned when every requested file failed. It unwraps
// to a BackendError.
type AllFailedError struct {
	URL     string
	Results []FileResult
}

func (e AllFailedError) Error() string {
	return e.Unwrap().Error()
}

func (e AllFailedError) Unwrap() error {
	messages := make([]string, len(e.Results))
	for i, r := range e.Results {
		messages[i] = fmt.Sprintf("%s: %s", r.Id, r.Message)
	}
	return &core.BackendError{
		Method:  http.MethodGet,
		URL:     e.URL,
		Message: "No requested file could be fetched (" + strings.Join(messages, "; ") + ")",
	}
}

// A Fetcher retrieves records from HISE services and records the files it
// downloads in a ledger.
type Fetcher struct {
	Client     *backend.Client
	Translator *query.Translator
	Ledger     *ledger.Ledger
}

// Creates a fetcher that sends requests with the given client and records
// downloads in the given ledger.
func New(client *backend.Client, l *ledger.Ledger) *Fetcher {
	return &Fetcher{
		Client:     client,
		Translator: query.NewTranslator(catalog.New(client)),
		Ledger:     l,
	}
}

// Posts a filter to a ledger search path, returning the records in the
// response's payload. A null payload (no matches) is reported with
// found == false.
func (f *Fetcher) search(ctx context.Context, pathName string,
	filter query.Filter) (records []core.Record, found bool, err error) {
	u, err := f.Client.URL(ctx, config.Ledger, pathName, "", nil)
	if err != nil {
		return nil, false, err
	}
	data, err := f.Client.Post(ctx, u, filter.Document())
	if err != nil {
		return nil, false, err
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, false, &core.SchemaError{Message: fmt.Sprintf("search response is not an object: %s", err)}
	}
	raw, hasPayload := envelope["payload"]
	if !hasPayload {
		return nil, false, &core.SchemaError{Key: "payload", Message: "search response has no payload"}
	}
	if string(raw) == "null" {
		return nil, false, nil
	}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, false, &core.SchemaError{Key: "payload",
			Message: fmt.Sprintf("expected a list of records: %s", err)}
	}
	return records, true, nil
}
