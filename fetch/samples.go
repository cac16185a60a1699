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

package fetch

import (
	"context"

	"github.com/aifimmunology/hise/core"
	"github.com/aifimmunology/hise/normalize"
	"github.com/aifimmunology/hise/query"
	"github.com/aifimmunology/hise/tabular"
)

// fields accepted in sample filters beyond those of the sample collection
var extraSampleFields = []string{"subjectGuid"}

// Builds the filter for a search of the given collection from either a list
// of IDs or a filter on the collection's fields, exactly one of which must be
// given.
func (f *Fetcher) collectionFilter(ctx context.Context, collection string, ids []string,
	filter map[string][]any, extraFields ...string) (query.Filter, error) {
	if (ids == nil) == (filter == nil) {
		return nil, core.Invalid("You must specify either %s IDs or a query filter, but not both", collection)
	}
	if ids != nil {
		return query.IdFilter(ids), nil
	}
	fields, err := f.Translator.Catalog.QueryableFields(ctx, collection)
	if err != nil {
		return nil, err
	}
	names := append([]string(nil), extraFields...)
	for _, field := range fields {
		names = append(names, field.Name, field.Qualified())
	}
	if err := query.CheckFields(filter, names); err != nil {
		return nil, err
	}
	return f.Translator.TranslateIn(ctx, collection, filter)
}

// searches the given collection, failing if nothing matches
func (f *Fetcher) searchCollection(ctx context.Context, collection string, ids []string,
	filter map[string][]any, extraFields ...string) ([]core.Record, error) {
	translated, err := f.collectionFilter(ctx, collection, ids, filter, extraFields...)
	if err != nil {
		return nil, err
	}
	records, found, err := f.search(ctx, collection+"_search_path", translated)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, core.Invalid("The %s query resulted in 0 results", collection)
	}
	return records, nil
}

// Retrieves sample records, selected either by ID or by a filter on the
// sample collection's fields (or subjectGuid).
func (f *Fetcher) Samples(ctx context.Context, ids []string, filter map[string][]any) ([]core.Record, error) {
	return f.searchCollection(ctx, "sample", ids, filter, extraSampleFields...)
}

// Retrieves sample records as Samples does and normalizes them into tables.
func (f *Fetcher) ReadSamples(ctx context.Context, ids []string,
	filter map[string][]any) (normalize.SampleTables, error) {
	records, err := f.Samples(ctx, ids, filter)
	if err != nil {
		return normalize.SampleTables{}, err
	}
	return normalize.Samples(records)
}

// Retrieves subject records, selected either by ID or by a filter on the
// subject collection's fields.
func (f *Fetcher) Subjects(ctx context.Context, ids []string, filter map[string][]any) ([]core.Record, error) {
	return f.searchCollection(ctx, "subject", ids, filter)
}

// Retrieves subject records as Subjects does and flattens them into a table
// with one row per subject.
func (f *Fetcher) ReadSubjects(ctx context.Context, ids []string,
	filter map[string][]any) (*tabular.Table, error) {
	records, err := f.Subjects(ctx, ids, filter)
	if err != nil {
		return nil, err
	}
	return normalize.Subjects(records)
}
