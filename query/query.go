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

// Package query translates flat user filters into the filter documents
// accepted by HISE search services.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/aifimmunology/hise/catalog"
	"github.com/aifimmunology/hise/core"
)

// A Predicate includes a record if the field's value is one of the listed
// values.
type Predicate struct {
	In []any `json:"$in"`
}

// A Filter maps qualified field names to predicates, all of which must hold.
type Filter map[string]Predicate

// Returns the filter wrapped as a search request body.
func (f Filter) Document() map[string]any {
	return map[string]any{"filter": f}
}

// Returns the filter's field names, sorted.
func (f Filter) Fields() []string {
	fields := make([]string, 0, len(f))
	for field := range f {
		fields = append(fields, field)
	}
	slices.Sort(fields)
	return fields
}

// fields that are stored under a different name than the one users query by
var rewrites = map[string]string{
	// cohort membership is modeled on the subject collection
	"cohort.cohortGuid": "subject.cohort",
}

// Returns a filter selecting records whose id is one of the given values.
func IdFilter(ids []string) Filter {
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	return Filter{"id": Predicate{In: values}}
}

// A Translator qualifies filter keys with their collections.
type Translator struct {
	Catalog *catalog.Catalog
}

// Creates a translator that resolves fields with the given catalog.
func NewTranslator(c *catalog.Catalog) *Translator {
	return &Translator{Catalog: c}
}

// Translates a filter whose keys are field names (qualified or not) and
// whose values are lists of accepted values.
func (t *Translator) Translate(ctx context.Context, filter map[string][]any) (Filter, error) {
	return t.translate(filter, func(key string) (string, error) {
		return t.Catalog.Resolve(ctx, key)
	})
}

// Translates a filter for a search of the given collection, in which field
// names shared with other collections refer to that collection.
func (t *Translator) TranslateIn(ctx context.Context, collection string,
	filter map[string][]any) (Filter, error) {
	return t.translate(filter, func(key string) (string, error) {
		return t.Catalog.ResolveIn(ctx, collection, key)
	})
}

func (t *Translator) translate(filter map[string][]any,
	resolve func(key string) (string, error)) (Filter, error) {
	result := make(Filter, len(filter))
	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	// the input key each qualified name came from
	sources := make(map[string]string, len(filter))
	for _, key := range keys {
		qualified, err := resolve(key)
		if err != nil {
			return nil, err
		}
		if rewritten, found := rewrites[qualified]; found {
			qualified = rewritten
		}
		if other, found := sources[qualified]; found {
			return nil, core.Invalid("Query fields '%s' and '%s' both refer to %s", other, key, qualified)
		}
		sources[qualified] = key
		values := filter[key]
		if values == nil {
			values = []any{}
		}
		result[qualified] = Predicate{In: values}
	}
	return result, nil
}

// Translates a filter decoded from JSON, whose values must all be lists.
func (t *Translator) TranslateAny(ctx context.Context, filter map[string]any) (Filter, error) {
	lists, err := Lists(filter)
	if err != nil {
		return nil, err
	}
	return t.Translate(ctx, lists)
}

// Checks that every value of the given filter is a list, returning the
// filter with list-typed values.
func Lists(filter map[string]any) (map[string][]any, error) {
	lists := make(map[string][]any, len(filter))
	for key, value := range filter {
		switch v := value.(type) {
		case []any:
			lists[key] = v
		case []string:
			l := make([]any, len(v))
			for i, s := range v {
				l[i] = s
			}
			lists[key] = l
		default:
			return nil, core.Invalid("key %s has values not in a list", key)
		}
	}
	return lists, nil
}

// Parses a JSON object of the form {"field": [values...], ...}.
func Parse(data []byte) (map[string][]any, error) {
	var filter map[string]any
	if err := json.Unmarshal(data, &filter); err != nil {
		return nil, core.Invalid("query is not a JSON object: %s", err)
	}
	return Lists(filter)
}

// Returns an error naming any keys of the filter that aren't among the given
// fields.
func CheckFields(filter map[string][]any, fields []string) error {
	var unknown []string
	for key := range filter {
		if !slices.Contains(fields, key) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return core.Invalid("%v are not valid field names. Valid field names are: %v",
			unknown, fields)
	}
	return nil
}

// String returns the filter as JSON.
func (f Filter) String() string {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Sprintf("%v", map[string]Predicate(f))
	}
	return string(data)
}
