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

// Package catalog describes the fields on which HISE records can be queried.
// Field names are listed by the ledger for each record collection (file,
// sample, subject) and qualified as <collection>.<field> in queries.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/aifimmunology/hise/backend"
	"github.com/aifimmunology/hise/config"
	"github.com/aifimmunology/hise/core"
	"github.com/aifimmunology/hise/tabular"
)

// the collection shared by fields visible from every other collection
const Cohort = "cohort"

// a field on which a collection of records can be queried
type Field struct {
	Name       string
	Collection string
}

// Returns the field's name qualified by its collection.
func (f Field) Qualified() string {
	return f.Collection + tabular.Separator + f.Name
}

// names listed by the ledger that can't be queried directly
var hiddenFields = []string{"cohort", "sampleGuid"}

// fields whose collection differs from the one listing them
var retaggedFields = map[string]string{
	"cohortGuid": Cohort,
}

// fields served from a different block of the ledger than the collection they
// logically belong to; each is added after the listing of its collection
var relocatedFields = []Field{
	{Name: "bridgingControl", Collection: "sample"},
}

// collections whose fields are omitted from ListQueryableFields
var unlistedCollections = []string{"emr", "lab"}

// fields whose distinct values are requested under a different name
var distinctFieldNames = map[string]string{
	"pool":  "poolID",
	"panel": "panelID",
}

// A Catalog lists and resolves queryable fields. Listings are cached for the
// configured time to live.
type Catalog struct {
	client *backend.Client
	cache  *expirable.LRU[string, []Field]
}

// Creates a catalog that lists fields with the given client.
func New(client *backend.Client) *Catalog {
	ttl := time.Duration(config.Workspace.FieldCacheTTL) * time.Second
	return &Catalog{
		client: client,
		cache:  expirable.NewLRU[string, []Field](len(config.Workspace.QueryableCollections), nil, ttl),
	}
}

// Returns the configured collections.
func (c *Catalog) Collections() []string {
	return slices.Clone(config.Workspace.QueryableCollections)
}

// fetches the fields listed by the ledger for one collection
func (c *Catalog) listCollection(ctx context.Context, collection string) ([]Field, error) {
	if fields, found := c.cache.Get(collection); found {
		return fields, nil
	}
	u, err := c.client.URL(ctx, config.Ledger, collection+"_search_path", "",
		url.Values{"field_names": {"true"}})
	if err != nil {
		return nil, err
	}
	data, err := c.client.Post(ctx, u, nil)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, &core.BackendError{
			Method:  "POST",
			URL:     u,
			Status:  200,
			Message: fmt.Sprintf("field listing is not a list of names: %s", err),
		}
	}

	var fields []Field
	for _, name := range names {
		prefix, field, qualified := strings.Cut(name, tabular.Separator)
		if !qualified || (prefix != collection && prefix != Cohort) {
			continue
		}
		if slices.Contains(hiddenFields, field) {
			continue
		}
		f := Field{Name: field, Collection: collection}
		if retagged, found := retaggedFields[field]; found {
			f.Collection = retagged
		}
		fields = append(fields, f)
	}
	for _, f := range relocatedFields {
		if f.Collection == collection {
			fields = append(fields, f)
		}
	}
	slog.Debug(fmt.Sprintf("listed %d queryable fields for %s", len(fields), collection))
	c.cache.Add(collection, fields)
	return fields, nil
}

// Returns the queryable fields of the given collection along with the shared
// cohort fields, or those of every collection if collection is "" or "all".
// Duplicates are removed, keeping the first occurrence.
func (c *Catalog) QueryableFields(ctx context.Context, collection string) ([]Field, error) {
	collections := c.Collections()
	if collection != "" && collection != "all" && !slices.Contains(collections, collection) {
		return nil, core.Invalid("%s is not a queryable collection (valid: %s)",
			collection, strings.Join(collections, ", "))
	}
	var all []Field
	for _, cf := range collections {
		fields, err := c.listCollection(ctx, cf)
		if err != nil {
			return nil, err
		}
		all = append(all, fields...)
	}
	var result []Field
	for _, f := range all {
		if collection != "" && collection != "all" &&
			f.Collection != collection && f.Collection != Cohort {
			continue
		}
		if !slices.Contains(result, f) {
			result = append(result, f)
		}
	}
	return result, nil
}

// returns true if the given key is the identifier of a collection
func (c *Catalog) isIdField(key string) bool {
	collection, field, _ := strings.Cut(key, tabular.Separator)
	return field == "id" && slices.Contains(c.Collections(), collection)
}

// Returns the qualified name of the given field. A field that is already
// qualified is returned unchanged if the catalog knows it. An unqualified
// field belonging to more than one collection is ambiguous; one belonging to
// none is unknown.
func (c *Catalog) Resolve(ctx context.Context, field string) (string, error) {
	if c.isIdField(field) {
		return field, nil
	}
	fields, err := c.QueryableFields(ctx, "all")
	if err != nil {
		return "", err
	}
	var collections []string
	for _, f := range fields {
		if f.Qualified() == field {
			return field, nil
		}
		if f.Name == field && !slices.Contains(collections, f.Collection) {
			collections = append(collections, f.Collection)
		}
	}
	switch len(collections) {
	case 1:
		return collections[0] + tabular.Separator + field, nil
	case 0:
		return "", &core.UnknownFieldError{Field: field, Valid: names(fields)}
	default:
		return "", &core.AmbiguousFieldError{Field: field, Collections: collections}
	}
}

// Resolves a field as Resolve does, except that a field shared by several
// collections resolves to the given one if it is among them.
func (c *Catalog) ResolveIn(ctx context.Context, collection, field string) (string, error) {
	qualified, err := c.Resolve(ctx, field)
	var ambiguous *core.AmbiguousFieldError
	if errors.As(err, &ambiguous) && slices.Contains(ambiguous.Collections, collection) {
		return collection + tabular.Separator + field, nil
	}
	return qualified, err
}

// returns the sorted, unique names of the given fields
func names(fields []Field) []string {
	var result []string
	for _, f := range fields {
		if !slices.Contains(result, f.Name) {
			result = append(result, f.Name)
		}
	}
	slices.Sort(result)
	return result
}

// Returns the names a user may place in a file query: every field name outside
// the emr and lab collections, plus the identifier of each collection.
func (c *Catalog) ListQueryableFields(ctx context.Context) ([]string, error) {
	fields, err := c.QueryableFields(ctx, "all")
	if err != nil {
		return nil, err
	}
	var result []string
	for _, f := range fields {
		if slices.Contains(unlistedCollections, f.Collection) || f.Name == Cohort {
			continue
		}
		if !slices.Contains(result, f.Name) {
			result = append(result, f.Name)
		}
	}
	for _, collection := range c.Collections() {
		result = append(result, collection+tabular.Separator+"id")
	}
	return result, nil
}

// Returns the distinct non-empty values recorded for the given field, sorted.
func (c *Catalog) UniqueEntries(ctx context.Context, field string) ([]string, error) {
	fields, err := c.QueryableFields(ctx, "all")
	if err != nil {
		return nil, err
	}
	index := slices.IndexFunc(fields, func(f Field) bool { return f.Name == field })
	if index == -1 {
		return nil, &core.UnknownFieldError{Field: field, Valid: names(fields)}
	}
	distinct := field
	if name, found := distinctFieldNames[field]; found {
		distinct = name
	}
	u, err := c.client.URL(ctx, config.Ledger, "ledger_name", fields[index].Collection,
		url.Values{"distinct_field": {distinct}})
	if err != nil {
		return nil, err
	}
	data, err := c.client.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	var values []any
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, &core.BackendError{Method: "GET", URL: u, Status: 200,
			Message: fmt.Sprintf("distinct values are not a list: %s", err)}
	}
	var result []string
	for _, v := range values {
		if v == nil {
			continue
		}
		s := fmt.Sprint(v)
		if s != "" && !slices.Contains(result, s) {
			result = append(result, s)
		}
	}
	slices.Sort(result)
	return result, nil
}

// Returns the given fields as a table with columns field and field_type.
func Table(fields []Field) *tabular.Table {
	table := tabular.New("field", "field_type")
	for _, f := range fields {
		table.AppendRow(map[string]any{"field": f.Name, "field_type": f.Collection})
	}
	return table
}
