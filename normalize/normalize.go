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

// Package normalize flattens the nested records returned by HISE services
// into related tables. Nested blocks of a record become columns prefixed with
// the block's key (e.g. subject.subjectGuid), lists of homogeneous entries
// (specimens, survey responses) become rows, and lab results are expanded
// into their own table.
//
// Records are never modified. Keys are visited in sorted order, so the same
// record always produces the same tables.
package normalize

import (
	"fmt"
	"slices"

	"github.com/aifimmunology/hise/core"
	"github.com/aifimmunology/hise/tabular"
)

// The tables describing one or more files.
type FileTables struct {
	// one row per descriptor
	Descriptors *tabular.Table `json:"descriptors"`
	// one row per lab block
	LabResults *tabular.Table `json:"labResults"`
	// one row per specimen
	Specimens *tabular.Table `json:"specimens"`
}

// keys of a file descriptor that are not part of its descriptor row
var descriptorExclusions = []string{
	"specimens", "lab", "emr", "lastUpdated", "labLastModified",
	"surveyLastModified", "survey",
}

// modification timestamps bound to the descriptor row under their own names
var timestampFields = []string{"lastUpdated", "labLastModified", "surveyLastModified"}

// returns the record's keys in sorted order
func sortedKeys(record core.Record) []string {
	keys := make([]string, 0, len(record))
	for key := range record {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// returns true if the value carries no data
func absent(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case []any:
		return len(v) == 0
	case []map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

// returns a single-row table holding the record's fields, with columns in
// sorted order
func row(record core.Record) *tabular.Table {
	return tabular.SingleRow(sortedKeys(record), record)
}

// returns a table holding the record's fields, except for the given keys
func rowWithout(record core.Record, excluded ...string) *tabular.Table {
	var columns []string
	for _, key := range sortedKeys(record) {
		if !slices.Contains(excluded, key) {
			columns = append(columns, key)
		}
	}
	values := make(map[string]any, len(columns))
	for _, key := range columns {
		values[key] = record[key]
	}
	return tabular.SingleRow(columns, values)
}

// Flattens the given keys of a record into a single row. String values become
// unprefixed columns, which come first; each mapping becomes a block of
// columns prefixed with its key. Null values and empty lists are skipped. Any
// other value is a SchemaError.
func flatten(record core.Record, keys []string) (*tabular.Table, error) {
	var scalarColumns []string
	scalars := make(map[string]any)
	var blocks []*tabular.Table
	for _, key := range keys {
		value := record[key]
		if absent(value) {
			continue
		}
		switch v := value.(type) {
		case string:
			scalarColumns = append(scalarColumns, key)
			scalars[key] = v
		case map[string]any:
			blocks = append(blocks, row(v).Prefix(key))
		default:
			return nil, &core.SchemaError{
				Key:     key,
				Message: fmt.Sprintf("unsupported value of type %T", value),
			}
		}
	}
	if len(scalarColumns) == 0 && len(blocks) == 0 {
		return tabular.New(), nil
	}
	tables := append([]*tabular.Table{tabular.SingleRow(scalarColumns, scalars)}, blocks...)
	return tabular.ColumnBind(tables...), nil
}

// Flattens a list of records into one row per record. Each record's values
// are stored as is.
func rows(key string, value any) (*tabular.Table, error) {
	list, ok := core.RecordList(core.Record{key: value}, key)
	if !ok {
		return nil, &core.SchemaError{
			Key:     key,
			Message: fmt.Sprintf("expected a list of records, found %T", value),
		}
	}
	table := tabular.New()
	for _, item := range list {
		table.AppendRow(item)
	}
	return table, nil
}

// Normalizes one file descriptor into its descriptor row, lab results and
// specimens.
func Descriptors(record core.Record) (FileTables, error) {
	var keys []string
	for _, key := range sortedKeys(record) {
		if !slices.Contains(descriptorExclusions, key) {
			keys = append(keys, key)
		}
	}
	descriptors, err := flatten(record, keys)
	if err != nil {
		return FileTables{}, err
	}

	// modification timestamps, in a fixed order
	timestamps := []*tabular.Table{descriptors}
	for _, field := range timestampFields {
		if value, found := record[field]; found {
			timestamps = append(timestamps,
				tabular.SingleRow([]string{field}, map[string]any{field: value}))
		}
	}
	descriptors = tabular.ColumnBind(timestamps...)

	labResults, err := descriptorLab(record["lab"])
	if err != nil {
		return FileTables{}, err
	}

	specimens, err := specimens(record)
	if err != nil {
		return FileTables{}, err
	}

	return FileTables{
		Descriptors: descriptors,
		LabResults:  labResults,
		Specimens:   specimens,
	}, nil
}

// Normalizes a file descriptor's lab block: the lab results come first,
// followed by the lab's remaining fields and the data history of its most
// recent revision with that revision's other fields. Where columns repeat,
// the first is kept.
func descriptorLab(value any) (*tabular.Table, error) {
	if absent(value) {
		return tabular.New(), nil
	}
	lab, ok := value.(map[string]any)
	if !ok {
		return nil, &core.SchemaError{
			Key:     "lab",
			Message: fmt.Sprintf("expected a record, found %T", value),
		}
	}

	var tables []*tabular.Table
	switch results := lab["labResults"].(type) {
	case nil:
	case map[string]any:
		tables = append(tables, row(results))
	default:
		return nil, &core.SchemaError{
			Key:     "lab.labResults",
			Message: fmt.Sprintf("expected a record, found %T", results),
		}
	}
	tables = append(tables, rowWithout(lab, "labResults", "revisionHistory"))

	history, ok := core.RecordList(lab, "revisionHistory")
	if !ok {
		return nil, &core.SchemaError{
			Key:     "lab.revisionHistory",
			Message: "expected a list of revisions",
		}
	}
	if len(history) > 0 && history[0] != nil {
		latest := history[0]
		switch data := latest["dataHistory"].(type) {
		case nil:
		case map[string]any:
			tables = append(tables, row(data))
		default:
			return nil, &core.SchemaError{
				Key:     "lab.revisionHistory.dataHistory",
				Message: fmt.Sprintf("expected a record, found %T", data),
			}
		}
		tables = append(tables, rowWithout(latest, "dataHistory"))
	}
	return tabular.ColumnBind(tables...), nil
}

// Normalizes a record's specimens into one row per specimen, each tagged with
// the record's sample kit.
func specimens(record core.Record) (*tabular.Table, error) {
	table, err := rows("specimens", record["specimens"])
	if err != nil {
		return nil, err
	}
	if table.Len() == 0 {
		return table, nil
	}
	return table.WithConstant("sampleKitGuid", sampleKitGuid(record)), nil
}

// returns the record's sample kit identifier, or nil if it has none
func sampleKitGuid(record core.Record) any {
	if sample, ok := core.Nested(record, "sample"); ok {
		return sample["sampleKitGuid"]
	}
	return nil
}
