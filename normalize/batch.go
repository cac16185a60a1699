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

package normalize

import (
	"fmt"

	"github.com/aifimmunology/hise/core"
	"github.com/aifimmunology/hise/tabular"
)

// Normalizes the descriptors of several files. Each item is either a single
// descriptor or, for files holding several panels (Olink), a list of them;
// every descriptor is normalized on its own and the results are stacked. A
// descriptor that can't be normalized fails the batch with an error naming
// its file.
func Files(items []any) (FileTables, error) {
	var descriptors, labResults, specimens []*tabular.Table
	add := func(record core.Record) error {
		tables, err := Descriptors(record)
		if err != nil {
			return fmt.Errorf("Couldn't normalize the descriptor of file %s: %w",
				core.StringAt(record, "file", "id"), err)
		}
		descriptors = append(descriptors, tables.Descriptors)
		labResults = append(labResults, tables.LabResults)
		specimens = append(specimens, tables.Specimens)
		return nil
	}
	for i, item := range items {
		switch v := item.(type) {
		case map[string]any:
			if err := add(v); err != nil {
				return FileTables{}, err
			}
		case []any:
			for _, panel := range v {
				record, ok := panel.(map[string]any)
				if !ok {
					return FileTables{}, &core.SchemaError{
						Message: fmt.Sprintf("descriptor list %d holds a %T", i, panel),
					}
				}
				if err := add(record); err != nil {
					return FileTables{}, err
				}
			}
		default:
			return FileTables{}, &core.SchemaError{
				Message: fmt.Sprintf("descriptor %d is a %T", i, item),
			}
		}
	}
	return FileTables{
		Descriptors: tabular.RowBind(descriptors...),
		LabResults:  tabular.RowBind(labResults...),
		Specimens:   tabular.RowBind(specimens...),
	}, nil
}

// Normalizes several sample records and stacks the results.
func Samples(records []core.Record) (SampleTables, error) {
	var metadata, specimens, survey, labResults []*tabular.Table
	for _, record := range records {
		tables, err := Sample(record)
		if err != nil {
			return SampleTables{}, err
		}
		metadata = append(metadata, tables.Metadata)
		specimens = append(specimens, tables.Specimens)
		survey = append(survey, tables.Survey)
		labResults = append(labResults, tables.LabResults)
	}
	return SampleTables{
		Metadata:   tabular.RowBind(metadata...),
		Specimens:  tabular.RowBind(specimens...),
		Survey:     tabular.RowBind(survey...),
		LabResults: tabular.RowBind(labResults...),
	}, nil
}

// Normalizes several subject records into one row per subject.
func Subjects(records []core.Record) (*tabular.Table, error) {
	var tables []*tabular.Table
	for _, record := range records {
		table, err := Subject(record)
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	return tabular.RowBind(tables...), nil
}
