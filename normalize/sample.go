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
	"slices"

	"github.com/aifimmunology/hise/core"
	"github.com/aifimmunology/hise/tabular"
)

// The tables describing one or more samples.
type SampleTables struct {
	// one row per sample
	Metadata *tabular.Table `json:"metadata"`
	// one row per specimen
	Specimens *tabular.Table `json:"specimens"`
	// one row per survey response
	Survey *tabular.Table `json:"survey"`
	// one row per lab block
	LabResults *tabular.Table `json:"labResults"`
}

// keys of a sample record that are normalized into their own tables
var sampleBlocks = []string{"specimens", "survey", "lab"}

// the prefix given to expanded survey answers
const answersPrefix = "answers"

// Normalizes one sample record into its metadata row, specimens, survey
// responses and lab results. Survey and lab rows are tagged with the sample's
// subject, sample kit and project.
func Sample(record core.Record) (SampleTables, error) {
	var keys []string
	for _, key := range sortedKeys(record) {
		if !slices.Contains(sampleBlocks, key) {
			keys = append(keys, key)
		}
	}
	metadata, err := flatten(record, keys)
	if err != nil {
		return SampleTables{}, err
	}

	specimens, err := specimens(record)
	if err != nil {
		return SampleTables{}, err
	}

	survey, err := survey(record["survey"])
	if err != nil {
		return SampleTables{}, err
	}

	lab, err := sampleLab(record["lab"])
	if err != nil {
		return SampleTables{}, err
	}

	identifiers := map[string]any{
		"subjectGuid":   nil,
		"sampleKitGuid": sampleKitGuid(record),
		"projectGuid":   record["projectGuid"],
	}
	if subject, ok := core.Nested(record, "subject"); ok {
		identifiers["subjectGuid"] = subject["subjectGuid"]
	}
	survey = tag(survey, identifiers)
	lab = tag(lab, identifiers)

	return SampleTables{
		Metadata:   metadata,
		Specimens:  specimens,
		Survey:     survey,
		LabResults: lab,
	}, nil
}

// attaches the sample's identifiers to every row of a non-empty table
func tag(table *tabular.Table, identifiers map[string]any) *tabular.Table {
	if table.Len() == 0 {
		return table
	}
	for _, column := range []string{"subjectGuid", "sampleKitGuid", "projectGuid"} {
		table = table.WithConstant(column, identifiers[column])
	}
	return table
}

// Normalizes survey responses into one row per response. Each response's
// answers are expanded into columns prefixed with "answers." and joined back
// onto the response by its id.
func survey(value any) (*tabular.Table, error) {
	responses, ok := core.RecordList(core.Record{"survey": value}, "survey")
	if !ok {
		return nil, &core.SchemaError{
			Key:     "survey",
			Message: fmt.Sprintf("expected a list of responses, found %T", value),
		}
	}
	if len(responses) == 0 {
		return tabular.New(), nil
	}

	table := tabular.New()
	answers := tabular.New()
	for _, response := range responses {
		table.AppendRow(response)
		row := map[string]any{"id": response["id"]}
		switch a := response[answersPrefix].(type) {
		case nil:
		case map[string]any:
			for key, value := range a {
				row[key] = value
			}
		default:
			return nil, &core.SchemaError{
				Key:     "survey.answers",
				Message: fmt.Sprintf("expected a record, found %T", a),
			}
		}
		answers.AppendRow(row)
	}
	idColumn := answersPrefix + tabular.Separator + "id"
	answers = answers.Prefix(answersPrefix)
	return table.Drop(answersPrefix).Merge(answers, "id", idColumn).Drop(idColumn), nil
}

// Normalizes a sample's lab block into a single row: the lab's own fields
// followed by its expanded lab results.
func sampleLab(value any) (*tabular.Table, error) {
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
	tables := []*tabular.Table{rowWithout(lab, "labResults")}
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
	return tabular.ColumnBind(tables...), nil
}

// Normalizes one subject record into a single row: string fields first, then
// each nested block prefixed with its key.
func Subject(record core.Record) (*tabular.Table, error) {
	return flatten(record, sortedKeys(record))
}
