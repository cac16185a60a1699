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

package core

import (
	"github.com/google/uuid"
)

// A Record is a nested JSON object describing a file, sample, subject or one of
// their lab, survey or specimen entries, as returned by a backend service.
// Values are scalars, nested Records (map[string]any) or lists thereof.
type Record = map[string]any

// the identifier given to results that arrive without one
var MissingId = uuid.Nil.String()

// Returns a deep copy of the given record, so callers can reshape it without
// touching the original.
func CopyRecord(record Record) Record {
	if record == nil {
		return nil
	}
	c := make(Record, len(record))
	for key, value := range record {
		c[key] = copyValue(value)
	}
	return c
}

func copyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return CopyRecord(v)
	case []any:
		c := make([]any, len(v))
		for i, item := range v {
			c[i] = copyValue(item)
		}
		return c
	default:
		return v
	}
}

// Returns the nested record stored under the given key, if any.
func Nested(record Record, key string) (Record, bool) {
	nested, ok := record[key].(map[string]any)
	return nested, ok
}

// Returns the string stored under the given key, or "" if there is none.
func StringField(record Record, key string) string {
	s, _ := record[key].(string)
	return s
}

// Follows a path of keys through nested records, returning the string at the
// end of it (or "").
func StringAt(record Record, path ...string) string {
	current := record
	for i, key := range path {
		if i == len(path)-1 {
			return StringField(current, key)
		}
		next, ok := Nested(current, key)
		if !ok {
			return ""
		}
		current = next
	}
	return ""
}

// Returns the list of records stored under the given key. Items that aren't
// records are reported via ok == false.
func RecordList(record Record, key string) (list []Record, ok bool) {
	switch v := record[key].(type) {
	case nil:
		return nil, true
	case []map[string]any:
		return v, true
	case []any:
		list = make([]Record, 0, len(v))
		for _, item := range v {
			r, isRecord := item.(map[string]any)
			if !isRecord {
				return nil, false
			}
			list = append(list, r)
		}
		return list, true
	default:
		return nil, false
	}
}
