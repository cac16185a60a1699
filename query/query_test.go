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

package query

import (
	"context"
	"encoding/json"
	"os"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aifimmunology/hise/backend"
	"github.com/aifimmunology/hise/catalog"
	"github.com/aifimmunology/hise/config"
	"github.com/aifimmunology/hise/core"
	"github.com/aifimmunology/hise/hisetest"
)

var server *hisetest.Server

func newTranslator() *Translator {
	return NewTranslator(catalog.New(backend.NewClient(server.Authorizer())))
}

// tests that every unambiguous key is qualified with a name from the catalog
func TestTranslateQualifiesKeys(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	translator := newTranslator()
	filter := map[string][]any{
		"fileType":      {"scRNA-seq-labeled"},
		"sampleKitGuid": {"KT00001", "KT00002"},
		"sex":           {"Female"},
	}
	translated, err := translator.Translate(ctx, filter)
	assert.Nil(err)
	assert.Equal(len(filter), len(translated))

	fields, err := translator.Catalog.QueryableFields(ctx, "all")
	assert.Nil(err)
	var qualified []string
	for _, f := range fields {
		qualified = append(qualified, f.Qualified())
	}
	for _, key := range translated.Fields() {
		assert.True(slices.Contains(qualified, key), key)
	}
	assert.Equal([]any{"KT00001", "KT00002"}, translated["sample.sampleKitGuid"].In)
}

// tests the wire form of a translated filter
func TestTranslateDocument(t *testing.T) {
	assert := assert.New(t)
	translated, err := newTranslator().Translate(context.Background(), map[string][]any{
		"fileType":   {"olink"},
		"cohortGuid": {"FH1"},
		"file.id":    {"F1"},
	})
	assert.Nil(err)
	data, err := json.Marshal(translated.Document())
	assert.Nil(err)
	assert.JSONEq(`{"filter": {
		"file.fileType": {"$in": ["olink"]},
		"subject.cohort": {"$in": ["FH1"]},
		"file.id": {"$in": ["F1"]}
	}}`, string(data))
}

// tests that unknown and ambiguous keys are rejected
func TestTranslateRejectsBadKeys(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	translator := newTranslator()

	_, err := translator.Translate(ctx, map[string][]any{"fileType": {"x"}, "color": {"red"}})
	assert.True(core.IsValidation(err))
	assert.IsType(&core.UnknownFieldError{}, err)

	_, err = translator.Translate(ctx, map[string][]any{"visitName": {"D0"}})
	assert.IsType(&core.AmbiguousFieldError{}, err)

	// qualifying the key removes the ambiguity
	translated, err := translator.Translate(ctx, map[string][]any{"subject.visitName": {"D0"}})
	assert.Nil(err)
	assert.Equal([]string{"subject.visitName"}, translated.Fields())
}

// tests that two keys naming the same field are rejected rather than merged
func TestTranslateRejectsDuplicateFields(t *testing.T) {
	assert := assert.New(t)
	_, err := newTranslator().Translate(context.Background(), map[string][]any{
		"fileType":      {"olink"},
		"file.fileType": {"scRNA-seq"},
	})
	assert.True(core.IsValidation(err))
	assert.Contains(err.Error(), "'file.fileType' and 'fileType'")
}

// tests that searches of one collection prefer that collection's fields
func TestTranslateIn(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	translator := newTranslator()

	translated, err := translator.TranslateIn(ctx, "sample", map[string][]any{
		"visitName":  {"D0"},
		"cohortGuid": {"FH1"},
	})
	assert.Nil(err)
	assert.Equal([]string{"sample.visitName", "subject.cohort"}, translated.Fields())

	translated, err = translator.TranslateIn(ctx, "subject", map[string][]any{"visitName": {"D0"}})
	assert.Nil(err)
	assert.Equal([]string{"subject.visitName"}, translated.Fields())

	_, err = translator.TranslateIn(ctx, "file", map[string][]any{"visitName": {"D0"}})
	assert.IsType(&core.AmbiguousFieldError{}, err)
}

// tests that non-list values are rejected
func TestTranslateAny(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	translator := newTranslator()

	_, err := translator.TranslateAny(ctx, map[string]any{"fileType": "olink"})
	assert.True(core.IsValidation(err))

	translated, err := translator.TranslateAny(ctx, map[string]any{"fileType": []string{"olink"}})
	assert.Nil(err)
	assert.Equal([]any{"olink"}, translated["file.fileType"].In)

	filter, err := Parse([]byte(`{"panel": ["CARDIO"]}`))
	assert.Nil(err)
	assert.Equal(map[string][]any{"panel": {"CARDIO"}}, filter)
	_, err = Parse([]byte(`{"panel": "CARDIO"}`))
	assert.True(core.IsValidation(err))
}

// tests ID filters and field checks
func TestIdFilterAndCheckFields(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(`{"id":{"$in":["S1","S2"]}}`, IdFilter([]string{"S1", "S2"}).String())

	err := CheckFields(map[string][]any{"sex": nil}, []string{"sex", "subjectGuid"})
	assert.Nil(err)
	err = CheckFields(map[string][]any{"sex": nil, "zz": nil}, []string{"sex"})
	assert.True(core.IsValidation(err))
	assert.Contains(err.Error(), "zz")
}

// this function gets called at the begіnning of a test session
func setup() {
	server = hisetest.NewServer()
	server.HandleFieldListings()
	err := config.Init([]byte(hisetest.Config(server.Host(), os.TempDir())))
	if err != nil {
		panic(err)
	}
}

// this function gets called after all tests have been run
func breakdown() {
	server.Close()
}

// This runs setup, runs all tests, and does breakdown.
func TestMain(m *testing.M) {
	var status int
	setup()
	status = m.Run()
	breakdown()
	os.Exit(status)
}
