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

// Package ledger maintains the download ledger: a CSV file in the workspace's
// home directory recording every file downloaded into the workspace, with the
// sample it belongs to. Uploads may only cite files and samples found in the
// ledger.
package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/aifimmunology/hise/config"
	"github.com/aifimmunology/hise/core"
	"github.com/aifimmunology/hise/tabular"
)

var csvHeaders = [...]string{
	"fileId",
	"sampleId",
	"downloadSourceDir",
	"downloadTimeStamp",
}

const (
	colFileId = iota
	colSampleId
	colSourceDir
	colTimeStamp
)

// An entry in the download ledger.
type Entry struct {
	FileId            string
	SampleId          string
	DownloadSourceDir string
	DownloadTimeStamp time.Time
}

// A Ledger is the download ledger stored at Path. Concurrent writers (e.g. two
// processes in one workspace) are not coordinated.
type Ledger struct {
	Path string
	// if set, uploads are not checked against the ledger
	Debug bool
}

// Returns the ledger stored at the given path.
func New(path string, debug bool) *Ledger {
	return &Ledger{Path: path, Debug: debug}
}

// Returns the workspace's ledger, as configured.
func Default(debug bool) *Ledger {
	return New(config.LedgerFile(), debug)
}

// Returns all entries in the ledger, oldest first. A ledger that hasn't been
// written yet has no entries.
func (l *Ledger) Entries() ([]Entry, error) {
	f, err := os.Open(l.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	defer f.Close()
	return parse(f)
}

// maps each required column to its position in a ledger file's header
type headerIndex [len(csvHeaders)]int

func parseHeader(header []string) (headerIndex, error) {
	var index headerIndex
	for col, name := range csvHeaders {
		pos := slices.Index(header, name)
		if pos < 0 {
			return index, fmt.Errorf("The download ledger has no '%s' column", name)
		}
		index[col] = pos
	}
	return index, nil
}

func parse(r io.Reader) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	index, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}
		for _, pos := range index {
			if pos >= len(fields) {
				return nil, fmt.Errorf("The download ledger has a short row on line %d",
					len(entries)+2)
			}
		}
		entry := Entry{
			FileId:            fields[index[colFileId]],
			SampleId:          fields[index[colSampleId]],
			DownloadSourceDir: fields[index[colSourceDir]],
		}
		// timestamps are informational, so an unreadable one isn't fatal
		if ts, err := time.Parse(time.RFC3339, fields[index[colTimeStamp]]); err == nil {
			entry.DownloadTimeStamp = ts
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Returns true if the ledger holds an entry for the given file.
func (l *Ledger) Contains(fileId string) (bool, error) {
	entries, err := l.Entries()
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(entries, func(e Entry) bool {
		return e.FileId == fileId
	}), nil
}

// Records the download of the given file, belonging to the given sample (which
// may be empty). A file already in the ledger is left as it is.
func (l *Ledger) Record(fileId, sampleId string) error {
	if fileId == "" {
		return core.Invalid("Can't record a download without a file ID")
	}
	found, err := l.Contains(fileId)
	if err != nil || found {
		return err
	}
	dir, err := os.Getwd()
	if err != nil {
		return err
	}

	// an empty ledger (e.g. one truncated by hand) needs its header too
	info, statErr := os.Stat(l.Path)
	isNew := statErr != nil || info.Size() == 0
	f, err := os.OpenFile(l.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	writer := csv.NewWriter(f)
	if isNew {
		writer.Write(csvHeaders[:])
	}
	writer.Write([]string{fileId, sampleId, dir, time.Now().UTC().Format(time.RFC3339)})
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return err
	}
	slog.Debug(fmt.Sprintf("Recorded download of file %s (sample %s)", fileId, sampleId))
	return f.Close()
}

// returns the descriptor identifying a downloaded file: the descriptor itself,
// or the first of a list of them (for multi-panel files)
func identifyingDescriptor(descriptors any) (core.Record, error) {
	switch d := descriptors.(type) {
	case map[string]any:
		return d, nil
	case []any:
		if len(d) > 0 {
			if descriptor, ok := d[0].(map[string]any); ok {
				return descriptor, nil
			}
		}
	}
	return nil, &core.SchemaError{
		Key:     "descriptors",
		Message: fmt.Sprintf("expected a record or a list of records, found %T", descriptors),
	}
}

// Records the download of the file with the given descriptors.
func (l *Ledger) RecordDescriptor(descriptors any) error {
	descriptor, err := identifyingDescriptor(descriptors)
	if err != nil {
		return err
	}
	return l.Record(core.StringAt(descriptor, "file", "id"),
		core.StringAt(descriptor, "sample", "id"))
}

// Records the requested file when the service answered with a replica of it
// (a copy made for a guest workspace), so that results may cite either ID.
// Nothing is recorded if the descriptors name the requested file.
func (l *Ledger) RecordReplica(descriptors any, requestedId string) error {
	descriptor, err := identifyingDescriptor(descriptors)
	if err != nil {
		return err
	}
	if requestedId == "" || requestedId == core.StringAt(descriptor, "file", "id") {
		return nil
	}
	return l.Record(requestedId, core.StringAt(descriptor, "sample", "id"))
}

// Checks that every given file and sample has been downloaded into the
// workspace. Each missing ID is reported in the returned ValidationError. No
// checks are made in debug mode.
func (l *Ledger) ValidateUploaded(fileIds, sampleIds []string) error {
	if l.Debug {
		return nil
	}
	if _, err := os.Stat(l.Path); errors.Is(err, fs.ErrNotExist) {
		return core.Invalid("No files have been downloaded into this workspace. " +
			"You cannot upload results without using any HISE input data.")
	}
	entries, err := l.Entries()
	if err != nil {
		return err
	}
	files := make(map[string]bool)
	samples := make(map[string]bool)
	for _, entry := range entries {
		files[entry.FileId] = true
		samples[entry.SampleId] = true
	}

	var errm *multierror.Error
	for _, id := range fileIds {
		if !files[id] {
			errm = multierror.Append(errm, fmt.Errorf("file %s was not downloaded", id))
		}
	}
	for _, id := range sampleIds {
		if !samples[id] {
			errm = multierror.Append(errm, fmt.Errorf("sample %s was not downloaded", id))
		}
	}
	if errm == nil {
		return nil
	}
	errm.ErrorFormat = func(errs []error) string {
		lines := make([]string, len(errs))
		for i, err := range errs {
			lines[i] = "  " + err.Error()
		}
		return strings.Join(lines, "\n")
	}
	return core.Invalid("Results may only cite files downloaded into this workspace:\n%s",
		errm.Error())
}

// Returns the ledger's entries as a table.
func (l *Ledger) Table() (*tabular.Table, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	table := tabular.New(csvHeaders[:]...)
	for _, entry := range entries {
		var ts any
		if !entry.DownloadTimeStamp.IsZero() {
			ts = entry.DownloadTimeStamp.Format(time.RFC3339)
		}
		table.AppendRow(map[string]any{
			csvHeaders[colFileId]:    entry.FileId,
			csvHeaders[colSampleId]:  entry.SampleId,
			csvHeaders[colSourceDir]: entry.DownloadSourceDir,
			csvHeaders[colTimeStamp]: ts,
		})
	}
	return table, nil
}
