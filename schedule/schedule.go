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


// Package schedule runs notebooks as jobs on instances of their own and
// tracks those jobs. An instance cloned from a job records the job's ID in
// the home directory, so that the job's output can be found again.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/aifimmunology/hise/backend"
	"github.com/aifimmunology/hise/config"
	"github.com/aifimmunology/hise/core"
	"github.com/aifimmunology/hise/fetch"
)

// the status of a job that hasn't been reported by the scheduler
const unknownStatus = "Unknown"

// A Job is a notebook run scheduled on an instance of its own.
type Job struct {
	Id     string `json:"id"`
	Status string `json:"status"`
	// names of the output files saved to HISE, by file ID
	LedgerOutput map[string]string `json:"ledgerOutput"`
}

// Returns true if the job has finished.
func (j Job) Completed() bool {
	return j.Status == config.Schedule.CompleteStatus
}

// An Instance identifies the notebook instance scheduling jobs.
type Instance interface {
	InstanceName(ctx context.Context) (string, error)
}

// A Scheduler schedules notebooks as jobs, fetching their output with a
// Fetcher.
type Scheduler struct {
	Client   *backend.Client
	Fetcher  *fetch.Fetcher
	Instance Instance
	// the notebook to be scheduled, relative to the home directory
	Notebook string
}

// Creates a scheduler for the given notebook on the given instance.
func New(fetcher *fetch.Fetcher, instance Instance, notebook string) *Scheduler {
	return &Scheduler{
		Client:   fetcher.Client,
		Fetcher:  fetcher,
		Instance: instance,
		Notebook: notebook,
	}
}

// Request describes a notebook job.
type Request struct {
	// paths of the files the notebook produces, which are saved to HISE
	OutputFiles []string
	// the platform running the notebook; the configured default if empty
	Platform string
	// short name of the project owning the job, for users belonging to more
	// than one
	Project string
}

// the body of a scheduling request
type schedulePayload struct {
	NotebookName string   `json:"notebookName"`
	InstanceName string   `json:"instanceName"`
	NotebookPath string   `json:"notebookPath"`
	Platform     string   `json:"platform"`
	Project      string   `json:"project,omitempty"`
	OutputFiles  []string `json:"outputFiles"`
}

func (req Request) validate() error {
	if len(req.OutputFiles) == 0 {
		return core.Invalid("You must specify at least one expected output file")
	}
	for _, file := range req.OutputFiles {
		if strings.ContainsAny(file, " \t") {
			return core.Invalid("%s is an invalid output file. Spaces are not allowed in output file names.", file)
		}
	}
	return nil
}

// returns the ID recorded by a cloned instance, or an empty string if there
// is none
func recordedJobId() (string, error) {
	data, err := os.ReadFile(config.JobRecordFile())
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// returns true if this instance was created by HISE to do its own work (such
// as running a scheduled notebook)
func derivedInstance() bool {
	_, err := os.Stat(config.DerivedInstanceFile())
	return err == nil
}

// Schedules the notebook to run on an instance of its own. On an instance
// cloned from a job, the recorded job is returned instead, and on one
// running a job, an empty job with unknown status.
func (s *Scheduler) ScheduleNotebook(ctx context.Context, req Request) (Job, error) {
	id, err := recordedJobId()
	if err != nil {
		return Job{}, err
	}
	if id != "" {
		job, err := s.Job(ctx, id)
		if err != nil {
			return Job{}, err
		}
		slog.Info(fmt.Sprintf("This instance was cloned from notebook job %s (%s), "+
			"which has %d output file(s). Clear the job to schedule another.",
			job.Id, job.Status, len(job.LedgerOutput)))
		return job, nil
	}
	if derivedInstance() {
		return Job{Status: unknownStatus}, nil
	}

	if err := req.validate(); err != nil {
		return Job{}, err
	}
	if s.Notebook == "" {
		return Job{}, core.Invalid("Cannot get the name of the current notebook")
	}
	instance, err := s.Instance.InstanceName(ctx)
	if err != nil {
		return Job{}, err
	}
	payload := schedulePayload{
		NotebookName: s.Notebook,
		InstanceName: instance,
		Platform:     req.Platform,
		Project:      req.Project,
		OutputFiles:  req.OutputFiles,
	}
	if i := strings.LastIndex(s.Notebook, "/"); i >= 0 {
		payload.NotebookPath, payload.NotebookName = s.Notebook[:i], s.Notebook[i+1:]
	}
	if payload.Platform == "" {
		payload.Platform = config.Schedule.DefaultPlatform
	}

	u, err := s.Client.URL(ctx, config.Toolchain, "scheduler_path", "", nil)
	if err != nil {
		return Job{}, err
	}
	slog.Info(fmt.Sprintf("Scheduling %s on platform %s", s.Notebook, payload.Platform))
	data, err := s.Client.Post(ctx, u, payload)
	if err != nil {
		return Job{}, err
	}
	return decodeJob(data)
}

// decodes a job reported by the scheduler, which must carry an ID and a
// status
func decodeJob(data []byte) (Job, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Job{}, &core.SchemaError{Message: fmt.Sprintf("notebook job: %s", err)}
	}
	for _, key := range []string{"id", "status"} {
		if _, found := fields[key]; !found {
			return Job{}, &core.SchemaError{Key: key, Message: "missing from notebook job"}
		}
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, &core.SchemaError{Message: fmt.Sprintf("notebook job: %s", err)}
	}
	if job.LedgerOutput == nil {
		job.LedgerOutput = map[string]string{}
	}
	return job, nil
}

// Returns the job with the given ID, or the job recorded on this instance if
// the ID is empty.
func (s *Scheduler) Job(ctx context.Context, id string) (Job, error) {
	if id == "" {
		recorded, err := recordedJobId()
		if err != nil {
			return Job{}, err
		}
		if recorded == "" {
			return Job{}, core.Invalid("No job ID was given, and no job is recorded on this instance")
		}
		id = recorded
	}
	if _, err := uuid.Parse(id); err != nil {
		return Job{}, core.Invalid("'%s' is not a valid job ID", id)
	}
	u, err := s.Client.URL(ctx, config.Toolchain, "scheduler_path", id, nil)
	if err != nil {
		return Job{}, err
	}
	data, err := s.Client.Get(ctx, u)
	if err != nil {
		return Job{}, err
	}
	return decodeJob(data)
}

// Reloads a job, returning true if it has finished.
func (s *Scheduler) Completed(ctx context.Context, job Job) (bool, error) {
	current, err := s.Job(ctx, job.Id)
	if err != nil {
		return false, err
	}
	return current.Completed(), nil
}

// Clears the job recorded on this instance, so that another can be
// scheduled. The job itself is unaffected. Returns the ID of the cleared job,
// or an empty string if none was recorded.
func ClearJob() (string, error) {
	id, err := recordedJobId()
	if err != nil {
		return "", err
	}
	if id == "" {
		slog.Info("No job record found")
		return "", nil
	}
	if err := os.Remove(config.JobRecordFile()); err != nil {
		return "", err
	}
	slog.Info(fmt.Sprintf("Cleared job %s", id))
	return id, nil
}

// Downloads a job's output files into the workspace. A job without output
// yet downloads nothing.
func (s *Scheduler) DownloadOutput(ctx context.Context, job Job) ([]fetch.FileResult, error) {
	if len(job.LedgerOutput) == 0 {
		slog.Info(fmt.Sprintf("Job %s (%s) has no output yet", job.Id, job.Status))
		return nil, nil
	}
	return s.Fetcher.DownloadFiles(ctx, job.LedgerOutput)
}
