// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"xidraw-spooler/device"
)

type JobStatus string

const (
	JobWaiting   JobStatus = "WAITING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobCanceled  JobStatus = "CANCELED"
	JobFailed    JobStatus = "FAILED"
)

// Job is one G-code program queued for plotting.
type Job struct {
	ID          string
	Lines       []string
	Status      JobStatus
	TimeAdded   time.Time
	TimeStarted *time.Time
	TimeEnded   *time.Time
}

// JobSched stores the list of plot jobs and manages their execution, one at a
// time, through the dispatcher.
// ~Unsafe methods are not mutex-protected, caller must hold the mutex.
type JobSched struct {
	mu        sync.Mutex
	jobs      []Job
	nextJobID int

	disp      *device.Dispatcher
	initLines func() []string
}

// InitJobSched creates and starts a scheduler. initLines supplies the prelude
// sent before every job (pen setup, absolute positioning and the like). At
// most one scheduler should exist per dispatcher.
func InitJobSched(disp *device.Dispatcher, initLines func() []string) *JobSched {
	sched := &JobSched{
		nextJobID: 1,
		disp:      disp,
		initLines: initLines,
	}
	go sched.keepExecutingJobs()
	return sched
}

func (js *JobSched) issueNewJobIDUnsafe() string {
	jobID := fmt.Sprintf("jb%d", js.nextJobID)
	js.nextJobID++
	return jobID
}

func (js *JobSched) findPendingJobUnsafe() *Job {
	for i := range js.jobs {
		if js.jobs[i].Status == JobWaiting || js.jobs[i].Status == JobRunning {
			return &js.jobs[i]
		}
	}
	return nil
}

func (js *JobSched) findWaitingJobUnsafe() *Job {
	for i := range js.jobs {
		if js.jobs[i].Status == JobWaiting {
			return &js.jobs[i]
		}
	}
	return nil
}

func (js *JobSched) findRunningJobUnsafe() *Job {
	for i := range js.jobs {
		if js.jobs[i].Status == JobRunning {
			return &js.jobs[i]
		}
	}
	return nil
}

// copyJobUnsafe deep-copies a job. Immutable fields are shallow copied.
func copyJobUnsafe(job Job) Job {
	newJob := Job{
		ID:        job.ID,
		Lines:     job.Lines,
		Status:    job.Status,
		TimeAdded: job.TimeAdded,
	}
	if job.TimeStarted != nil {
		t := *job.TimeStarted
		newJob.TimeStarted = &t
	}
	if job.TimeEnded != nil {
		t := *job.TimeEnded
		newJob.TimeEnded = &t
	}
	return newJob
}

func (js *JobSched) keepExecutingJobs() {
	for {
		// Wait until a job becomes runnable.
		var job *Job
		for {
			job = func() *Job {
				js.mu.Lock()
				defer js.mu.Unlock()
				job := js.findWaitingJobUnsafe()
				if job != nil && js.disp.QueueLength() == 0 {
					tStart := time.Now().Local()
					job.Status = JobRunning
					job.TimeStarted = &tStart
					return job
				}
				return nil
			}()
			if job != nil {
				break
			}
			time.Sleep(500 * time.Millisecond)
		}

		slog.Info("Starting plot job", "job", job.ID, "lines", len(job.Lines))
		for _, line := range js.initLines() {
			if line = device.CleanLine(line); line != "" {
				js.disp.Enqueue(line + "\n")
			}
		}
		for _, line := range job.Lines {
			if line = device.CleanLine(line); line != "" {
				js.disp.Enqueue(line + "\n")
			}
		}

		// Wait for completion (queue drained), cancellation or a sender
		// failure.
		for {
			ended := func() bool {
				js.mu.Lock()
				defer js.mu.Unlock()
				if job.Status == JobCanceled {
					js.disp.DrainQueue()
					return true
				}
				tEnd := time.Now().Local()
				if err := js.disp.Err(); err != nil {
					slog.Error("Plot job failed", "job", job.ID, "error", err)
					job.Status = JobFailed
					job.TimeEnded = &tEnd
					return true
				}
				if js.disp.QueueLength() == 0 {
					job.Status = JobCompleted
					job.TimeEnded = &tEnd
					slog.Info("Plot job completed", "job", job.ID)
					return true
				}
				return false
			}()
			if ended {
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// AddJob queues a new plot. Refused while another job is pending or the
// dispatcher still holds lines.
func (js *JobSched) AddJob(lines []string) (string, bool) {
	js.mu.Lock()
	defer js.mu.Unlock()

	if js.findPendingJobUnsafe() != nil || js.disp.QueueLength() > 0 {
		return "", false
	}

	job := Job{
		ID:        js.issueNewJobIDUnsafe(),
		Lines:     lines,
		Status:    JobWaiting,
		TimeAdded: time.Now().Local(),
	}
	js.jobs = append(js.jobs, job)
	return job.ID, true
}

func (js *JobSched) ListJobs() []Job {
	js.mu.Lock()
	defer js.mu.Unlock()

	jobs := make([]Job, len(js.jobs))
	for i, job := range js.jobs {
		jobs[i] = copyJobUnsafe(job)
	}
	return jobs
}

// CancelJob cancels the pending job if one exists. The scheduler drains the
// dispatcher queue iff a job was canceled.
func (js *JobSched) CancelJob() bool {
	js.mu.Lock()
	defer js.mu.Unlock()

	job := js.findPendingJobUnsafe()
	if job == nil {
		return false
	}

	job.Status = JobCanceled
	tEnd := time.Now().Local()
	job.TimeEnded = &tEnd
	return true
}

func (js *JobSched) HasPendingJob() bool {
	js.mu.Lock()
	defer js.mu.Unlock()

	return js.findPendingJobUnsafe() != nil
}

func (js *JobSched) FindRunningJobID() (string, bool) {
	js.mu.Lock()
	defer js.mu.Unlock()

	job := js.findRunningJobUnsafe()
	if job == nil {
		return "", false
	}
	return job.ID, true
}
