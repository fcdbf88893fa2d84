// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"xidraw-spooler/device"
	"xidraw-spooler/estimate"
)

// spooler wires the HTTP API to the dispatcher, job scheduler and stores.
type spooler struct {
	disp     *device.Dispatcher
	traffic  *TrafficLog
	jobs     *JobSched
	tsdb     *TSDB
	limits   estimate.Limits
	initFile string
	lastOcc  *atomic.Int64 // latest planner occupancy seen while gating
}

func (s *spooler) WriteLine(req *WriteLineRequest) (*WriteLineResponse, error) {
	s.disp.Enqueue(req.Line + "\n")
	return &WriteLineResponse{Now: formatSpoolerTime(time.Now())}, nil
}

func (s *spooler) QueryLines(req *QueryLinesRequest) (*QueryLinesResponse, error) {
	var filterRegex *regexp.Regexp
	if req.FilterRegex != "" {
		filterRegex, _ = regexp.Compile(req.FilterRegex)
	}

	opts := QueryOptions{
		FilterDir:   req.FilterDir,
		FilterRegex: filterRegex,
	}
	if req.Tail != nil {
		opts.Scan = TailScan{N: *req.Tail}
	} else if req.FromLine != nil || req.ToLine != nil {
		opts.Scan = RangeScan{FromLine: req.FromLine, ToLine: req.ToLine}
	}

	lines := s.traffic.Query(opts)

	totalCount := len(lines)
	const maxLines = 1000
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}

	resp := QueryLinesResponse{
		Count: totalCount,
		Lines: make([]LineInfo, len(lines)),
		Now:   formatSpoolerTime(time.Now()),
	}
	for i, l := range lines {
		resp.Lines[i] = LineInfo{
			LineNum: l.num,
			Dir:     l.dir,
			Content: l.content,
			Time:    formatSpoolerTime(l.time),
		}
	}
	return &resp, nil
}

func (s *spooler) Plot(req *PlotRequest) (*PlotResponse, error) {
	jobID, ok := s.jobs.AddJob(strings.Split(req.Gcode, "\n"))
	if !ok {
		return &PlotResponse{OK: false}, nil
	}
	return &PlotResponse{OK: true, JobID: &jobID}, nil
}

func (s *spooler) EstimatePlot(req *EstimateRequest) (*EstimateResponse, error) {
	res, err := estimate.Estimate(req.Gcode, s.limits)
	if err != nil {
		return nil, err
	}
	return &EstimateResponse{
		Seconds: res.Seconds,
		MinX:    res.Bounds.MinX,
		MaxX:    res.Bounds.MaxX,
		MinY:    res.Bounds.MinY,
		MaxY:    res.Bounds.MaxY,
		Width:   res.Bounds.Width(),
		Height:  res.Bounds.Height(),
	}, nil
}

func (s *spooler) Cancel(req *CancelRequest) (*CancelResponse, error) {
	return &CancelResponse{Canceled: s.jobs.CancelJob()}, nil
}

func (s *spooler) SetInit(req *SetInitRequest) (*SetInitResponse, error) {
	if err := writeInitLines(s.initFile, req.Lines); err != nil {
		return nil, err
	}
	return &SetInitResponse{}, nil
}

func (s *spooler) GetInit(req *GetInitRequest) (*GetInitResponse, error) {
	lines, err := fetchInitLines(s.initFile)
	if err != nil {
		return nil, err
	}
	return &GetInitResponse{Lines: lines}, nil
}

func (s *spooler) GetStatus(req *GetStatusRequest) (*GetStatusResponse, error) {
	resp := GetStatusResponse{
		Busy: s.jobs.HasPendingJob() || s.disp.QueueLength() > 0,
		CommandQueue: CommandQueue{
			Spooler: s.disp.QueueLength(),
			Planner: int(s.lastOcc.Load()),
		},
	}
	if jobID, ok := s.jobs.FindRunningJobID(); ok {
		resp.RunningJob = &jobID
	}
	if err := s.disp.Err(); err != nil {
		resp.Error = err.Error()
	}
	return &resp, nil
}

func (s *spooler) ListJobs(req *ListJobsRequest) (*ListJobsResponse, error) {
	jobs := s.jobs.ListJobs()
	resp := ListJobsResponse{Jobs: make([]JobInfo, len(jobs))}
	for i, job := range jobs {
		info := JobInfo{
			JobID:     job.ID,
			Status:    string(job.Status),
			TimeAdded: formatSpoolerTime(job.TimeAdded),
		}
		if job.TimeStarted != nil {
			t := formatSpoolerTime(*job.TimeStarted)
			info.TimeStarted = &t
		}
		if job.TimeEnded != nil {
			t := formatSpoolerTime(*job.TimeEnded)
			info.TimeEnded = &t
		}
		resp.Jobs[i] = info
	}
	return &resp, nil
}

func (s *spooler) QueryTS(req *QueryTSRequest) (*QueryTSResponse, error) {
	start := time.Unix(0, int64(req.Start*float64(time.Second)))
	end := time.Unix(0, int64(req.End*float64(time.Second)))
	step := time.Duration(req.Step * float64(time.Second))

	tms, valsMap := s.tsdb.QueryRanges(req.Query, start, end, step)

	resp := QueryTSResponse{
		Times:  make([]float64, len(tms)),
		Values: valsMap,
	}
	for i, tm := range tms {
		resp.Times[i] = float64(tm.UnixNano()) / float64(time.Second)
	}
	return &resp, nil
}
