// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// SpoolerAPI models the spooler HTTP API. Requests passed in are already
// validated, so an error returned here is an internal server error.
type SpoolerAPI interface {
	WriteLine(req *WriteLineRequest) (*WriteLineResponse, error)
	QueryLines(req *QueryLinesRequest) (*QueryLinesResponse, error)
	Plot(req *PlotRequest) (*PlotResponse, error)
	EstimatePlot(req *EstimateRequest) (*EstimateResponse, error)
	Cancel(req *CancelRequest) (*CancelResponse, error)
	SetInit(req *SetInitRequest) (*SetInitResponse, error)
	GetInit(req *GetInitRequest) (*GetInitResponse, error)
	GetStatus(req *GetStatusRequest) (*GetStatusResponse, error)
	ListJobs(req *ListJobsRequest) (*ListJobsResponse, error)
	QueryTS(req *QueryTSRequest) (*QueryTSResponse, error)
}

type LineInfo struct {
	LineNum int    `json:"line_num"`
	Dir     string `json:"dir"`     // "up" for board->host, "down" for host->board
	Content string `json:"content"` // content of the line, without newlines
	Time    string `json:"time"`    // local time, "2006-01-02 15:04:05.000"
}

type WriteLineRequest struct {
	Line string `json:"line"` // single line of command. cannot contain newline.
}

type WriteLineResponse struct {
	Now string `json:"now"`
}

func validateWriteLine(req *WriteLineRequest) error {
	if strings.Contains(req.Line, "\n") {
		return errors.New("payload cannot contain newline")
	}
	if len(req.Line) > 100 {
		return errors.New("payload must be <= 100 byte")
	}
	if req.Line == "" {
		return errors.New("payload cannot be empty")
	}
	return nil
}

type QueryLinesRequest struct {
	FromLine    *int   `json:"from_line,omitempty"`    // Optional: start from this line number (inclusive), 1-based
	ToLine      *int   `json:"to_line,omitempty"`      // Optional: up to this line number (exclusive), 1-based
	Tail        *int   `json:"tail,omitempty"`         // Optional: get last N lines (overrides from/to)
	FilterDir   string `json:"filter_dir,omitempty"`   // Optional: "up" or "down" direction filter
	FilterRegex string `json:"filter_regex,omitempty"` // Optional: regex filter (RE2 syntax)
}

type QueryLinesResponse struct {
	Count int        `json:"count"` // total number of matching lines
	Lines []LineInfo `json:"lines"` // actual lines (max 1000), ordered by line number (ascending)
	Now   string     `json:"now"`
}

func validateQueryLines(req *QueryLinesRequest) error {
	tailExists := req.Tail != nil
	rangeExists := req.FromLine != nil || req.ToLine != nil

	if tailExists && rangeExists {
		return errors.New("tail: cannot be used together ranges (from_line, to_line)")
	}
	if rangeExists {
		if req.FromLine != nil && *req.FromLine < 1 {
			return errors.New("from_line: must be >= 1")
		}
		if req.ToLine != nil && *req.ToLine < 1 {
			return errors.New("to_line: must be >= 1")
		}
		if (req.FromLine != nil && req.ToLine != nil) && *req.ToLine < *req.FromLine {
			return errors.New("to_line must be >= from_line")
		}
	}
	if tailExists && *req.Tail < 1 {
		return errors.New("tail: must be >= 1")
	}

	if req.FilterDir != "" && req.FilterDir != "up" && req.FilterDir != "down" {
		return errors.New("filter_dir: must be 'up' or 'down'")
	}

	if req.FilterRegex != "" {
		if _, err := regexp.Compile(req.FilterRegex); err != nil {
			return fmt.Errorf("filter_regex: invalid regex %v", err)
		}
	}
	return nil
}

type PlotRequest struct {
	Gcode string `json:"gcode"` // full G-code program, newline-separated
}

type PlotResponse struct {
	OK    bool    `json:"ok"`
	JobID *string `json:"job_id,omitempty"`
}

func validatePlot(req *PlotRequest) error {
	if strings.TrimSpace(req.Gcode) == "" {
		return errors.New("gcode: cannot be empty")
	}
	return nil
}

type EstimateRequest struct {
	Gcode string `json:"gcode"`
}

type EstimateResponse struct {
	Seconds float64 `json:"seconds"`
	MinX    float64 `json:"min_x"`
	MaxX    float64 `json:"max_x"`
	MinY    float64 `json:"min_y"`
	MaxY    float64 `json:"max_y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

func validateEstimate(req *EstimateRequest) error {
	if strings.TrimSpace(req.Gcode) == "" {
		return errors.New("gcode: cannot be empty")
	}
	return nil
}

type CancelRequest struct {
}

type CancelResponse struct {
	Canceled bool `json:"canceled"`
}

func validateCancel(req *CancelRequest) error {
	return nil
}

type SetInitRequest struct {
	Lines []string `json:"lines"`
}

type SetInitResponse struct {
}

func validateSetInit(req *SetInitRequest) error {
	for _, line := range req.Lines {
		if strings.Contains(line, "\n") {
			return errors.New("lines: must not contain newline")
		}
	}
	return nil
}

type GetInitRequest struct {
}

type GetInitResponse struct {
	Lines []string `json:"lines"`
}

func validateGetInit(req *GetInitRequest) error {
	return nil
}

type GetStatusRequest struct {
}

type CommandQueue struct {
	Spooler int `json:"spooler"` // lines held by the dispatcher
	Planner int `json:"planner"` // motion blocks inside the board
}

type GetStatusResponse struct {
	Busy         bool         `json:"busy"`
	CommandQueue CommandQueue `json:"command_queue"`
	RunningJob   *string      `json:"running_job,omitempty"`
	Error        string       `json:"error,omitempty"` // sender failure, if any
}

func validateGetStatus(req *GetStatusRequest) error {
	return nil
}

type ListJobsRequest struct {
}

type JobInfo struct {
	JobID       string  `json:"job_id"`
	Status      string  `json:"status"` // "WAITING", "RUNNING", "COMPLETED", "CANCELED", "FAILED"
	TimeAdded   string  `json:"time_added"`
	TimeStarted *string `json:"time_started,omitempty"`
	TimeEnded   *string `json:"time_ended,omitempty"`
}

type ListJobsResponse struct {
	Jobs []JobInfo `json:"jobs"`
}

func validateListJobs(req *ListJobsRequest) error {
	return nil
}

type QueryTSRequest struct {
	Start float64  `json:"start"` // unix seconds
	End   float64  `json:"end"`
	Step  float64  `json:"step"` // seconds
	Query []string `json:"query"`
}

type QueryTSResponse struct {
	Times  []float64             `json:"times"`
	Values map[string][]*float64 `json:"values"`
}

func validateQueryTS(req *QueryTSRequest) error {
	if len(req.Query) == 0 {
		return errors.New("query: cannot be empty")
	}
	if req.Start < 0 {
		return errors.New("start: must be >= 0")
	}
	if req.End < req.Start {
		return errors.New("end: must be >= start")
	}
	if req.Step <= 0 {
		return errors.New("step: must be > 0")
	}
	if (req.End-req.Start)/req.Step > 10000 {
		return errors.New("too many steps")
	}
	if len(req.Query) > 1000 {
		return errors.New("query: too many")
	}
	return nil
}

func registerJsonHandler[ReqT any, RespT any](path string, validate func(*ReqT) error, exec func(*ReqT) (*RespT, error)) {
	http.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		// Handle CORS and method validation
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		// Decode & validate
		var req ReqT
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "invalid JSON: %v", err)
			return
		}

		if err := validate(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "invalid request: %v", err)
			return
		}

		// Execute
		slowTimer := time.AfterFunc(1*time.Second, func() {
			body, err := json.Marshal(req)
			dumpBody := "unknown"
			if err == nil {
				dumpBody = string(body)
			}
			slog.Warn("API exec taking more than 1 second", "path", path, "req", dumpBody)
		})
		resp, err := exec(&req)
		slowTimer.Stop()
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			slog.Error("Error during API processing", "path", path, "error", err)
			return
		}

		// Send response as JSON
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	})
}

func StartHTTPServer(addr string, api SpoolerAPI) error {
	registerJsonHandler("/write-line", validateWriteLine, api.WriteLine)
	registerJsonHandler("/query-lines", validateQueryLines, api.QueryLines)
	registerJsonHandler("/plot", validatePlot, api.Plot)
	registerJsonHandler("/estimate", validateEstimate, api.EstimatePlot)
	registerJsonHandler("/cancel", validateCancel, api.Cancel)
	registerJsonHandler("/status", validateGetStatus, api.GetStatus)
	registerJsonHandler("/set-init", validateSetInit, api.SetInit)
	registerJsonHandler("/get-init", validateGetInit, api.GetInit)
	registerJsonHandler("/list-jobs", validateListJobs, api.ListJobs)
	registerJsonHandler("/query-ts", validateQueryTS, api.QueryTS)

	slog.Info("HTTP server started", "addr", addr)
	return http.ListenAndServe(addr, nil)
}
