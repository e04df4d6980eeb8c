package backend

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JonMunkholm/csvwizard/internal/poller"
)

// Columns is the field discovery response for the transform flow.
type Columns struct {
	Filepath              string   `json:"filepath"`
	Columns               []string `json:"columns"`
	NeedsDocnumGeneration bool     `json:"needs_docnum_generation"`
}

// TransformRequest is the body of the preview and process calls.
type TransformRequest struct {
	Filepath              string   `json:"filepath"`
	Columns               []string `json:"columns"`
	NeedsDocnumGeneration bool     `json:"needs_docnum_generation"`
}

// Preview is a sample of the transformed output.
type Preview struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"preview"`
}

// ExportRequest starts the per-item multi-export.
type ExportRequest struct {
	Filepath      string              `json:"filepath"`
	SelectedItems map[string][]string `json:"selected_items"`
}

// Analysis is the result of the multi-export initial processing task.
type Analysis struct {
	Filepath   string              `json:"filepath"`
	UniqueData map[string][]string `json:"unique_data"`
}

// DedupColumns is the field discovery response for the CRM dedup flow.
type DedupColumns struct {
	Filepath         string   `json:"filepath"`
	Columns          []string `json:"columns"`
	SuggestedColumns []string `json:"suggested_columns"`
}

// DedupRequest is the body of the dedup preview and process calls.
type DedupRequest struct {
	Filepath string   `json:"filepath"`
	Columns  []string `json:"columns"`
}

// DedupPreview is a sample of unique emails plus counters.
type DedupPreview struct {
	Preview []string `json:"preview"`
	Stats   Stats    `json:"stats"`
}

// Stats are the dedup counters. They are shown as reported.
type Stats struct {
	TotalRaw    int `json:"total_raw"`
	TotalUnique int `json:"total_unique"`
	Duplicates  int `json:"duplicates"`
	Invalid     int `json:"invalid"`
}

// Consistent reports whether the counters add up.
func (s Stats) Consistent() bool {
	return s.TotalUnique+s.Duplicates+s.Invalid == s.TotalRaw
}

type taskRef struct {
	TaskID string `json:"task_id"`
}

// TaskStatus is one task status response. Result is an opaque value: a
// download locator for most tasks, an Analysis for multi-export analysis.
type TaskStatus struct {
	Status        poller.Status   `json:"status"`
	Progress      int             `json:"progress"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	ProcessedRows *int            `json:"processed_rows,omitempty"`
	Stats         *Stats          `json:"stats,omitempty"`
	InvalidResult string          `json:"invalid_result,omitempty"`
}

func (t TaskStatus) State() poller.Status { return t.Status }
func (t TaskStatus) Percent() int         { return t.Progress }

func (t TaskStatus) Message() string {
	if t.Error == "" {
		return "task failed"
	}
	return t.Error
}

// Locator decodes Result as a download locator.
func (t TaskStatus) Locator() (string, error) {
	var loc string
	if err := json.Unmarshal(t.Result, &loc); err != nil {
		return "", fmt.Errorf("decode result locator: %w", err)
	}
	if loc == "" {
		return "", errors.New("empty result locator")
	}
	return loc, nil
}

// Analysis decodes Result as a multi-export analysis.
func (t TaskStatus) Analysis() (*Analysis, error) {
	var a Analysis
	if err := json.Unmarshal(t.Result, &a); err != nil {
		return nil, fmt.Errorf("decode analysis result: %w", err)
	}
	if a.Filepath == "" {
		return nil, errors.New("analysis result has no filepath")
	}
	return &a, nil
}
