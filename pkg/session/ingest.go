package session

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/entrhq/compass/pkg/memory"
	"github.com/entrhq/compass/pkg/types"
)

const sampleRows = 5

// DatasetSummary describes an ingested CSV file.
type DatasetSummary struct {
	Path           string   `json:"path"`
	Rows           int      `json:"rows"`
	Columns        []string `json:"columns"`
	NumericColumns []string `json:"numeric_columns"`
}

// WithDataDir sets the directory ingested datasets are copied into. When
// unset, datasets are referenced in place.
func WithDataDir(dir string) Option {
	return func(s *Session) { s.dataDir = dir }
}

// Ingest parses a user-uploaded CSV dataset, runs an LLM analysis over
// its shape and a sample, and records the result as a system-initiated
// conversation turn. The turn's user message is a sentinel, so later chat
// context shows the analysis but never the sentinel itself.
func (s *Session) Ingest(ctx context.Context, userID, path string) (string, error) {
	summary, sample, err := readDataset(path)
	if err != nil {
		return "", err
	}

	storedPath := path
	if s.dataDir != "" {
		storedPath, err = s.copyDataset(userID, path)
		if err != nil {
			return "", err
		}
	}
	if err := s.store.SetDatasetPath(userID, storedPath); err != nil {
		if !s.recoverCorrupt(err) {
			return "", fmt.Errorf("session: record dataset path: %w", err)
		}
		if err := s.store.SetDatasetPath(userID, storedPath); err != nil {
			return "", fmt.Errorf("session: record dataset path: %w", err)
		}
	}

	turn, err := s.store.AddTurn(userID, memory.UploadSentinel, "", "")
	if err != nil {
		return "", fmt.Errorf("session: start ingestion turn: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	response, err := s.provider.Complete(callCtx, []*types.Message{
		types.NewSystemMessage("You are a market intelligence assistant. The user uploaded a dataset; describe what it contains and what business questions it could answer."),
		types.NewUserMessage(describeDataset(summary, sample)),
	})
	if err != nil {
		s.warnf("session: ingestion analysis failed: %v", err)
		if resolveErr := s.FailTurn(userID, turn.ID, ""); resolveErr != nil {
			return "", fmt.Errorf("session: record failure: %w", resolveErr)
		}
		return failureMessage, nil
	}

	if err := s.store.SetResponse(userID, turn.ID, response.Content); err != nil {
		return "", fmt.Errorf("session: resolve ingestion turn: %w", err)
	}
	s.logf("session: ingested dataset for user %s (%d rows, %d columns)",
		userID, summary.Rows, len(summary.Columns))
	return response.Content, nil
}

// readDataset parses the CSV header, counts rows, detects numeric
// columns, and keeps a small sample for the analysis prompt.
func readDataset(path string) (DatasetSummary, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return DatasetSummary{}, nil, fmt.Errorf("session: open dataset %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return DatasetSummary{}, nil, fmt.Errorf("session: read dataset header %s: %w", path, err)
	}

	summary := DatasetSummary{Path: path, Columns: header}
	numeric := make([]bool, len(header))
	for i := range numeric {
		numeric[i] = true
	}

	var sample [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return DatasetSummary{}, nil, fmt.Errorf("session: read dataset row %s: %w", path, err)
		}
		summary.Rows++
		if len(sample) < sampleRows {
			sample = append(sample, row)
		}
		for i, v := range row {
			if i >= len(numeric) || v == "" {
				continue
			}
			if _, convErr := strconv.ParseFloat(v, 64); convErr != nil {
				numeric[i] = false
			}
		}
	}

	for i, isNum := range numeric {
		if isNum && summary.Rows > 0 {
			summary.NumericColumns = append(summary.NumericColumns, header[i])
		}
	}
	return summary, sample, nil
}

func describeDataset(summary DatasetSummary, sample [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dataset: %d rows, %d columns.\n", summary.Rows, len(summary.Columns))
	fmt.Fprintf(&b, "Columns: %s\n", strings.Join(summary.Columns, ", "))
	if len(summary.NumericColumns) > 0 {
		fmt.Fprintf(&b, "Numeric columns: %s\n", strings.Join(summary.NumericColumns, ", "))
	}
	if len(sample) > 0 {
		b.WriteString("Sample rows:\n")
		for _, row := range sample {
			fmt.Fprintf(&b, "  %s\n", strings.Join(row, " | "))
		}
	}
	return b.String()
}

// copyDataset stores a private copy of the upload so later analysis does
// not depend on the original file sticking around.
func (s *Session) copyDataset(userID, path string) (string, error) {
	if err := os.MkdirAll(s.dataDir, 0o750); err != nil {
		return "", fmt.Errorf("session: init data directory: %w", err)
	}
	dst := filepath.Join(s.dataDir, userID+"_dataset.csv")

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("session: open dataset %s: %w", path, err)
	}
	defer src.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("session: create dataset copy: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("session: copy dataset: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("session: close dataset copy: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("session: commit dataset copy: %w", err)
	}
	return dst, nil
}
