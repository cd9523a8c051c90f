package runner

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"pkt.systems/hopprun/internal/collection"
	"pkt.systems/hopprun/internal/errs"
)

// IterationData is a row-oriented variable table. Keys keeps the header
// order; each row holds only its non-empty cells.
type IterationData struct {
	Keys []string
	Rows []map[string]string
}

// Len reports the number of rows.
func (d *IterationData) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Row returns the overlay for zero-based iteration i. Rows repeat when the
// iteration count exceeds the data set.
func (d *IterationData) Row(i int) map[string]string {
	if d.Len() == 0 {
		return nil
	}
	return d.Rows[i%len(d.Rows)]
}

// LoadIterationData reads a CSV file (header row names the keys) or, for a
// .json extension, an array of flat objects.
func LoadIterationData(path string) (*IterationData, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.Wrap(errs.FileNotFound, err, path)
		}
		return nil, fmt.Errorf("iteration data: %w", err)
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ReadJSONIterations(f)
	}
	return ReadCSVIterations(f)
}

// ReadCSVIterations parses CSV iteration data.
func ReadCSVIterations(r io.Reader) (*IterationData, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	headers, err := cr.Read()
	if err == io.EOF {
		return nil, errs.New(errs.MalformedDataFile, "iteration data is empty")
	}
	if err != nil {
		return nil, errs.Wrap(errs.MalformedDataFile, err, "")
	}
	data := &IterationData{}
	for _, h := range headers {
		data.Keys = append(data.Keys, strings.TrimSpace(h))
	}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap(errs.MalformedDataFile, err, "")
		}
		row := map[string]string{}
		for i, h := range data.Keys {
			if i >= len(rec) || h == "" {
				continue
			}
			if rec[i] != "" {
				row[h] = rec[i]
			}
		}
		data.Rows = append(data.Rows, row)
	}
	if len(data.Rows) == 0 {
		return nil, errs.New(errs.MalformedDataFile, "iteration data contains no rows")
	}
	return data, nil
}

// ReadJSONIterations parses a JSON array of objects. Scalar values are
// stringified; nested values are kept as JSON text.
func ReadJSONIterations(r io.Reader) (*IterationData, error) {
	var raw []map[string]any
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, errs.Wrap(errs.MalformedDataFile, err, "iteration data must be a JSON array of objects")
	}
	if len(raw) == 0 {
		return nil, errs.New(errs.MalformedDataFile, "iteration data contains no rows")
	}
	data := &IterationData{}
	seen := map[string]struct{}{}
	for _, obj := range raw {
		row := map[string]string{}
		for _, k := range slices.Sorted(maps.Keys(obj)) {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				data.Keys = append(data.Keys, k)
			}
			v := cellString(obj[k])
			if v != "" {
				row[k] = v
			}
		}
		data.Rows = append(data.Rows, row)
	}
	return data, nil
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number, bool:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// iterationEnvs restores the selected list to its pre-loop snapshot and
// overlays the data row for iteration i. Globals carry over.
func iterationEnvs(current collection.Envs, selected []collection.EnvVar, data *IterationData, i int) collection.Envs {
	envs := collection.Envs{Global: slices.Clone(current.Global), Selected: slices.Clone(selected)}
	if row := data.Row(i); row != nil {
		envs = envs.Overlay(row, data.Keys)
	}
	return envs
}
