// Package serialize writes prediction results as one JSON array of
// records, splitting large results into fixed-size chunks so no single
// record grows without bound.
package serialize

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/banshee-data/cloudsplit/internal/cloud"
	"github.com/banshee-data/cloudsplit/internal/fsutil"
	"github.com/banshee-data/cloudsplit/internal/inference"
	"github.com/banshee-data/cloudsplit/internal/monitoring"
	"github.com/banshee-data/cloudsplit/internal/security"
)

// DefaultChunkSize is the largest record, in points, written unsplit.
const DefaultChunkSize = 400000

// ResultSuffix is appended to the source folder name to form the output
// file name.
const ResultSuffix = "_PredictedResults.json"

const indent = "    "

// Record is one element of the output array.
type Record struct {
	Name   string         `json:"name"`
	Points []cloud.Point3 `json:"points"`
	Labels []int32        `json:"labels"`
	Pred   []int32        `json:"pred"`

	Parent string `json:"-"` // result the record was cut from
	Offset int    `json:"-"` // first point of the record within Parent
}

// Len returns the number of points in the record.
func (r *Record) Len() int { return len(r.Points) }

// ResultFileName derives the output file name from the folder holding the
// source cloud.
func ResultFileName(sourceDir string) string {
	return security.SanitizeFilename(filepath.Base(filepath.Clean(sourceDir))) + ResultSuffix
}

// Chunks turns results into records. A result shorter than size stays
// whole under its own name; anything else is cut into consecutive runs of
// size points named "<name>-<i>", the last holding the remainder. Records
// share backing arrays with the results. size <= 0 means DefaultChunkSize.
func Chunks(results []inference.PredictionResult, size int) []Record {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var out []Record
	for _, r := range results {
		n := r.Len()
		labels := r.Labels
		if len(labels) != n {
			// no ground truth: write the zero labels the partitioner defaults to
			labels = make([]int32, n)
		}
		if n < size {
			out = append(out, Record{Name: r.Name, Points: r.Points, Labels: labels, Pred: r.Pred, Parent: r.Name})
			monitoring.Logf("[serialize] %s converted (%d points)", r.Name, n)
			continue
		}

		monitoring.Logf("[serialize] %s has %d points, splitting at %d", r.Name, n, size)
		for i, start := 0, 0; start < n; i, start = i+1, start+size {
			end := min(start+size, n)
			rec := Record{
				Name:   fmt.Sprintf("%s-%d", r.Name, i),
				Points: r.Points[start:end],
				Labels: labels[start:end],
				Pred:   r.Pred[start:end],
				Parent: r.Name,
				Offset: start,
			}
			out = append(out, rec)
			monitoring.Logf("[serialize] %s converted (%d points)", rec.Name, rec.Len())
		}
	}
	return out
}

// Write encodes results to dest and returns the records it wrote. When dest
// already exists it logs a notice and returns nil, false. Output goes to a
// temporary sibling that is renamed into place once complete.
func Write(fsys fsutil.FileSystem, dest string, results []inference.PredictionResult, chunkSize int) ([]Record, bool, error) {
	if fsys.Exists(dest) {
		monitoring.Noticef("[serialize] %s already exists, not rewriting", dest)
		return nil, false, nil
	}
	if dir := filepath.Dir(dest); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return nil, false, fmt.Errorf("create output directory: %w", err)
		}
	}

	records := Chunks(results, chunkSize)
	tmp := dest + ".partial"
	f, err := fsys.Create(tmp)
	if err != nil {
		return nil, false, fmt.Errorf("create %s: %w", tmp, err)
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	err = Encode(bw, records)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = fsys.Remove(tmp)
		return nil, false, fmt.Errorf("write %s: %w", dest, err)
	}
	if err := fsys.Rename(tmp, dest); err != nil {
		_ = fsys.Remove(tmp)
		return nil, false, fmt.Errorf("move results into place: %w", err)
	}
	monitoring.Logf("[serialize] wrote %d records to %s", len(records), dest)
	return records, true, nil
}

// Encode writes records as a JSON array indented by four spaces, encoding
// one record at a time.
func Encode(w io.Writer, records []Record) error {
	if len(records) == 0 {
		_, err := io.WriteString(w, "[]")
		return err
	}
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	for i := range records {
		sep := ",\n" + indent
		if i == 0 {
			sep = "\n" + indent
		}
		if _, err := io.WriteString(w, sep); err != nil {
			return err
		}
		data, err := json.MarshalIndent(&records[i], indent, indent)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", records[i].Name, err)
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n]")
	return err
}

// Each decodes the array from r one record at a time.
func Each(r io.Reader, fn func(Record) error) error {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read results: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return errors.New("read results: expected a JSON array")
	}
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("read results: %w", err)
		}
		if len(rec.Labels) != rec.Len() || len(rec.Pred) != rec.Len() {
			return fmt.Errorf("record %s: %d points, %d labels, %d predictions",
				rec.Name, rec.Len(), len(rec.Labels), len(rec.Pred))
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("read results: %w", err)
	}
	return nil
}

// Read decodes every record from r.
func Read(r io.Reader) ([]Record, error) {
	var out []Record
	err := Each(r, func(rec Record) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}
