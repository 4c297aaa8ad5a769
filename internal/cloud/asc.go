package cloud

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RawColorScale converts 16-bit LAS colour channels to [0,1].
const RawColorScale = 65536.0

// ReadOptions controls how text rows are interpreted.
type ReadOptions struct {
	// Normalized takes columns 4-6 as already in [0,1]. By default they are
	// 16-bit sensor colour and are divided by RawColorScale.
	Normalized bool
}

// ReadASC parses a CloudCompare-style ASC stream. Lines starting with '#'
// are comments. Every data row must have 3 (XYZ) or 6 (XYZRGB) columns and
// all rows must agree.
func ReadASC(r io.Reader, opts ReadOptions) (*PointCloud, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	pc := &PointCloud{}
	cols := 0
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if cols == 0 {
			cols = len(fields)
			if cols != 3 && cols != 6 {
				return nil, fmt.Errorf("line %d: expected 3 or 6 columns, got %d", lineNo, cols)
			}
			pc.HasColor = cols == 6
		} else if len(fields) != cols {
			return nil, fmt.Errorf("line %d: expected %d columns, got %d", lineNo, cols, len(fields))
		}

		var row [6]float64
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", lineNo, i+1, err)
			}
			row[i] = v
		}
		pc.Points = append(pc.Points, Point3{row[0], row[1], row[2]})
		if pc.HasColor {
			c := [3]float64{row[3], row[4], row[5]}
			if !opts.Normalized {
				for i := range c {
					c[i] /= RawColorScale
				}
			}
			pc.Features = append(pc.Features, c)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read asc: %w", err)
	}
	if pc.Len() == 0 {
		return nil, ErrEmptyCloud
	}
	if err := pc.Validate(); err != nil {
		return nil, err
	}
	return pc, nil
}

// WriteASC writes the cloud as ASC text with colour in the 16-bit scale
// ReadASC expects by default. Labels are not part of the ASC layout; use
// the binary format to keep them.
func WriteASC(w io.Writer, pc *PointCloud) error {
	if pc.Len() == 0 {
		return fmt.Errorf("no points to export")
	}
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "# Exported points\n")
	if pc.HasColor {
		fmt.Fprintf(bw, "# Format: X Y Z R G B\n")
	} else {
		fmt.Fprintf(bw, "# Format: X Y Z\n")
	}
	for i, p := range pc.Points {
		fmt.Fprintf(bw, "%.6f %.6f %.6f", p[0], p[1], p[2])
		if pc.HasColor {
			c := pc.Features[i]
			for _, v := range c {
				bw.WriteByte(' ')
				bw.WriteString(strconv.FormatFloat(v*RawColorScale, 'f', -1, 64))
			}
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// ReadLabels parses one integer label per line, skipping blanks and '#'
// comments.
func ReadLabels(r io.Reader) ([]int32, error) {
	sc := bufio.NewScanner(r)
	var labels []int32
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		v, err := strconv.ParseInt(line, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		labels = append(labels, int32(v))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return labels, nil
}
