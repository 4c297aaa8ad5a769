package cloud

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// BinaryExt is the extension of the protobuf-encoded cloud format.
const BinaryExt = ".pcb"

// maxBinarySize bounds a single .pcb file read into memory.
const maxBinarySize = 1 << 30

func isText(ext string) bool {
	switch ext {
	case ".asc", ".txt", ".xyz":
		return true
	}
	return false
}

// Load reads a cloud from path, choosing the format by extension.
func Load(path string, opts ReadOptions) (*PointCloud, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != BinaryExt && !isText(ext) {
		return nil, fmt.Errorf("unsupported point cloud format %q", ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if isText(ext) {
		return ReadASC(f, opts)
	}
	return ReadBinary(f)
}

// ReadBinary decodes a .pcb stream.
func ReadBinary(r io.Reader) (*PointCloud, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBinarySize+1))
	if err != nil {
		return nil, fmt.Errorf("read pcb: %w", err)
	}
	if len(data) > maxBinarySize {
		return nil, fmt.Errorf("pcb stream exceeds %d bytes", maxBinarySize)
	}
	return ConsumeCloud(data)
}

// WriteBinary encodes pc as .pcb.
func WriteBinary(w io.Writer, pc *PointCloud) error {
	if err := pc.Validate(); err != nil {
		return err
	}
	_, err := w.Write(AppendCloud(nil, pc))
	return err
}

// Save writes pc to path, choosing the format by extension.
func Save(path string, pc *PointCloud) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != BinaryExt && !isText(ext) {
		return fmt.Errorf("unsupported point cloud format %q", ext)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if isText(ext) {
		err = WriteASC(bw, pc)
	} else {
		err = WriteBinary(bw, pc)
	}
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// LoadLabels reads a label file (one integer per line).
func LoadLabels(path string) ([]int32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadLabels(f)
}
