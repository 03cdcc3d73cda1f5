package record

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ReadAll parses every record in the JSONL file at path. Blank lines are
// skipped; a malformed line is an error (the file is append-only and should
// never be hand-edited).
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}
	defer f.Close()
	return readRecords(f)
}

// ReadSince parses records appended after byte offset and returns them with
// the new offset. The watch monitor polls with this to tail the file.
func ReadSince(path string, offset int64) ([]Record, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, fmt.Errorf("open record file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("stat record file: %w", err)
	}
	if info.Size() < offset {
		// File was truncated or rotated; start over.
		offset = 0
	}
	if info.Size() == offset {
		return nil, offset, nil
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek record file: %w", err)
	}

	recs, err := readRecords(f)
	if err != nil {
		return nil, offset, err
	}
	return recs, info.Size(), nil
}

func readRecords(r io.Reader) ([]Record, error) {
	var out []Record

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("parse record line: %w", err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan record file: %w", err)
	}
	return out, nil
}
