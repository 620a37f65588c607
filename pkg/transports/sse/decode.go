package sse

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Frame is one parsed event from a stream.
type Frame struct {
	Event string
	Data  string
}

// Unmarshal decodes the frame's data into v.
func (f Frame) Unmarshal(v any) error {
	return json.Unmarshal([]byte(f.Data), v)
}

// Reader parses an event stream. Comment lines (heartbeats) are skipped.
type Reader struct {
	sc *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{sc: sc}
}

// Next returns the next event, or io.EOF when the stream ends.
func (r *Reader) Next() (Frame, error) {
	var f Frame
	var data []string
	for r.sc.Scan() {
		line := r.sc.Text()
		switch {
		case line == "":
			if f.Event == "" && len(data) == 0 {
				continue
			}
			f.Data = strings.Join(data, "\n")
			return f, nil
		case strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "event:"):
			f.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := r.sc.Err(); err != nil {
		return Frame{}, err
	}
	if f.Event != "" || len(data) > 0 {
		f.Data = strings.Join(data, "\n")
		return f, nil
	}
	return Frame{}, io.EOF
}

// ReadAll parses every event in r.
func ReadAll(r io.Reader) ([]Frame, error) {
	rd := NewReader(r)
	var out []Frame
	for {
		f, err := rd.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
}
