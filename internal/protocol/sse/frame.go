package sse

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	EventEndpoint = "endpoint"
	EventMessage  = "message"
)

var (
	ErrLineTooLarge  = errors.New("sse: line too large")
	ErrFrameTooLarge = errors.New("sse: frame too large")
)

// Frame is one dispatched event block.
type Frame struct {
	Event string
	Data  string
}

// Limits constrains per-line and per-frame memory use.
type Limits struct {
	MaxLineBytes  int
	MaxFrameBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxLineBytes:  1024 * 1024,
		MaxFrameBytes: 8 * 1024 * 1024,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.MaxLineBytes <= 0 {
		l.MaxLineBytes = def.MaxLineBytes
	}
	if l.MaxFrameBytes <= 0 {
		l.MaxFrameBytes = def.MaxFrameBytes
	}
	return l
}

// Reader pulls frames off an event stream. A Reader is not safe for
// concurrent use; one read loop owns it.
type Reader struct {
	br     *bufio.Reader
	limits Limits

	event   string
	data    strings.Builder
	hasData bool
}

func NewReader(r io.Reader, limits Limits) *Reader {
	return &Reader{
		br:     bufio.NewReader(r),
		limits: limits.withDefaults(),
	}
}

// Next blocks until a complete block has been terminated by a blank line.
// It returns io.EOF once the stream ends; an unterminated trailing line or
// block is discarded.
func (r *Reader) Next() (Frame, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			return Frame{}, err
		}

		if len(line) == 0 {
			if r.event == "" && r.data.Len() == 0 {
				r.reset()
				continue
			}
			f := Frame{Event: r.event, Data: r.data.String()}
			r.reset()
			return f, nil
		}

		if err := r.applyLine(line); err != nil {
			return Frame{}, err
		}
	}
}

func (r *Reader) applyLine(line []byte) error {
	if line[0] == ':' {
		return nil
	}

	field, value := line, []byte(nil)
	if i := bytes.IndexByte(line, ':'); i >= 0 {
		field = line[:i]
		value = line[i+1:]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
	}

	switch string(field) {
	case "event":
		r.event = strings.TrimSpace(string(value))
	case "data":
		if r.hasData {
			r.data.WriteByte('\n')
		}
		r.data.Write(value)
		r.hasData = true
		if r.data.Len()+len(r.event) > r.limits.MaxFrameBytes {
			r.reset()
			return ErrFrameTooLarge
		}
	}
	return nil
}

func (r *Reader) reset() {
	r.event = ""
	r.data.Reset()
	r.hasData = false
}

// readLine returns one line without its terminator. A line is only
// returned once its '\n' has been read.
func (r *Reader) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.br.ReadSlice('\n')
		if len(buf)+len(chunk) > r.limits.MaxLineBytes+2 {
			return nil, ErrLineTooLarge
		}
		switch {
		case err == nil:
			if buf == nil {
				buf = chunk
			} else {
				buf = append(buf, chunk...)
			}
			line := buf[:len(buf)-1]
			if n := len(line); n > 0 && line[n-1] == '\r' {
				line = line[:n-1]
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			buf = append(buf, chunk...)
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		default:
			return nil, err
		}
	}
}

// WriteFrame encodes f as one event block followed by a blank line.
func WriteFrame(w io.Writer, f Frame) error {
	var b strings.Builder
	if f.Event != "" {
		if strings.ContainsAny(f.Event, "\r\n") {
			return fmt.Errorf("sse: event type contains newline: %q", f.Event)
		}
		b.WriteString("event: ")
		b.WriteString(f.Event)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(f.Data, "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}
