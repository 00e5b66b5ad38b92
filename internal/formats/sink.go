package formats

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// Container identifies the on-disk serialization of a consumer.
type Container string

const (
	ContainerCSV     Container = "csv"
	ContainerParquet Container = "parquet"
)

var ErrUnknownContainer = errors.New("unknown container")

// Parquet rows are buffered into row groups of this many records.
const RowGroupSize = 500_000

// Sink is the terminal-write contract: the core hands it text frames
// and a destination, the sink owns the encoding.
type Sink interface {
	Write(frame string) error
	Close() error
}

// NewSink builds the sink for a container tag. The format tag selects
// the typed row schema for parquet output; it must be the
// post-conversion format when a Convert task runs upstream.
func NewSink(c Container, f Format, w io.Writer) (Sink, error) {
	switch c {
	case ContainerCSV, "":
		return &csvSink{w: w}, nil
	case ContainerParquet:
		switch f {
		case Cat21:
			return newParquetSink[Cat21Row](w), nil
		case DronePlot, Senhive, Asd:
			return newParquetSink[DronePoint](w), nil
		default:
			return nil, fmt.Errorf("%w: parquet has no schema for format %s", ErrUnknownContainer, f)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownContainer, c)
	}
}

// csvSink passes frames through, one line per record.
type csvSink struct {
	w io.Writer
}

func (s *csvSink) Write(frame string) error {
	if !strings.HasSuffix(frame, "\n") {
		frame += "\n"
	}
	_, err := io.WriteString(s.w, frame)
	return err
}

func (s *csvSink) Close() error { return nil }

// parquetSink decodes JSON-lines frames into typed rows and writes
// them in row groups.
type parquetSink[T any] struct {
	pw      *parquet.GenericWriter[T]
	pending []T
}

func newParquetSink[T any](w io.Writer) *parquetSink[T] {
	return &parquetSink[T]{pw: parquet.NewGenericWriter[T](w)}
}

func (s *parquetSink[T]) Write(frame string) error {
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var row T
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return fmt.Errorf("decode row for parquet: %w", err)
		}
		s.pending = append(s.pending, row)
	}

	if len(s.pending) >= RowGroupSize {
		return s.flush()
	}
	return nil
}

func (s *parquetSink[T]) flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	if _, err := s.pw.Write(s.pending); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	s.pending = s.pending[:0]
	return s.pw.Flush()
}

func (s *parquetSink[T]) Close() error {
	if err := s.flush(); err != nil {
		return err
	}
	return s.pw.Close()
}
