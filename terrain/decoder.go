package terrain

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// wireBatch is the JSON form of a Batch as published by sensors
type wireBatch struct {
	Frame  string      `json:"frame"`
	Stamp  *time.Time  `json:"stamp,omitempty"`
	Points []wirePoint `json:"points"`
}

// wirePoint accepts either [x, y, z, variance] or {"x":..,"y":..,"z":..,"variance":..}.
// null coordinates decode as NaN; a missing variance decodes as 0.
type wirePoint Point

func (wp *wirePoint) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty point")
	}

	switch data[0] {
	case '[':
		var fields []*float64
		if err := json.Unmarshal(data, &fields); err != nil {
			return fmt.Errorf("point array: %w", err)
		}
		if len(fields) < 3 || len(fields) > 4 {
			return fmt.Errorf("point array needs 3 or 4 values, got %d", len(fields))
		}
		wp.X = orNaN(fields[0])
		wp.Y = orNaN(fields[1])
		wp.Z = orNaN(fields[2])
		if len(fields) == 4 {
			wp.Variance = orNaN(fields[3])
		}
		return nil
	case '{':
		var obj struct {
			X        *float64 `json:"x"`
			Y        *float64 `json:"y"`
			Z        *float64 `json:"z"`
			Variance *float64 `json:"variance"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("point object: %w", err)
		}
		wp.X = orNaN(obj.X)
		wp.Y = orNaN(obj.Y)
		wp.Z = orNaN(obj.Z)
		if obj.Variance != nil {
			wp.Variance = *obj.Variance
		}
		return nil
	default:
		return fmt.Errorf("point must be an array or object")
	}
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// DecodeBatch decodes a point batch from an MQTT payload:
// - Raw JSON object
// - Zlib-compressed JSON
//
// A payload without a frame is assigned defaultFrame. A missing stamp is
// set to the decode time.
func DecodeBatch(data []byte, defaultFrame string) (Batch, error) {
	if len(data) == 0 {
		return Batch{}, fmt.Errorf("empty data")
	}

	jsonBytes := data
	if data[0] != '{' {
		inflated, err := inflateZlib(data)
		if err != nil {
			return Batch{}, fmt.Errorf("unknown format: not JSON or zlib-compressed")
		}
		jsonBytes = inflated
	}

	var wb wireBatch
	if err := json.Unmarshal(jsonBytes, &wb); err != nil {
		return Batch{}, fmt.Errorf("parsing batch JSON: %w", err)
	}
	return wb.batch(defaultFrame), nil
}

func (wb wireBatch) batch(defaultFrame string) Batch {
	b := Batch{Frame: wb.Frame, Points: make([]Point, len(wb.Points))}
	if b.Frame == "" {
		b.Frame = defaultFrame
	}
	if wb.Stamp != nil {
		b.Stamp = *wb.Stamp
	} else {
		b.Stamp = time.Now()
	}
	for i, wp := range wb.Points {
		b.Points[i] = Point(wp)
	}
	return b
}

// ReadBatches decodes a stream of concatenated JSON batches, such as a
// newline-delimited replay log, calling fn for each one in order. It stops
// at the first error from fn.
func ReadBatches(r io.Reader, defaultFrame string, fn func(Batch) error) (int, error) {
	dec := json.NewDecoder(r)
	n := 0
	for {
		var wb wireBatch
		err := dec.Decode(&wb)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("decoding batch %d: %w", n+1, err)
		}
		n++
		if err := fn(wb.batch(defaultFrame)); err != nil {
			return n, err
		}
	}
}

// inflateZlib decompresses zlib-compressed data
func inflateZlib(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating zlib reader: %w", err)
	}
	defer func() { _ = reader.Close() }()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompressing zlib data: %w", err)
	}
	return decompressed, nil
}

// deflateZlib compresses data for publishing large payloads
func deflateZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compressing zlib data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing zlib writer: %w", err)
	}
	return buf.Bytes(), nil
}
