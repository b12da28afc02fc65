package terrain

import "errors"

var (
	// ErrFrameMismatch is returned when a batch is expressed in a frame other than the map's.
	ErrFrameMismatch = errors.New("batch frame does not match map frame")

	// ErrEmptyBatch is returned for a batch without points.
	ErrEmptyBatch = errors.New("batch contains no points")

	// ErrInvalidGeometry is returned when map geometry cannot produce a raster.
	ErrInvalidGeometry = errors.New("invalid map geometry")

	// ErrInvalidValue is returned for a NaN or infinite external input.
	ErrInvalidValue = errors.New("value must be finite")

	ErrUnknownLayer = errors.New("unknown layer")
	ErrLayerShape   = errors.New("layer shape does not match grid")
)
