package watermark

import "errors"

var (
	// ErrRendererUnavailable indicates no preview renderer is configured.
	ErrRendererUnavailable = errors.New("preview renderer unavailable")
)
