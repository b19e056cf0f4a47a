package beodesk

import (
	"errors"

	"github.com/eringen/beodesk/artifact"
	"github.com/eringen/beodesk/raster"
)

var (
	// ErrInvalidInput rejects malformed uploads, dates and arguments before
	// anything is persisted.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned for unknown documents and page references.
	ErrNotFound = errors.New("not found")

	// ErrArtifactMissing means a registry row references a file that is no
	// longer in the artifact store. Recovery requires a re-upload.
	ErrArtifactMissing = artifact.ErrMissing

	// ErrMalformedDocument means the rasterizer could not parse the PDF.
	ErrMalformedDocument = raster.ErrMalformed

	// ErrInvalidTransition rejects a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)
