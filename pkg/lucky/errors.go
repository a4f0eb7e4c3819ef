package lucky

import "errors"

var (
	ErrNoReference      = errors.New("lucky: no reference frame")
	ErrNoFrames         = errors.New("lucky: no frames were stacked")
	ErrFrameSkipped     = errors.New("lucky: frame skipped")
	ErrFrameUnavailable = errors.New("lucky: frame unavailable")
	ErrBadConfig        = errors.New("lucky: bad config")
)
