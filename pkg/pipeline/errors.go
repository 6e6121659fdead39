package pipeline

import (
	"errors"

	"github.com/mikob/web-voice-processor/pkg/processor"
)

var (
	// ErrInvalidConfiguration is wrapped by construction-time failures:
	// non-positive rates, zero frame length, missing device. No pipeline
	// resources are allocated when New fails.
	ErrInvalidConfiguration = errors.New("invalid pipeline configuration")

	// ErrRecordingInProgress rejects a dump request while another dump is
	// still outstanding. The first request is unaffected.
	ErrRecordingInProgress = processor.ErrRecordingInProgress

	// ErrPipelineReleased rejects operations on a released pipeline, and
	// resolves a dump that was still outstanding at release time.
	ErrPipelineReleased = errors.New("pipeline has been released")
)
