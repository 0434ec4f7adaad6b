package domain

import (
	"fmt"
	"strings"
)

// TaskType enumerates the generation/transform jobs the upstream service accepts.
type TaskType string

const (
	TaskTextToImage   TaskType = "text_to_image_v2"
	TaskSketchToImage TaskType = "sketch_to_image"
	TaskUpscale       TaskType = "image_upscale"
)

// Resolution is a width*height pair expressed the way the upstream API wants it.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%d*%d", r.Width, r.Height)
}

// ParseResolution parses the "W*H" wire form.
func ParseResolution(s string) (Resolution, error) {
	var r Resolution
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d*%d", &r.Width, &r.Height); err != nil {
		return Resolution{}, fmt.Errorf("parse resolution %q: %w", s, err)
	}
	return r, nil
}

var (
	ResolutionSquare    = Resolution{Width: 1024, Height: 1024}
	ResolutionWide      = Resolution{Width: 1280, Height: 720}
	ResolutionTall      = Resolution{Width: 720, Height: 1280}
	ResolutionLandscape = Resolution{Width: 1152, Height: 864}
	ResolutionPortrait  = Resolution{Width: 864, Height: 1152}
	ResolutionUpscale   = Resolution{Width: 2048, Height: 2048}
)

// Style selects a sketch rendering style on the upstream side.
type Style string

const (
	StyleFlat       Style = "<flat illustration>"
	StyleOilPaint   Style = "<oil painting>"
	StyleAnime      Style = "<anime>"
	StyleWatercolor Style = "<watercolor>"
	Style3DCartoon  Style = "<3d cartoon>"
)

// DisplayName returns the human label sent alongside the style tag.
func (s Style) DisplayName() string {
	switch s {
	case StyleFlat:
		return "flat illustration"
	case StyleOilPaint:
		return "oil painting"
	case StyleAnime:
		return "anime"
	case StyleWatercolor:
		return "watercolor"
	case Style3DCartoon:
		return "3d cartoon"
	default:
		return ""
	}
}

// TaskSpec captures one generation request. Immutable once submitted; the job
// has no storage of its own and is tracked only through polling.
type TaskSpec struct {
	Type       TaskType
	Prompt     string
	Resolution Resolution
	BaseImage  string // URL of the uploaded source image, when the task needs one
	Style      Style  // sketch tasks only
}

// TaskState is the coarse lifecycle reported by the poll endpoint.
type TaskState int

const (
	TaskStateRunning  TaskState = 1
	TaskStateComplete TaskState = 2
	TaskStateFailed   TaskState = 3
)

// TaskStatus is one poll observation. Progress runs 0-100; Items is populated
// only on completion.
type TaskStatus struct {
	Progress int
	State    TaskState
	Items    []ResultItem
}

// Terminal reports whether the observation ends the polling loop.
func (s TaskStatus) Terminal() bool {
	return s.Progress >= 100 || s.State == TaskStateComplete || s.State == TaskStateFailed
}

// ResultItem is one generated artifact reference extracted from a finished task.
type ResultItem struct {
	DownloadURL string
}

// CleanURL strips the signed query string, yielding the stable object URL
// used for high-quality extraction. The raw URL stays valid for standard flows.
func (r ResultItem) CleanURL() string {
	url, _, _ := strings.Cut(r.DownloadURL, "?")
	return url
}
