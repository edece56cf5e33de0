package enums

import "fmt"

// ContentVisibility controls who may view a post or stream.
type ContentVisibility string

const (
	ContentVisibilityFree       ContentVisibility = "free"
	ContentVisibilitySubscriber ContentVisibility = "subscriber"
	ContentVisibilityPPV        ContentVisibility = "ppv"
)

var validContentVisibilities = []ContentVisibility{
	ContentVisibilityFree,
	ContentVisibilitySubscriber,
	ContentVisibilityPPV,
}

// IsValid reports whether the value is known.
func (v ContentVisibility) IsValid() bool {
	for _, candidate := range validContentVisibilities {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseContentVisibility converts raw input into a ContentVisibility.
func ParseContentVisibility(value string) (ContentVisibility, error) {
	for _, candidate := range validContentVisibilities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid content visibility %q", value)
}
