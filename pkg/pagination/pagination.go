package pagination

const (
	// DefaultLimit is the standard page size when a limit is not provided.
	DefaultLimit = 25
	// MaxLimit caps how many rows any list query can request.
	MaxLimit = 100
)

// Params holds offset pagination inputs from controllers or services.
type Params struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Normalize applies the default and maximum limit and clamps negative offsets.
func (p Params) Normalize() Params {
	return Params{Limit: NormalizeLimit(p.Limit), Offset: NormalizeOffset(p.Offset)}
}

// NormalizeLimit enforces the configured default and maximum limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// NormalizeOffset clamps offsets below zero.
func NormalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

// Page is a list response with the paging inputs echoed back.
type Page[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	// NextOffset is nil when the page was not full.
	NextOffset *int `json:"next_offset,omitempty"`
}

// NewPage builds a Page, setting NextOffset when items filled the limit.
func NewPage[T any](items []T, params Params) Page[T] {
	if items == nil {
		items = []T{}
	}
	page := Page[T]{Items: items, Limit: params.Limit, Offset: params.Offset}
	if params.Limit > 0 && len(items) == params.Limit {
		next := params.Offset + params.Limit
		page.NextOffset = &next
	}
	return page
}
