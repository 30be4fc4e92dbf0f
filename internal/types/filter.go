package types

const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 1000
)

// QueryFilter is the shared pagination envelope for list endpoints.
type QueryFilter struct {
	Limit  int `form:"limit" json:"limit"`
	Offset int `form:"offset" json:"offset"`
}

// Normalize clamps the filter into sane bounds.
func (f *QueryFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}
