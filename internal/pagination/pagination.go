// Package pagination normalizes page/limit parameters for list replies.
// Relay requests carry the values as plain integers, so normalization works
// on ints rather than URL query strings.
package pagination

// Params represents normalized pagination parameters.
type Params struct {
	Page   int32 // Current page number (1-based)
	Limit  int32 // Number of items per page
	Offset int32 // Calculated offset for database queries
}

const (
	// MaxLimit is the maximum number of items allowed per page
	MaxLimit int32 = 100
	// DefaultPage is the default page number when not specified
	DefaultPage int32 = 1
	// DefaultLimit is the default number of items per page when not specified
	DefaultLimit int32 = 10
)

// Normalize clamps page and limit to valid ranges and computes the offset.
// Zero or negative inputs fall back to the defaults.
func Normalize(page, limit int32) Params {
	if page <= 0 {
		page = DefaultPage
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Params{
		Page:   page,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
}

// HasNext determines if there are more items available after the current page.
func HasNext(offset, limit, count int32) bool {
	return (offset + limit) < count
}
