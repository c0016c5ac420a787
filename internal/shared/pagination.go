package shared

import "math"

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// MaxPerPage caps listing page sizes.
const MaxPerPage = 500

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	page, perPage = normalisePage(page, perPage)
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// PageWindow returns LIMIT and OFFSET for a page request.
func PageWindow(page, perPage int) (limit, offset int) {
	page, perPage = normalisePage(page, perPage)
	return perPage, (page - 1) * perPage
}

func normalisePage(page, perPage int) (int, int) {
	if perPage <= 0 {
		perPage = 50
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	if page <= 0 {
		page = 1
	}
	return page, perPage
}
