package models

// Pagination describes the page returned by list endpoints.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// NewPagination applies the listing defaults (page 1, 20 rows, at most 100).
func NewPagination(page, size, total int) *Pagination {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return &Pagination{Page: page, PageSize: size, TotalCount: total}
}
