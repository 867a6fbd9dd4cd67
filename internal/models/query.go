package models

import (
	"strings"
)

// Page size options offered by the tables.
var PerPageOptions = []int{5, 10, 25, 50, 100}

const DefaultPerPage = 10

// ListQuery is the pagination/filter state of one table. Field tags drive the
// upstream query string encoding.
type ListQuery struct {
	Pagination     bool     `form:"pagination" json:"pagination"`
	Page           int      `form:"page,omitempty" json:"page"`
	PerPage        int      `form:"per_page,omitempty" json:"per_page"`
	Status         string   `form:"status,omitempty" json:"status,omitempty"`
	ApprovalStatus []string `form:"-" json:"approval_status,omitempty"`
	Search         string   `form:"search,omitempty" json:"search,omitempty"`
	DateFrom       string   `form:"date_from,omitempty" json:"date_from,omitempty"`
	DateTo         string   `form:"date_to,omitempty" json:"date_to,omitempty"`
	Tab            string   `form:"tab,omitempty" json:"tab,omitempty"`
}

// DefaultListQuery is what a freshly mounted table asks for.
func DefaultListQuery() ListQuery {
	return ListQuery{Pagination: true, Page: 1, PerPage: DefaultPerPage}
}

// Normalize clamps paging, snaps the page size to an offered option and
// trims the search term.
func (q ListQuery) Normalize() ListQuery {
	q.Pagination = true
	if q.Page < 1 {
		q.Page = 1
	}
	q.PerPage = SnapPerPage(q.PerPage)
	q.Search = strings.TrimSpace(q.Search)
	q.Status = strings.ToLower(strings.TrimSpace(q.Status))
	statuses := make([]string, 0, len(q.ApprovalStatus))
	seen := make(map[string]struct{}, len(q.ApprovalStatus))
	for _, raw := range q.ApprovalStatus {
		for _, part := range strings.Split(raw, ",") {
			s := string(NormalizeStatus(part))
			if s == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			statuses = append(statuses, s)
		}
	}
	q.ApprovalStatus = statuses
	q.DateFrom = strings.TrimSpace(q.DateFrom)
	q.DateTo = strings.TrimSpace(q.DateTo)
	return q
}

// SnapPerPage maps n onto the nearest entry of PerPageOptions, preferring the
// smaller one on a tie. Non-positive sizes get DefaultPerPage.
func SnapPerPage(n int) int {
	if n <= 0 {
		return DefaultPerPage
	}
	best := PerPageOptions[0]
	for _, opt := range PerPageOptions[1:] {
		if abs(opt-n) < abs(best-n) {
			best = opt
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// WithPage moves to page p.
func (q ListQuery) WithPage(p int) ListQuery {
	q.Page = p
	return q.Normalize()
}

// WithPerPage changes the page size and goes back to the first page.
func (q ListQuery) WithPerPage(n int) ListQuery {
	q.PerPage = n
	q.Page = 1
	return q.Normalize()
}

// WithSearch changes the search term and goes back to the first page.
func (q ListQuery) WithSearch(term string) ListQuery {
	q.Search = term
	q.Page = 1
	return q.Normalize()
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

// NewPagination derives page count from the total.
func NewPagination(q ListQuery, total int) *Pagination {
	pages := 0
	if q.PerPage > 0 {
		pages = (total + q.PerPage - 1) / q.PerPage
	}
	return &Pagination{Page: q.Page, PageSize: q.PerPage, TotalCount: total, TotalPages: pages}
}

// Page is a decoded upstream list page.
type Page[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}
