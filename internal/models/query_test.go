package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeSnapsPerPage(t *testing.T) {
	cases := map[int]int{
		-3:  DefaultPerPage,
		0:   DefaultPerPage,
		1:   5,
		7:   5,
		8:   10,
		10:  10,
		17:  10,
		20:  25,
		37:  25,
		38:  50,
		75:  50,
		76:  100,
		500: 100,
	}
	for in, want := range cases {
		got := ListQuery{PerPage: in}.Normalize().PerPage
		require.Equal(t, want, got, "per_page=%d", in)
		require.Contains(t, PerPageOptions, got)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	q := ListQuery{Page: -1, Search: "  ana ", Status: " Active ", ApprovalStatus: []string{"pending,Returned", "PENDING", ""}}.Normalize()
	require.True(t, q.Pagination)
	require.Equal(t, 1, q.Page)
	require.Equal(t, DefaultPerPage, q.PerPage)
	require.Equal(t, "ana", q.Search)
	require.Equal(t, "active", q.Status)
	require.Equal(t, []string{"PENDING", "RETURNED"}, q.ApprovalStatus)
}

func TestWithSearchAndPerPageResetPage(t *testing.T) {
	q := DefaultListQuery().WithPage(4)
	require.Equal(t, 4, q.Page)
	require.Equal(t, 1, q.WithSearch("juan").Page)
	require.Equal(t, 1, q.WithPerPage(50).Page)
	require.Equal(t, 50, q.WithPerPage(50).PerPage)
}
