package shared

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageRequestNormalizeDefaults(t *testing.T) {
	req := PageRequest{}.Normalize()
	require.Equal(t, 1, req.Page)
	require.Equal(t, DefaultPerPage, req.PerPage)
	require.Zero(t, req.Offset())

	req = PageRequest{Page: 3, PerPage: 1000}.Normalize()
	require.Equal(t, MaxPerPage, req.PerPage)
	require.Equal(t, 2*MaxPerPage, req.Offset())
}

func TestPageRequestOffsetStaysBoundedForHugePage(t *testing.T) {
	for _, page := range []int{MaxPage + 1, math.MaxInt32, math.MaxInt} {
		req := PageRequest{Page: page, PerPage: MaxPerPage}
		offset := req.Offset()
		require.GreaterOrEqual(t, offset, 0, page)
		require.LessOrEqual(t, offset, math.MaxInt32, page)
		require.Equal(t, MaxPage, req.Normalize().Page)
	}
}

func TestNewPaginationCountsPages(t *testing.T) {
	p := NewPagination(2, 20, 41)
	require.Equal(t, 3, p.TotalPages)
	require.Equal(t, 2, p.Page)
	require.Equal(t, 41, p.Total)
}
