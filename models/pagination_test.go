package models

import "testing"

func TestTotalPages(t *testing.T) {
	testCases := []struct {
		name       string
		totalCount int
		want       int
	}{
		{name: "empty list", totalCount: 0, want: 0},
		{name: "single partial page", totalCount: 5, want: 1},
		{name: "exactly one page", totalCount: 6, want: 1},
		{name: "two full pages plus one", totalCount: 13, want: 3},
		{name: "exact multiple", totalCount: 12, want: 2},
		{name: "negative count", totalCount: -1, want: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TotalPages(tc.totalCount); got != tc.want {
				t.Errorf("TotalPages(%d) = %d, want %d", tc.totalCount, got, tc.want)
			}
		})
	}
}

func TestPageWindow(t *testing.T) {
	testCases := []struct {
		name     string
		page     int
		wantFrom int
		wantTo   int
	}{
		{name: "first page", page: 1, wantFrom: 0, wantTo: 5},
		{name: "second page", page: 2, wantFrom: 6, wantTo: 11},
		{name: "third page", page: 3, wantFrom: 12, wantTo: 17},
		{name: "page below one clamps", page: 0, wantFrom: 0, wantTo: 5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			from, to := PageWindow(tc.page)
			if from != tc.wantFrom || to != tc.wantTo {
				t.Errorf("PageWindow(%d) = [%d, %d], want [%d, %d]",
					tc.page, from, to, tc.wantFrom, tc.wantTo)
			}
		})
	}
}
