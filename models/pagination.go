package models

// PageSize is the fixed page size of the report list view.
const PageSize = 6

// PageWindow returns the inclusive [from, to] row range for a 1-indexed page.
func PageWindow(page int) (from, to int) {
	if page < 1 {
		page = 1
	}
	from = (page - 1) * PageSize
	to = from + PageSize - 1
	return from, to
}

// TotalPages returns the number of pages needed for totalCount rows.
func TotalPages(totalCount int) int {
	if totalCount <= 0 {
		return 0
	}
	return (totalCount + PageSize - 1) / PageSize
}
