package feed

// Page is one slice of an ordered list.
type Page[T any] struct {
	Items []T
	// Offset is the index of Items[0] in the full list.
	Offset        int
	TotalEstimate int
	TotalPages    int
}

// Paginate returns the 1-based page of list. Pages past the end are empty.
// Concatenating pages 1..TotalPages yields list exactly.
func Paginate[T any](list []T, page, pageSize int) Page[T] {
	total := len(list)
	out := Page[T]{TotalEstimate: total}
	if pageSize < 1 {
		return out
	}
	out.TotalPages = (total + pageSize - 1) / pageSize
	if page < 1 {
		return out
	}
	if page > out.TotalPages {
		out.Offset = total
		return out
	}
	start := (page - 1) * pageSize
	end := start + pageSize
	if end > total {
		end = total
	}
	out.Offset = start
	out.Items = list[start:end]
	return out
}
