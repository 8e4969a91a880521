package ops

import (
	"context"

	"github.com/hpungsan/logtrains/internal/store"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Limit  int // default: 20, max: 100
	Offset int // default: 0
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []EntrySummary `json:"items"`
	Pagination Pagination     `json:"pagination"`
	Sort       string         `json:"sort"`
}

// List retrieves entry summaries, newest first, with pagination.
func List(ctx context.Context, st *store.Store, input ListInput) (*ListOutput, error) {
	// Apply limit defaults and bounds
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	// Ensure offset is non-negative
	offset := max(input.Offset, 0)

	metas, err := st.ListOrdered(ctx)
	if err != nil {
		return nil, err
	}
	total := len(metas)

	// Ensure we return an empty array rather than nil
	items := []EntrySummary{}
	for i := offset; i < total && len(items) < limit; i++ {
		items = append(items, summarize(metas[total-1-i], i))
	}

	return &ListOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "captured_desc",
	}, nil
}
