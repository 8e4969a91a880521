package ops

import (
	"context"
	"fmt"

	"github.com/hpungsan/logtrains/internal/store"
)

// ReindexOutput contains the result of the Reindex operation.
type ReindexOutput struct {
	Indexed int    `json:"indexed"`
	Message string `json:"message"`
}

// Reindex rebuilds the metadata index from the entry files.
func Reindex(ctx context.Context, st *store.Store) (*ReindexOutput, error) {
	n, err := st.Rebuild(ctx)
	if err != nil {
		return nil, err
	}
	return &ReindexOutput{
		Indexed: n,
		Message: fmt.Sprintf("Indexed %d entries", n),
	}, nil
}
