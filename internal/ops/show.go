package ops

import (
	"context"

	"github.com/hpungsan/logtrains/internal/entry"
	"github.com/hpungsan/logtrains/internal/errors"
	"github.com/hpungsan/logtrains/internal/store"
)

// ShowInput contains parameters for the Show operation.
type ShowInput struct {
	ID     string
	Offset *int // default: 0 (most recent) when ID is empty
}

// ShowOutput contains the result of the Show operation.
type ShowOutput struct {
	EntrySummary
	Body string `json:"body"`
}

// Show retrieves one entry with its body, by ID or by offset.
func Show(ctx context.Context, st *store.Store, input ShowInput) (*ShowOutput, error) {
	addr, err := ValidateAddress(input.ID, input.Offset)
	if err != nil {
		return nil, err
	}

	var output *ShowOutput
	err = st.View(ctx, func(v *store.View) error {
		metas, err := v.ListOrdered(ctx)
		if err != nil {
			return err
		}

		offset, meta, err := locate(metas, addr)
		if err != nil {
			return err
		}

		body, err := v.LoadBody(ctx, meta)
		if err != nil {
			return err
		}
		output = &ShowOutput{EntrySummary: summarize(meta, offset), Body: body}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return output, nil
}

// locate resolves addr against metas (ascending) and returns the entry's
// offset from the newest.
func locate(metas []entry.Meta, addr *Address) (int, entry.Meta, error) {
	if len(metas) == 0 {
		return 0, entry.Meta{}, errors.NewEmpty()
	}
	if addr.ByID {
		for i := len(metas) - 1; i >= 0; i-- {
			if metas[i].ID == addr.ID {
				return len(metas) - 1 - i, metas[i], nil
			}
		}
		return 0, entry.Meta{}, errors.NewNotFound(addr.ID.String())
	}
	if addr.Offset >= len(metas) {
		return 0, entry.Meta{}, errors.NewOutOfRange(addr.Offset, len(metas))
	}
	return addr.Offset, metas[len(metas)-1-addr.Offset], nil
}
