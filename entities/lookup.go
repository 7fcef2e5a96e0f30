package entities

import (
	"context"
	"fmt"

	"github.com/makar21/core-sub000/pkg/entity"
	pkgerrors "github.com/makar21/core-sub000/pkg/errors"
	"github.com/makar21/core-sub000/pkg/ledger"
)

// LookupNodeInfo finds the identity record the holder of publicKey
// published, trying the given record types in order.
func LookupNodeInfo(ctx context.Context, store *entity.Store, publicKey string, types ...string) (*NodeInfo, error) {
	for _, typ := range types {
		ids, err := store.Client().Query(ctx,
			map[string]any{"type": typ},
			ledger.QueryOptions{CreatedBy: publicKey},
		)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			continue
		}

		info := NewNodeInfo(typ)
		if err := store.Get(ctx, info, ids[0]); err != nil {
			return nil, err
		}

		return info, nil
	}

	return nil, fmt.Errorf("%w: no identity record for %s", pkgerrors.ErrNotFound, publicKey)
}
