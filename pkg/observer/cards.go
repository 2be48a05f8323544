package observer

import (
	"context"
	"fmt"

	"github.com/mnemom/aip/pkg/alignmentcard"
	"github.com/mnemom/aip/pkg/integrity"
)

// StoreCardResolver adapts an alignmentcard.Store into the CardResolver
// contract Observer needs, resolving the same merged org+agent card
// the gateway's own request path resolves so post-hoc reconciliation
// judges a reasoning block against identical conscience values.
type StoreCardResolver struct {
	Cards alignmentcard.Store
}

func (r StoreCardResolver) Resolve(ctx context.Context, agentID string) (string, []string, *integrity.OrgConscienceConfig, error) {
	card, err := alignmentcard.Resolve(ctx, r.Cards, agentID)
	if err != nil {
		return "", nil, nil, fmt.Errorf("observer: resolve alignment card: %w", err)
	}
	names := make([]string, 0, len(card.DeclaredValues))
	for _, v := range card.DeclaredValues {
		names = append(names, v.Name)
	}
	summary := card.Description
	if summary == "" {
		summary = card.Role
	}
	return summary, names, nil, nil
}
