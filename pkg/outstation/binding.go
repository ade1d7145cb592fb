package outstation

import (
	"context"

	"avaneesh/dnp3-bridge/pkg/point"
	"avaneesh/dnp3-bridge/pkg/tree"
)

// binding connects one point node to its controller: observers feed the
// subscriber set and external writes on outputs become direct operates
type binding struct {
	c        *Controller
	category point.Category
	index    uint32
}

func (b *binding) OnSubscribe(_ *tree.Node, h tree.Handle) {
	b.c.subscribe(h)
}

func (b *binding) OnUnsubscribe(_ *tree.Node, h tree.Handle) {
	b.c.unsubscribe(h)
}

// OnValue runs on the writer's goroutine, so the operate is issued
// asynchronously
func (b *binding) OnValue(_ *tree.Node, pair tree.ValuePair) {
	if !b.category.Writable() || !pair.External || pair.Current.Equal(pair.Previous) {
		return
	}
	b.c.async(func(ctx context.Context) {
		b.c.HandleWrite(ctx, b.category, b.index, pair)
	})
}
