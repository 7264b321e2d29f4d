package outcome

import "context"

type itemKey struct{}

// WithItem returns a copy of ctx carrying item. Spans opened from the returned
// context still belong to the item's test.
func WithItem(ctx context.Context, item *Item) context.Context {
	return context.WithValue(ctx, itemKey{}, item)
}

// ItemFrom returns the item of the test ctx was derived from, or nil
func ItemFrom(ctx context.Context) *Item {
	item, _ := ctx.Value(itemKey{}).(*Item)
	return item
}
