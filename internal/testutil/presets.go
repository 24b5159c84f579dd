package testutil

// WithStandardSales adds six sales across two regions. One sale has no region
// and one has no amount.
func (b *Builder) WithStandardSales() *Builder {
	return b.
		WithSale("widget", Region("north"), Amount(10), Qty(2)).
		WithSale("gadget", Region("north"), Amount(5.5)).
		WithSale("widget", Region("south"), Amount(7), Qty(3), Note("promo")).
		WithSale("gizmo", Region("south"), Qty(4)).
		WithSale("widget", Amount(1)).
		WithSale("gadget", Region("south"), Amount(2.5))
}
