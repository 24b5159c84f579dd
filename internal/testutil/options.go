package testutil

// SaleOption customizes a sale row.
type SaleOption func(*saleData)

type saleData struct {
	region  *string
	product string
	amount  *float64
	qty     int
	note    *string
}

func defaultSale(product string) saleData {
	return saleData{product: product, qty: 1}
}

// Region sets the region column.
func Region(r string) SaleOption {
	return func(s *saleData) { s.region = &r }
}

// Amount sets the amount column. Leaving it unset stores NULL.
func Amount(a float64) SaleOption {
	return func(s *saleData) { s.amount = &a }
}

// Qty sets the qty column.
func Qty(q int) SaleOption {
	return func(s *saleData) { s.qty = q }
}

// Note sets the note column.
func Note(n string) SaleOption {
	return func(s *saleData) { s.note = &n }
}
