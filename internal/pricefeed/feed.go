package pricefeed

// Feed is the contract the engine consumes from a price source: a
// per-symbol subscription plus a pull snapshot of the last quote.
type Feed interface {
	Subscribe(symbol string) error
	Unsubscribe(symbol string)
	Snapshot(symbol string) (Tick, bool)
}
