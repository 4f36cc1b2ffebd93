package model

// All lists every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{&Tenant{}, &Wallet{}, &LedgerEntry{}, &OutboxEvent{}}
}
