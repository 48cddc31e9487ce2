package enums

// LedgerEventType is ledger_event_type_enum. Only purchase debits are written
// by this service; deposits and adjustments come from the billing side.
type LedgerEventType string

const (
	LedgerEventTypePurchaseDebit LedgerEventType = "purchase_debit"
	LedgerEventTypeDeposit       LedgerEventType = "deposit"
	LedgerEventTypeAdjustment    LedgerEventType = "adjustment"
)

var ledgerEventTypes = valueSet[LedgerEventType]{LedgerEventTypePurchaseDebit, LedgerEventTypeDeposit, LedgerEventTypeAdjustment}

func (t LedgerEventType) IsValid() bool { return ledgerEventTypes.contains(t) }
