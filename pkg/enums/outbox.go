package enums

// OutboxEventType is event_type_enum.
type OutboxEventType string

const (
	EventPurchaseCompleted      OutboxEventType = "purchase_completed"
	EventPurchaseDelivered      OutboxEventType = "purchase_delivered"
	EventPurchaseDeliveryFailed OutboxEventType = "purchase_delivery_failed"
)

// OutboxAggregateType is aggregate_type_enum.
type OutboxAggregateType string

const (
	AggregatePurchase    OutboxAggregateType = "purchase"
	AggregateLedgerEvent OutboxAggregateType = "ledger_event"
)

// OutboxDLQErrorReason is outbox_dlq_error_reason_enum.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonUnknownEvent OutboxDLQErrorReason = "unknown_event"
)

var (
	outboxEventTypes     = valueSet[OutboxEventType]{EventPurchaseCompleted, EventPurchaseDelivered, EventPurchaseDeliveryFailed}
	outboxAggregateTypes = valueSet[OutboxAggregateType]{AggregatePurchase, AggregateLedgerEvent}
	outboxDLQReasons     = valueSet[OutboxDLQErrorReason]{OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable, OutboxDLQReasonUnknownEvent}
)

func (e OutboxEventType) IsValid() bool { return outboxEventTypes.contains(e) }

func (a OutboxAggregateType) IsValid() bool { return outboxAggregateTypes.contains(a) }

func (r OutboxDLQErrorReason) IsValid() bool { return outboxDLQReasons.contains(r) }
