package enums

// DeliveryStatus is delivery_status_enum.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

var deliveryStatuses = valueSet[DeliveryStatus]{DeliveryStatusPending, DeliveryStatusDelivered, DeliveryStatusFailed}

func (s DeliveryStatus) IsValid() bool { return deliveryStatuses.contains(s) }

func ParseDeliveryStatus(raw string) (DeliveryStatus, error) {
	return deliveryStatuses.parse("delivery status", raw)
}
