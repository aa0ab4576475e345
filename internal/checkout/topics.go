package checkout

const (
	TopicOrderCreated   = "order.created"
	TopicOrderPaid      = "order.paid"
	TopicOrderCancelled = "order.cancelled"
	TopicOrderExpired   = "order.expired"
)

// Partition key = order_id, so all events for one order keep their order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
