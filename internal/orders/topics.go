package orders

const (
	TopicOrderCreated   = "order.created"
	TopicOrderCompleted = "order.completed"
	TopicStockLow       = "stock.low"
)

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
