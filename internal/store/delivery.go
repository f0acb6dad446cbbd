package store

// WebhookDelivery is one queued outbound webhook call.
type WebhookDelivery struct {
	ID             string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
}
