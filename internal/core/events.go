package core

import "context"

// Lifecycle events delivered to webhook subscribers.
const (
	EventProductCreated  = "product.created"
	EventProductUpdated  = "product.updated"
	EventProductDeleted  = "product.deleted"
	EventImportStarted   = "import.started"
	EventImportCompleted = "import.completed"
	EventImportFailed    = "import.failed"
)

// EventType describes one catalogue entry for API clients.
type EventType struct {
	Value       string `json:"value"`
	Description string `json:"description"`
}

var eventTypes = []EventType{
	{EventProductCreated, "Triggered when a product is created"},
	{EventProductUpdated, "Triggered when a product is updated"},
	{EventProductDeleted, "Triggered when a product is deleted"},
	{EventImportStarted, "Triggered when a CSV import starts processing"},
	{EventImportCompleted, "Triggered when a CSV import completes"},
	{EventImportFailed, "Triggered when a CSV import fails"},
}

// EventTypes returns the event catalogue.
func EventTypes() []EventType {
	out := make([]EventType, len(eventTypes))
	copy(out, eventTypes)
	return out
}

// IsKnownEvent reports whether name is in the catalogue.
func IsKnownEvent(name string) bool {
	for _, e := range eventTypes {
		if e.Value == name {
			return true
		}
	}
	return false
}

// EventEmitter accepts lifecycle events. Emit never fails from the caller's
// point of view; delivery problems are logged by the implementation.
type EventEmitter interface {
	Emit(ctx context.Context, event string, payload any)
}

// NopEmitter discards events.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, string, any) {}

// ProductEventPayload is the data of product.* events.
func ProductEventPayload(p Product) map[string]any {
	return map[string]any{
		"id":       p.ID,
		"sku":      p.SKU,
		"name":     p.Name,
		"price":    p.Price,
		"quantity": p.Quantity,
	}
}
