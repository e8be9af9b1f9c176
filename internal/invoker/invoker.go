// Package invoker hands work from one pipeline stage to the next.
//
// Delivery is at-least-once: a handler may see the same message more than
// once and must be idempotent.
package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"statement-import-service/internal/models"
)

// FunctionProcessImport is the function ref of the commit stage
const FunctionProcessImport = "process-import"

// ProcessImportRequest is the payload handed from confirm to commit
type ProcessImportRequest struct {
	AccountID         string                           `json:"accountId"`
	UploadID          string                           `json:"uploadId"`
	DuplicateHandling models.DuplicateHandlingStrategy `json:"duplicateHandling"`
}

// Invoker starts a function asynchronously without waiting for its result
type Invoker interface {
	InvokeFireAndForget(ctx context.Context, function string, payload interface{}) error
}

// Message is one delivery of an invocation
type Message struct {
	ID         string
	Function   string
	Payload    json.RawMessage
	Attempt    int
	EnqueuedAt time.Time
}

// Decode unmarshals the payload into v
func (m *Message) Decode(v interface{}) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Function, err)
	}
	return nil
}

// Handler processes a message. A returned error requests redelivery.
type Handler func(ctx context.Context, msg *Message) error

// Router dispatches messages by function ref
type Router map[string]Handler

// Handle implements Handler
func (r Router) Handle(ctx context.Context, msg *Message) error {
	h, ok := r[msg.Function]
	if !ok {
		return fmt.Errorf("no handler registered for function %q", msg.Function)
	}
	return h(ctx, msg)
}
