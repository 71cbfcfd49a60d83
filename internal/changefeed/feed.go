// Package changefeed delivers document changes to subscribers of a single
// document. Deliveries for one document arrive in publish order.
package changefeed

import (
	"context"
	"encoding/json"
	"time"
)

// Collection names a family of documents.
type Collection string

const (
	CollectionOrders     Collection = "orders"
	CollectionCollectors Collection = "collectors"
)

// Change is the full state of one document after a write.
type Change struct {
	Collection Collection      `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
	At         time.Time       `json:"at"`
}

// Decode unmarshals the document carried by c into v.
func (c Change) Decode(v any) error {
	return json.Unmarshal(c.Data, v)
}

// NewChange snapshots doc as a change of collection/id.
func NewChange(collection Collection, id string, doc any) (Change, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return Change{}, err
	}
	return Change{Collection: collection, ID: id, Data: data, At: time.Now().UTC()}, nil
}

// Handler receives changes for a subscribed document.
type Handler func(Change)

// Feed publishes and subscribes to document changes.
// The returned unsubscribe func releases the listener immediately and is safe to call repeatedly.
type Feed interface {
	Publish(ctx context.Context, c Change) error
	Subscribe(ctx context.Context, collection Collection, id string, h Handler) (func(), error)
}

func topic(collection Collection, id string) string {
	return string(collection) + ":" + id
}
