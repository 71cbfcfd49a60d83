// Package localstore keeps orders, collectors, citizens and notifications in a single
// JSON file. It stands in for the database when the database cannot be opened,
// and offers no change subscriptions.
package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"sarathi/models"
)

type document struct {
	Orders        map[string]*models.Order     `json:"orders"`
	Collectors    map[string]*models.Collector `json:"collectors"`
	Citizens      map[string]*models.Citizen   `json:"citizens"`
	Notifications []*models.Notification       `json:"notifications"`
	NextNoticeID  int64                        `json:"next_notice_id"`
}

// Store is the file-backed key-value store. Every write rewrites the file.
type Store struct {
	path string
	mu   sync.Mutex
	doc  document
}

// Open loads path, or starts empty when the file does not exist yet.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("local store path is required")
	}
	s := &Store{path: path, doc: emptyDocument()}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read local store: %w", err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.doc); err != nil {
		return nil, fmt.Errorf("decode local store: %w", err)
	}
	s.doc.fill()
	return s, nil
}

func emptyDocument() document {
	d := document{}
	d.fill()
	return d
}

func (d *document) fill() {
	if d.Orders == nil {
		d.Orders = map[string]*models.Order{}
	}
	if d.Collectors == nil {
		d.Collectors = map[string]*models.Collector{}
	}
	if d.Citizens == nil {
		d.Citizens = map[string]*models.Citizen{}
	}
}

func (d document) clone() document {
	out := document{
		Orders:        make(map[string]*models.Order, len(d.Orders)),
		Collectors:    make(map[string]*models.Collector, len(d.Collectors)),
		Citizens:      make(map[string]*models.Citizen, len(d.Citizens)),
		Notifications: make([]*models.Notification, len(d.Notifications)),
		NextNoticeID:  d.NextNoticeID,
	}
	for id, o := range d.Orders {
		out.Orders[id] = cloneOrder(o)
	}
	for id, c := range d.Collectors {
		out.Collectors[id] = cloneCollector(c)
	}
	for id, c := range d.Citizens {
		v := *c
		out.Citizens[id] = &v
	}
	for i, n := range d.Notifications {
		v := *n
		out.Notifications[i] = &v
	}
	return out
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// update runs fn on a copy of the document under the lock. The copy replaces the
// in-memory document only once it has been written to disk.
func (s *Store) update(fn func(d *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.doc.clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := flush(s.path, next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func (s *Store) view(fn func(d *document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.doc)
}

// flush writes to a temp file in the same directory and renames it over path.
func flush(path string, doc document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".sarathi-local-*")
	if err != nil {
		return fmt.Errorf("write local store: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write local store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write local store: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write local store: %w", err)
	}
	return nil
}

func cloneOrder(o *models.Order) *models.Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.Collector != nil {
		ref := *o.Collector
		c.Collector = &ref
	}
	c.AcceptedAt = cloneTime(o.AcceptedAt)
	c.ArrivedAt = cloneTime(o.ArrivedAt)
	c.VerifiedAt = cloneTime(o.VerifiedAt)
	c.CompletedAt = cloneTime(o.CompletedAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	return &c
}

func cloneCollector(c *models.Collector) *models.Collector {
	if c == nil {
		return nil
	}
	out := *c
	if c.CurrentLat != nil {
		v := *c.CurrentLat
		out.CurrentLat = &v
	}
	if c.CurrentLng != nil {
		v := *c.CurrentLng
		out.CurrentLng = &v
	}
	out.LocationAt = cloneTime(c.LocationAt)
	return &out
}
