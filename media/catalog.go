package media

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"watchroom-server/domain"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Rendition is one transcoded quality of a media item.
type Rendition = domain.Source

type Item struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Status     Status      `json:"status"`
	Progress   int         `json:"progress"`
	Renditions []Rendition `json:"renditions"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Catalog tracks media items through transcoding. Rooms can only be opened on
// items that reached StatusReady.
type Catalog struct {
	items map[string]*Item
	mu    sync.RWMutex
}

func NewCatalog() *Catalog {
	return &Catalog{items: make(map[string]*Item)}
}

func (c *Catalog) Register(id, title string, now time.Time) (Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[id]; ok {
		return Item{}, fmt.Errorf("media %q: %w", id, domain.ErrAlreadyExists)
	}
	it := &Item{ID: id, Title: title, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	c.items[id] = it
	return it.clone(), nil
}

// Progress records transcoding progress in percent, clamped to 0..99 until
// the item completes.
func (c *Catalog) Progress(id string, percent int, now time.Time) (Item, error) {
	return c.update(id, func(it *Item) error {
		if it.Status == StatusReady || it.Status == StatusFailed {
			return fmt.Errorf("media %q is %s: %w", id, it.Status, domain.ErrInvalidState)
		}
		it.Status = StatusProcessing
		it.Progress = min(max(percent, 0), 99)
		it.UpdatedAt = now
		return nil
	})
}

func (c *Catalog) Complete(id string, renditions []Rendition, now time.Time) (Item, error) {
	return c.update(id, func(it *Item) error {
		if it.Status == StatusFailed {
			return fmt.Errorf("media %q failed: %w", id, domain.ErrInvalidState)
		}
		if len(renditions) == 0 {
			return fmt.Errorf("media %q has no renditions: %w", id, domain.ErrInvalidState)
		}
		it.Status = StatusReady
		it.Progress = 100
		it.Renditions = append([]Rendition(nil), renditions...)
		it.Error = ""
		it.UpdatedAt = now
		return nil
	})
}

func (c *Catalog) Fail(id, reason string, now time.Time) (Item, error) {
	return c.update(id, func(it *Item) error {
		if it.Status == StatusReady {
			return fmt.Errorf("media %q is ready: %w", id, domain.ErrInvalidState)
		}
		it.Status = StatusFailed
		it.Error = reason
		it.UpdatedAt = now
		return nil
	})
}

func (c *Catalog) Get(id string) (Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[id]
	if !ok {
		return Item{}, fmt.Errorf("media %q: %w", id, domain.ErrNotFound)
	}
	return it.clone(), nil
}

// Playable returns the renditions of a ready item.
func (c *Catalog) Playable(id string) ([]Rendition, error) {
	it, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	if it.Status != StatusReady {
		return nil, fmt.Errorf("media %q is %s: %w", id, it.Status, domain.ErrInvalidState)
	}
	return it.Renditions, nil
}

func (c *Catalog) List() []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Item, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) update(id string, fn func(*Item) error) (Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[id]
	if !ok {
		return Item{}, fmt.Errorf("media %q: %w", id, domain.ErrNotFound)
	}
	if err := fn(it); err != nil {
		return Item{}, err
	}
	return it.clone(), nil
}

func (it *Item) clone() Item {
	cp := *it
	cp.Renditions = append([]Rendition(nil), it.Renditions...)
	return cp
}
