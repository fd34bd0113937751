// Package catalog serves the addressable content items the scheduler draws
// from. Items are loaded once from a YAML file and kept in memory.
package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/dailymix"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

// file is the on-disk layout:
//
//	items:
//	  - id: trauma-quiz-001
//	    domain: trauma
//	    band: B
//	    type: quiz
type file struct {
	Items []dailymix.ContentItem `yaml:"items"`
}

// Catalog is an immutable in-memory content catalogue.
type Catalog struct {
	byID     map[string]dailymix.ContentItem
	byDomain map[topic.Domain][]dailymix.ContentItem
}

var _ dailymix.Catalog = (*Catalog)(nil)

// New validates items and indexes them. File order is kept within a domain.
func New(items []dailymix.ContentItem) (*Catalog, error) {
	c := &Catalog{
		byID:     make(map[string]dailymix.ContentItem, len(items)),
		byDomain: make(map[topic.Domain][]dailymix.ContentItem),
	}
	for i, it := range items {
		it.ID = strings.TrimSpace(it.ID)
		switch {
		case it.ID == "":
			return nil, fmt.Errorf("catalog: item %d: id is required", i)
		case !it.Domain.IsValid():
			return nil, fmt.Errorf("catalog: item %s: unknown domain %q", it.ID, it.Domain)
		case !it.Band.IsValid():
			return nil, fmt.Errorf("catalog: item %s: invalid band", it.ID)
		case !it.ItemType.IsValid():
			return nil, fmt.Errorf("catalog: item %s: unknown type %q", it.ID, it.ItemType)
		}
		if _, dup := c.byID[it.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate item id %s", it.ID)
		}
		c.byID[it.ID] = it
		c.byDomain[it.Domain] = append(c.byDomain[it.Domain], it)
	}
	return c, nil
}

// Parse reads a catalogue from r.
func Parse(r io.Reader) (*Catalog, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("catalog: failed to decode: %w", err)
	}
	return New(f.Items)
}

// Load reads a catalogue file.
func Load(path string) (*Catalog, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open %s: %w", path, err)
	}
	defer fh.Close()
	return Parse(fh)
}

// ItemsByDomain returns the domain's items in catalogue order.
func (c *Catalog) ItemsByDomain(_ context.Context, d topic.Domain) ([]dailymix.ContentItem, error) {
	items := c.byDomain[d]
	out := make([]dailymix.ContentItem, len(items))
	copy(out, items)
	return out, nil
}

// Item returns one item.
func (c *Catalog) Item(_ context.Context, id string) (dailymix.ContentItem, error) {
	it, ok := c.byID[id]
	if !ok {
		return dailymix.ContentItem{}, shared.ErrContentNotFound
	}
	return it, nil
}

// Totals counts items per domain.
func (c *Catalog) Totals(_ context.Context) (map[topic.Domain]int, error) {
	out := make(map[topic.Domain]int, len(c.byDomain))
	for d, items := range c.byDomain {
		out[d] = len(items)
	}
	return out, nil
}

// Size is the number of items.
func (c *Catalog) Size() int {
	return len(c.byID)
}
