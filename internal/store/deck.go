/*
PURPOSE:
  CSV-backed item store. A "deck" is a CSV file whose header row names
  the fields (first column must be "id") and whose rows are items.

REQUIREMENTS:
  User-specified:
  - Read per-item field names/values; update one field in place.
  - Backup/checkpoint the deck before a batch run.

  Implementation-discovered:
  - Persist per update so a crash mid-batch keeps finished items.
  - Rewrite must be atomic (temp file + rename), never truncate-then-fail.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli, internal/batch (through its Store interface)
  - Uses: internal/model

ERROR HANDLING:
  - Returns explicit errors for malformed decks, unknown items,
    unknown fields.

IMPLEMENTATION RULES:
  - Use encoding/csv.
  - Preserve row and column order across rewrites.

USAGE:
  deck, err := store.Open("cards.csv")
  item, ok := deck.Get("42")
  err = deck.UpdateField("42", "Answer", text)

SELF-HEALING INSTRUCTIONS:
  - If a deck fails to open, check the header row starts with "id".

RELATED FILES:
  - internal/batch/processor.go

MAINTENANCE:
  - Update if multi-value cells or quoting rules change.
*/

package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"deckfill/internal/model"
)

// Deck is an in-memory view of a CSV deck file, persisted on update.
// Not safe for concurrent mutation; the batch worker is the only writer.
type Deck struct {
	path   string
	fields []string // field names, id column excluded
	order  []string // item IDs in file order
	items  map[string]map[string]string
}

// Open reads a deck file into memory.
func Open(path string) (*Deck, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("deck %s is empty", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read deck header: %w", err)
	}
	if len(header) < 2 || header[0] != "id" {
		return nil, fmt.Errorf("deck %s: header must start with an id column followed by at least one field", path)
	}

	d := &Deck{
		path:   path,
		fields: header[1:],
		items:  make(map[string]map[string]string),
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read deck row: %w", err)
		}
		id := row[0]
		if id == "" {
			return nil, fmt.Errorf("deck %s: row with empty id", path)
		}
		if _, dup := d.items[id]; dup {
			return nil, fmt.Errorf("deck %s: duplicate item id %q", path, id)
		}
		values := make(map[string]string, len(d.fields))
		for i, name := range d.fields {
			values[name] = row[i+1]
		}
		d.items[id] = values
		d.order = append(d.order, id)
	}

	return d, nil
}

// IDs returns all item identifiers in file order.
func (d *Deck) IDs() []string {
	ids := make([]string, len(d.order))
	copy(ids, d.order)
	return ids
}

// Fields returns the deck's field names (id column excluded).
func (d *Deck) Fields() []string {
	fields := make([]string, len(d.fields))
	copy(fields, d.fields)
	return fields
}

// Get returns a copy of one item.
func (d *Deck) Get(id string) (model.Item, bool) {
	values, ok := d.items[id]
	if !ok {
		return model.Item{}, false
	}
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return model.Item{ID: id, Fields: d.Fields(), Values: copied}, true
}

// UpdateField writes one field of one item and persists the deck.
func (d *Deck) UpdateField(id, field, value string) error {
	values, ok := d.items[id]
	if !ok {
		return fmt.Errorf("item %q not found", id)
	}
	if _, ok := values[field]; !ok {
		return fmt.Errorf("field %q not found on item %q", field, id)
	}
	values[field] = value
	return d.Flush()
}

// Flush rewrites the deck file atomically.
func (d *Deck) Flush() error {
	tmp, err := os.CreateTemp(filepath.Dir(d.path), ".deck-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(append([]string{"id"}, d.fields...)); err != nil {
		tmp.Close()
		return err
	}
	for _, id := range d.order {
		row := make([]string, 0, len(d.fields)+1)
		row = append(row, id)
		for _, name := range d.fields {
			row = append(row, d.items[id][name])
		}
		if err := w.Write(row); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), d.path)
}

// Backup copies the deck file to a timestamped sibling and returns its
// path. This is the undo point taken before a batch run. Existing
// checkpoints are never overwritten; a same-second collision gets a
// numeric suffix.
func (d *Deck) Backup() (string, error) {
	src, err := os.Open(d.path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	base := fmt.Sprintf("%s.bak-%s", d.path, time.Now().Format("20060102-150405"))
	backupPath := base
	var dst *os.File
	for n := 1; ; n++ {
		dst, err = os.OpenFile(backupPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return "", err
		}
		backupPath = fmt.Sprintf("%s.%d", base, n)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(backupPath)
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return backupPath, nil
}
