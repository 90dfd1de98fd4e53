package task

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/marcus/makemagic/internal/catalog"
)

// Document keys written by the engine. Everything else is caller data.
const (
	KeyState = "state"
)

// Item is the persisted document of one task item.
type Item struct {
	Name        string
	Description string
	Depends     []string
	State       State
	Data        map[string]any
}

// IsSentinel reports whether the item is the completion sentinel.
func (i Item) IsSentinel() bool {
	return i.Name == catalog.SentinelName
}

// Document returns the flat key/value form of the item.
func (i Item) Document() map[string]any {
	doc := make(map[string]any, len(i.Data)+4)
	for k, v := range i.Data {
		doc[k] = v
	}
	doc[catalog.KeyName] = i.Name
	if i.Description != "" {
		doc[catalog.KeyDescription] = i.Description
	}
	if len(i.Depends) > 0 {
		doc[catalog.KeyDepends] = i.Depends
	}
	doc[KeyState] = string(i.State)
	return doc
}

// MarshalJSON writes the flat document.
func (i Item) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.Document())
}

// UnmarshalJSON reads a flat document. Structural keys that do not belong on
// an item are discarded.
func (i *Item) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	*i = Item{}
	for key, val := range raw {
		var err error
		switch key {
		case catalog.KeyName:
			err = json.Unmarshal(val, &i.Name)
		case catalog.KeyDescription:
			err = json.Unmarshal(val, &i.Description)
		case catalog.KeyDepends:
			err = json.Unmarshal(val, &i.Depends)
		case KeyState:
			var s string
			if err = json.Unmarshal(val, &s); err == nil {
				i.State, err = ParseState(s)
			}
		default:
			if catalog.IsReservedKey(key) {
				continue
			}
			var v any
			d := json.NewDecoder(bytes.NewReader(val))
			d.UseNumber()
			err = d.Decode(&v)
			if i.Data == nil {
				i.Data = make(map[string]any)
			}
			i.Data[key] = v
		}
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
	}
	if i.Name == "" {
		return fmt.Errorf("item document without %q", catalog.KeyName)
	}
	if i.State == "" {
		i.State = Incomplete
	}
	return nil
}

// DecodeItem converts a generic document into an Item.
func DecodeItem(doc map[string]any) (Item, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return Item{}, err
	}
	var it Item
	if err := json.Unmarshal(b, &it); err != nil {
		return Item{}, err
	}
	return it, nil
}
