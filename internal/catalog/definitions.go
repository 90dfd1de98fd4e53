package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/marcus/makemagic/internal/predicate"
)

// Structural document keys. They never appear in instance data.
const (
	KeyName        = "name"
	KeyGroup       = "group"
	KeyDepends     = "depends"
	KeyDescription = "description"
	KeyContains    = "contains"
	KeyIf          = "if"
)

var reservedKeys = map[string]bool{
	KeyName:        true,
	KeyGroup:       true,
	KeyDepends:     true,
	KeyDescription: true,
	KeyContains:    true,
	KeyIf:          true,
}

// IsReservedKey reports whether key is a structural document key.
func IsReservedKey(key string) bool {
	return reservedKeys[key]
}

// Definition is one entry of an item-definition document list. Exactly one of
// Name and Group is set. Keys outside the structural set are carried in Data.
type Definition struct {
	Name        string
	Group       string
	Contains    []string
	Depends     []string
	Description string
	If          string
	Data        map[string]any

	hasContains bool
}

// UnmarshalJSON decodes a definition, collecting unknown keys into Data.
func (d *Definition) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*d = Definition{}
	for key, val := range raw {
		var err error
		switch key {
		case KeyName:
			err = json.Unmarshal(val, &d.Name)
		case KeyGroup:
			err = json.Unmarshal(val, &d.Group)
		case KeyContains:
			d.hasContains = true
			err = json.Unmarshal(val, &d.Contains)
		case KeyDepends:
			err = json.Unmarshal(val, &d.Depends)
		case KeyDescription:
			err = json.Unmarshal(val, &d.Description)
		case KeyIf:
			err = json.Unmarshal(val, &d.If)
		default:
			var v any
			dec := json.NewDecoder(bytes.NewReader(val))
			dec.UseNumber()
			err = dec.Decode(&v)
			if d.Data == nil {
				d.Data = make(map[string]any)
			}
			d.Data[key] = v
		}
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
	}
	return nil
}

// MarshalJSON encodes the definition with Data flattened into the document.
func (d Definition) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(d.Data)+6)
	for k, v := range d.Data {
		doc[k] = v
	}
	if d.Group != "" {
		doc[KeyGroup] = d.Group
		doc[KeyContains] = d.Contains
	} else {
		doc[KeyName] = d.Name
	}
	if len(d.Depends) > 0 {
		doc[KeyDepends] = d.Depends
	}
	if d.Description != "" {
		doc[KeyDescription] = d.Description
	}
	if d.If != "" {
		doc[KeyIf] = d.If
	}
	return json.Marshal(doc)
}

// IsGroup reports whether the definition describes a group.
func (d Definition) IsGroup() bool {
	return d.Group != ""
}

// Normalize reduces name to the identifier charset [A-Za-z0-9_], prefixing an
// underscore when the result would start with a digit.
func Normalize(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

func normalizeAll(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = Normalize(n)
	}
	return out
}

// FromDefinitions converts definition documents into a validated Catalog.
// All problems across the set are reported together.
func FromDefinitions(defs []Definition) (*Catalog, error) {
	var probs problems
	templates := make([]*Template, 0, len(defs))

	for i, d := range defs {
		label := fmt.Sprintf("entry %d", i)
		switch {
		case d.Name == "" && d.Group == "":
			probs.addf("%s has neither name nor group", label)
			continue
		case d.Name != "" && d.Group != "":
			probs.addf("%s has both name %q and group %q", label, d.Name, d.Group)
			continue
		}

		raw := d.Name
		if d.IsGroup() {
			raw = d.Group
		}
		name := Normalize(raw)
		if name == "" {
			probs.addf("%s: %q has no identifier characters", label, raw)
			continue
		}

		opts := []Option{
			WithDescription(d.Description),
			WithDepends(normalizeAll(d.Depends)...),
			WithData(d.Data),
		}
		if strings.TrimSpace(d.If) != "" {
			pred, err := predicate.Compile(d.If)
			if err != nil {
				probs.addf("%q: %v", name, err)
				continue
			}
			opts = append(opts, WithPredicate(pred))
		}

		if d.IsGroup() {
			if !d.hasContains && d.Contains == nil {
				probs.addf("group %q has no contains key", name)
				continue
			}
			if len(d.Contains) == 0 {
				probs.addf("group %q contains list is empty", name)
				continue
			}
			templates = append(templates, NewGroup(name, normalizeAll(d.Contains), opts...))
			continue
		}
		if len(d.Contains) > 0 {
			probs.addf("item %q cannot have contains", name)
			continue
		}
		templates = append(templates, NewItem(name, opts...))
	}

	if err := probs.err(); err != nil {
		return nil, err
	}
	return New(templates...)
}

// Parse loads a Catalog from a JSON document list.
func Parse(data []byte) (*Catalog, error) {
	var defs []Definition
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&defs); err != nil {
		return nil, fmt.Errorf("%w: parsing json: %v", ErrDefinition, err)
	}
	return FromDefinitions(defs)
}

// Load reads and parses a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// Definitions writes the catalog back out as documents in definition order.
// It fails if any predicate cannot be expressed as a source string.
func (c *Catalog) Definitions() ([]Definition, error) {
	defs := make([]Definition, 0, len(c.order))
	for _, t := range c.Templates() {
		src, err := predicate.Marshal(t.pred)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", t.name, err)
		}
		d := Definition{
			Depends:     t.Depends(),
			Description: t.description,
			If:          src,
			Data:        t.Data(),
		}
		if t.IsGroup() {
			d.Group = t.name
			d.Contains = t.Contains()
		} else {
			d.Name = t.name
		}
		defs = append(defs, d)
	}
	return defs, nil
}

// MarshalJSON encodes the catalog as an indented document list.
func (c *Catalog) MarshalJSON() ([]byte, error) {
	defs, err := c.Definitions()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(defs, "", " ")
}

// Summary returns a one-line description of the catalog contents.
func (c *Catalog) Summary() string {
	predicates := make(map[string]bool)
	for _, t := range c.Templates() {
		if src, ok := t.Predicate().Source(); ok {
			predicates[strings.TrimSpace(src)] = true
		}
	}
	preds := make([]string, 0, len(predicates))
	for p := range predicates {
		preds = append(preds, p)
	}
	sort.Strings(preds)
	return fmt.Sprintf("%d items, %d groups, predicates [%s]",
		len(c.Items()), len(c.Groups()), strings.Join(preds, ", "))
}
