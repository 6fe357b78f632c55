package parties

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/musoukun/policyScope/internal/store"
)

//go:embed catalog.yaml
var catalogFile []byte

type Entry struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	NameEn      string `yaml:"name_en"`
	FoundedYear int    `yaml:"founded_year"`
	Color       string `yaml:"color"`
	Description string `yaml:"description"`
}

func (e Entry) Party() store.Party {
	return store.Party{
		ID:          e.ID,
		Name:        e.Name,
		NameEn:      e.NameEn,
		FoundedYear: e.FoundedYear,
		Description: e.Description,
	}
}

var builtins = mustParse(catalogFile)

func mustParse(data []byte) []Entry {
	var doc struct {
		Parties []Entry `yaml:"parties"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		panic(fmt.Sprintf("parse party catalog: %v", err))
	}
	seen := map[string]struct{}{}
	for _, entry := range doc.Parties {
		if entry.ID == "" || entry.Name == "" {
			panic("party catalog entry missing id or name")
		}
		if _, dup := seen[entry.ID]; dup {
			panic(fmt.Sprintf("duplicate party id %q in catalog", entry.ID))
		}
		seen[entry.ID] = struct{}{}
	}
	return doc.Parties
}

// Builtins returns the catalog in display order.
func Builtins() []Entry {
	copyOf := make([]Entry, len(builtins))
	copy(copyOf, builtins)
	return copyOf
}

func Lookup(id string) (Entry, bool) {
	for _, entry := range builtins {
		if entry.ID == id {
			return entry, true
		}
	}
	return Entry{}, false
}

// FindByName matches a catalog entry by its Japanese or English name.
func FindByName(name string) (Entry, bool) {
	needle := strings.TrimSpace(name)
	if needle == "" {
		return Entry{}, false
	}
	for _, entry := range builtins {
		if entry.Name == needle || strings.EqualFold(entry.NameEn, needle) {
			return entry, true
		}
	}
	return Entry{}, false
}

func Color(id string) string {
	if entry, ok := Lookup(id); ok {
		return entry.Color
	}
	return ""
}

// EnsureBuiltins seeds catalog parties missing from the store. Existing rows
// are left untouched.
func EnsureBuiltins(ctx context.Context, st store.Store) error {
	existing, err := st.ListParties(ctx)
	if err != nil {
		return err
	}
	existingIDs := make(map[string]struct{}, len(existing))
	for _, party := range existing {
		existingIDs[party.ID] = struct{}{}
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, entry := range builtins {
		if _, ok := existingIDs[entry.ID]; ok {
			continue
		}
		party := entry.Party()
		party.CreatedAt = now
		party.UpdatedAt = now
		if err := st.UpsertParty(ctx, party); err != nil {
			return fmt.Errorf("seed party %s: %w", entry.ID, err)
		}
	}
	return nil
}

// SortByCatalog orders parties by catalog position; unknown ids follow, by id.
func SortByCatalog(list []store.Party) {
	position := make(map[string]int, len(builtins))
	for i, entry := range builtins {
		position[entry.ID] = i
	}
	rank := func(id string) int {
		if i, ok := position[id]; ok {
			return i
		}
		return len(builtins)
	}
	sort.SliceStable(list, func(i, j int) bool {
		left, right := rank(list[i].ID), rank(list[j].ID)
		if left != right {
			return left < right
		}
		return list[i].ID < list[j].ID
	})
}

// List returns stored parties in catalog order, falling back to the catalog
// when the store fails or is empty.
func List(ctx context.Context, st store.Store) []store.Party {
	var stored []store.Party
	if st != nil {
		list, err := st.ListParties(ctx)
		if err == nil {
			stored = list
		}
	}
	if len(stored) == 0 {
		stored = make([]store.Party, 0, len(builtins))
		for _, entry := range builtins {
			stored = append(stored, entry.Party())
		}
	}
	SortByCatalog(stored)
	return stored
}
