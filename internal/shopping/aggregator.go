// Package shopping merges the ingredients of a set of recipes into a shopping
// list grouped by category.
package shopping

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
)

// DefaultCategory holds ingredients whose recipe left the category blank.
const DefaultCategory = "Autres"

var quantityRe = regexp.MustCompile(`^\s*(\d+(?:[.,]\d+)?)\s*(\p{L}*)\s*$`)

// fragment is one irreducible piece of a merged quantity.
type fragment struct {
	raw    string
	value  float64
	unit   string
	parsed bool
	summed bool
}

func parseQuantity(q string) fragment {
	q = strings.TrimSpace(q)
	m := quantityRe.FindStringSubmatch(q)
	if m == nil {
		return fragment{raw: q}
	}
	v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil {
		return fragment{raw: q}
	}
	return fragment{raw: q, value: v, unit: strings.ToLower(m[2]), parsed: true}
}

// roundQuantity drops float noise from summed quantities, keeping three
// decimals.
func roundQuantity(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func (f fragment) String() string {
	if !f.summed {
		return f.raw
	}
	return strconv.FormatFloat(roundQuantity(f.value), 'f', -1, 64) + f.unit
}

type entry struct {
	name      string
	category  string
	fragments []fragment
}

// add merges q into the entry: same-unit numbers are summed, anything else is
// appended unless an identical opaque fragment is already present.
func (e *entry) add(q string) {
	f := parseQuantity(q)
	if f.raw == "" {
		return
	}
	for i, have := range e.fragments {
		if f.parsed && have.parsed && have.unit == f.unit {
			e.fragments[i].value += f.value
			e.fragments[i].summed = true
			return
		}
		if !f.parsed && !have.parsed && strings.EqualFold(have.raw, f.raw) {
			return
		}
	}
	e.fragments = append(e.fragments, f)
}

func (e *entry) item() domain.ShoppingItem {
	parts := make([]string, len(e.fragments))
	for i, f := range e.fragments {
		parts[i] = f.String()
	}
	it := domain.ShoppingItem{
		Name:     e.name,
		Quantity: strings.Join(parts, " + "),
		Category: e.category,
	}
	if len(e.fragments) == 1 && e.fragments[0].parsed {
		v := roundQuantity(e.fragments[0].value)
		it.Value = &v
		it.Unit = e.fragments[0].unit
	}
	return it
}

// Aggregate builds a shopping list from recipes. Ingredients with the same
// trimmed, case-insensitive name in the same category are merged. The output
// is sorted by category, then by item name. The function never mutates its
// input, so aggregating the same recipes again yields the same list.
func Aggregate(recipes []domain.Recipe) ([]domain.ShoppingCategory, error) {
	entries := make(map[string]*entry)
	// Categories match case-insensitively; the first spelling seen is shown.
	categories := make(map[string]string)

	for ri, r := range recipes {
		for ii, ing := range r.Ingredients {
			name := strings.TrimSpace(ing.Name)
			if name == "" {
				return nil, &domain.ErrValidation{
					Field:   "recipes[" + strconv.Itoa(ri) + "].ingredients[" + strconv.Itoa(ii) + "].name",
					Message: "required",
				}
			}
			cat := strings.TrimSpace(ing.Category)
			if cat == "" {
				cat = DefaultCategory
			}
			catKey := strings.ToLower(cat)
			if display, ok := categories[catKey]; ok {
				cat = display
			} else {
				categories[catKey] = cat
			}
			key := strings.ToLower(name) + "\x00" + catKey
			e, ok := entries[key]
			if !ok {
				e = &entry{name: name, category: cat}
				entries[key] = e
			}
			e.add(ing.Quantity)
		}
	}

	byCat := make(map[string][]domain.ShoppingItem)
	for _, e := range entries {
		byCat[e.category] = append(byCat[e.category], e.item())
	}

	out := make([]domain.ShoppingCategory, 0, len(byCat))
	for cat, items := range byCat {
		sort.Slice(items, func(i, j int) bool {
			return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
		})
		out = append(out, domain.ShoppingCategory{Category: cat, Items: items})
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Category) < strings.ToLower(out[j].Category)
	})
	return out, nil
}
