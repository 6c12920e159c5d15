package domain

import (
	"fmt"
	"strings"
)

// Category is the closed set of hardware categories a build can hold.
type Category string

const (
	CategoryCPU         Category = "cpu"
	CategoryMotherboard Category = "motherboard"
	CategoryRAM         Category = "ram"
	CategoryGPU         Category = "gpu"
	CategoryCase        Category = "case"
	CategorySSD         Category = "ssd"
	CategoryHDD         Category = "hdd"
	CategoryPSU         Category = "psu"
	CategoryFan         Category = "fan"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryCPU,
	CategoryMotherboard,
	CategoryRAM,
	CategoryGPU,
	CategoryCase,
	CategorySSD,
	CategoryHDD,
	CategoryPSU,
	CategoryFan,
}

// CoreCategories must all be selected before a build can be verified.
var CoreCategories = []Category{
	CategoryCPU,
	CategoryMotherboard,
	CategoryRAM,
	CategoryGPU,
	CategoryCase,
}

func ParseCategory(raw string) (Category, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	switch key {
	case "mb", "board":
		key = string(CategoryMotherboard)
	case "fans":
		key = string(CategoryFan)
	}
	c := Category(key)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, raw)
	}
	return c, nil
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

func (c Category) IsCore() bool {
	for _, core := range CoreCategories {
		if c == core {
			return true
		}
	}
	return false
}

func (c Category) String() string {
	return string(c)
}

// Dependency describes what a category's candidate list is derived from.
// Required upstreams must be selected before the list can be fetched;
// Optional upstreams only parameterize the fetch.
type Dependency struct {
	NeedsBrand bool
	Required   []Category
	Optional   []Category
}

var dependencyTable = map[Category]Dependency{
	CategoryCPU:         {NeedsBrand: true},
	CategoryMotherboard: {Required: []Category{CategoryCPU}},
	CategoryRAM:         {Required: []Category{CategoryMotherboard}},
	CategoryGPU:         {},
	CategoryCase:        {Required: []Category{CategoryMotherboard}, Optional: []Category{CategoryGPU}},
	CategorySSD:         {},
	CategoryHDD:         {},
	CategoryPSU:         {},
	CategoryFan:         {},
}

func DependencyOf(c Category) Dependency {
	return dependencyTable[c]
}

// Independent reports whether the category's list never changes with other
// selections.
func (c Category) Independent() bool {
	dep := dependencyTable[c]
	return !dep.NeedsBrand && len(dep.Required) == 0 && len(dep.Optional) == 0
}

// DirectDependents returns the categories whose candidate list is keyed to c.
func DirectDependents(c Category) []Category {
	out := make([]Category, 0, 2)
	for _, candidate := range Categories {
		dep := dependencyTable[candidate]
		if containsCategory(dep.Required, c) || containsCategory(dep.Optional, c) {
			out = append(out, candidate)
		}
	}
	return out
}

// Downstream returns every category transitively invalidated by a change to
// c, in dependency order.
func Downstream(c Category) []Category {
	seen := make(map[Category]struct{})
	out := make([]Category, 0, 4)
	queue := DirectDependents(c)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, ok := seen[next]; ok {
			continue
		}
		seen[next] = struct{}{}
		out = append(out, next)
		queue = append(queue, DirectDependents(next)...)
	}
	return out
}

// BrandDownstream returns the categories invalidated by a brand change.
func BrandDownstream() []Category {
	out := make([]Category, 0, 4)
	for _, c := range Categories {
		if dependencyTable[c].NeedsBrand {
			out = append(out, c)
			out = append(out, Downstream(c)...)
		}
	}
	return out
}

func containsCategory(items []Category, c Category) bool {
	for _, item := range items {
		if item == c {
			return true
		}
	}
	return false
}
