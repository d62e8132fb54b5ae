package taskview

import (
	"slices"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Projector turns a snapshot into the ordered, filtered sequence to render.
type Projector struct {
	// Locale drives title collation. The zero value uses English.
	Locale language.Tag
}

// Project filters and sorts with the default English collation.
func Project(records []Task, f Filter, o SortOrder) []Task {
	return Projector{}.Project(records, f, o)
}

// Project never mutates records. Equal keys keep their input order.
func (p Projector) Project(records []Task, f Filter, o SortOrder) []Task {
	out := make([]Task, 0, len(records))
	for _, t := range records {
		if f.Matches(t) {
			out = append(out, t)
		}
	}

	switch o {
	case SortCreatedDesc:
		slices.SortStableFunc(out, func(a, b Task) int { return b.CreatedAt.Compare(a.CreatedAt) })
	case SortCreatedAsc:
		slices.SortStableFunc(out, func(a, b Task) int { return a.CreatedAt.Compare(b.CreatedAt) })
	case SortTitleAsc, SortTitleDesc:
		// collate.Collator is not safe for concurrent use, so each call gets its own.
		c := collate.New(p.locale())
		if o == SortTitleAsc {
			slices.SortStableFunc(out, func(a, b Task) int { return c.CompareString(a.Title, b.Title) })
		} else {
			slices.SortStableFunc(out, func(a, b Task) int { return c.CompareString(b.Title, a.Title) })
		}
	}
	return out
}

func (p Projector) locale() language.Tag {
	if p.Locale == language.Und {
		return language.English
	}
	return p.Locale
}
