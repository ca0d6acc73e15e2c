// Package verify checks stored entity and universe files against their
// ordering and uniqueness rules.
package verify

import (
	"fmt"
	"strings"

	"github.com/quiverdata/govcontracts/internal/datekey"
	"github.com/quiverdata/govcontracts/internal/model"
	"github.com/quiverdata/govcontracts/internal/store"
)

// Rules a Violation can break.
const (
	RuleFormat    = "format"
	RuleOrder     = "order"
	RuleDuplicate = "duplicate"
)

// universeFields is the column count of a universe line.
const universeFields = 5

// Violation describes a single broken rule.
type Violation struct {
	Rule string
	// File is "<tier>/<name>" for entities and "universe/<date>" otherwise.
	File        string
	Line        int
	Description string
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s:%d [%s]: %s", v.File, v.Line, v.Rule, v.Description)
}

// EntityLines checks that every line parses, date prefixes never
// decrease and no line repeats.
func EntityLines(file string, lines []string) []Violation {
	var (
		out  []Violation
		prev string
		seen = make(map[string]int, len(lines))
	)
	for i, l := range lines {
		n := i + 1
		if first, dup := seen[l]; dup {
			out = append(out, Violation{RuleDuplicate, file, n, fmt.Sprintf("repeats line %d", first)})
			continue
		}
		seen[l] = n

		if _, err := model.ParseEntityLine(l); err != nil {
			out = append(out, Violation{RuleFormat, file, n, err.Error()})
			continue
		}
		key := l[:datekey.Len]
		if key < prev {
			out = append(out, Violation{RuleOrder, file, n, fmt.Sprintf("date %s after %s", key, prev)})
		}
		prev = max(prev, key)
	}
	return out
}

// UniverseLines checks that lines are strictly ascending, which implies
// sorted and unique, and carry every column.
func UniverseLines(file string, lines []string) []Violation {
	var out []Violation
	for i, l := range lines {
		n := i + 1
		if got := len(strings.Split(l, ",")); got != universeFields {
			out = append(out, Violation{RuleFormat, file, n, fmt.Sprintf("expected %d fields, got %d", universeFields, got)})
		}
		if i == 0 {
			continue
		}
		switch prev := lines[i-1]; {
		case l == prev:
			out = append(out, Violation{RuleDuplicate, file, n, "repeats previous line"})
		case l < prev:
			out = append(out, Violation{RuleOrder, file, n, "sorts before previous line"})
		}
	}
	return out
}

// Report is the outcome of checking a whole store.
type Report struct {
	Entities   int
	Universe   int
	Violations []Violation
}

// OK reports whether no rule was broken.
func (r Report) OK() bool { return len(r.Violations) == 0 }

// Store checks every entity file in both tiers and every universe file.
func Store(s store.Store) (Report, error) {
	var rep Report

	for _, tier := range []store.Tier{store.Processed, store.Staging} {
		names, err := s.ListEntities(tier)
		if err != nil {
			return rep, fmt.Errorf("listing %s entities: %w", tier, err)
		}
		for _, name := range names {
			lines, found, err := s.ReadEntity(tier, name)
			if err != nil {
				return rep, err
			}
			if !found {
				continue
			}
			rep.Entities++
			rep.Violations = append(rep.Violations, EntityLines(tier.String()+"/"+name, lines)...)
		}
	}

	dates, err := s.ListUniverse()
	if err != nil {
		return rep, fmt.Errorf("listing universe: %w", err)
	}
	for _, d := range dates {
		lines, _, err := s.ReadUniverse(d)
		if err != nil {
			return rep, err
		}
		rep.Universe++
		rep.Violations = append(rep.Violations, UniverseLines("universe/"+datekey.Format(d), lines)...)
	}
	return rep, nil
}
