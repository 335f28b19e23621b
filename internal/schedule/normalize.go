// Package schedule holds the pure scheduling arithmetic: template normalization,
// plan expansion into dated executions, and availability windows.
package schedule

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"alcyxob/coaching-engine/internal/domain"
)

// Plan is the normalized snapshot of a WeeklyTemplate. It is a value: once taken,
// later edits to the template do not affect an expansion running from it.
type Plan struct {
	TemplateID  primitive.ObjectID
	ProgramID   primitive.ObjectID
	Version     int
	WeekCount   int
	PeriodCount int
	Days        []domain.TemplateDay // sorted by (week, weekday)
}

// Issue is a malformed piece of a stored template that normalization dropped.
type Issue struct {
	Week   int
	Key    string
	Reason string
}

func (i Issue) String() string {
	return fmt.Sprintf("week %d, key %q: %s", i.Week, i.Key, i.Reason)
}

// NormalizeTemplate parses the stored weeks of tpl. Malformed cells degrade to
// empty and are logged as data-integrity warnings; normalization never fails.
func NormalizeTemplate(tpl *domain.WeeklyTemplate, log *zap.Logger) Plan {
	days, issues := ParseWeeks(tpl.Weeks, tpl.WeekCount)
	for _, is := range issues {
		log.Warn("malformed template cell treated as empty",
			zap.String("templateId", tpl.ID.Hex()),
			zap.String("programId", tpl.ProgramID.Hex()),
			zap.Int("week", is.Week),
			zap.String("key", is.Key),
			zap.String("reason", is.Reason),
		)
	}
	weeks := tpl.WeekCount
	if weeks < 1 {
		weeks = 1
	}
	return Plan{
		TemplateID:  tpl.ID,
		ProgramID:   tpl.ProgramID,
		Version:     tpl.Version,
		WeekCount:   weeks,
		PeriodCount: tpl.PeriodCount,
		Days:        days,
	}
}

// ParseWeeks turns stored week maps into typed days. Weeks beyond weekCount,
// unknown day keys and unparseable cells are reported and skipped.
func ParseWeeks(weeks []domain.WeekCells, weekCount int) ([]domain.TemplateDay, []Issue) {
	if weekCount < 1 {
		weekCount = 1
	}
	var issues []Issue
	cells := make(map[[2]int][]domain.TemplateItem)

	for w, week := range weeks {
		if w >= weekCount {
			if len(week) > 0 {
				issues = append(issues, Issue{Week: w, Reason: "week outside template span"})
			}
			continue
		}
		// map iteration order is random; sort keys so merges are deterministic
		keys := make([]string, 0, len(week))
		for k := range week {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			day, err := domain.ParseWeekday(key)
			if err != nil {
				issues = append(issues, Issue{Week: w, Key: key, Reason: err.Error()})
				continue
			}
			items, problems, err := ParseCell(week[key])
			for _, p := range problems {
				issues = append(issues, Issue{Week: w, Key: key, Reason: p})
			}
			if err != nil {
				issues = append(issues, Issue{Week: w, Key: key, Reason: err.Error()})
				continue
			}
			slot := [2]int{w, int(day)}
			cells[slot] = mergeItems(cells[slot], items)
		}
	}

	days := make([]domain.TemplateDay, 0, len(cells))
	for slot, items := range cells {
		if len(items) == 0 {
			continue
		}
		days = append(days, domain.TemplateDay{Week: slot[0], Weekday: domain.Weekday(slot[1]), Items: items})
	}
	sort.Slice(days, func(i, j int) bool {
		if days[i].Week != days[j].Week {
			return days[i].Week < days[j].Week
		}
		return days[i].Weekday < days[j].Weekday
	})
	return days, issues
}

// ParseCell parses one weekday cell. A cell is empty (nil, "", "[]", "null") or a
// list of item refs / item objects, possibly stringified as JSON. A non-nil error
// means the cell as a whole is unusable; problems lists dropped elements.
func ParseCell(raw interface{}) (items []domain.TemplateItem, problems []string, err error) {
	list, err := asList(raw)
	if err != nil || len(list) == 0 {
		return nil, nil, err
	}

	type ordered struct {
		item     domain.TemplateItem
		explicit bool
		pos      int
	}
	parsed := make([]ordered, 0, len(list))
	for pos, el := range list {
		item, explicit, perr := parseItem(el)
		if perr != nil {
			problems = append(problems, fmt.Sprintf("element %d: %v", pos, perr))
			continue
		}
		parsed = append(parsed, ordered{item: item, explicit: explicit, pos: pos})
	}
	// explicit order wins; declared position breaks ties and orders the rest
	sort.SliceStable(parsed, func(i, j int) bool {
		a, b := parsed[i], parsed[j]
		ka, kb := a.pos, b.pos
		if a.explicit {
			ka = a.item.Order
		}
		if b.explicit {
			kb = b.item.Order
		}
		if ka != kb {
			return ka < kb
		}
		return a.pos < b.pos
	})

	seen := make(map[string]bool, len(parsed))
	for _, p := range parsed {
		if seen[p.item.Ref] {
			problems = append(problems, fmt.Sprintf("duplicate item %q dropped", p.item.Ref))
			continue
		}
		seen[p.item.Ref] = true
		p.item.Order = len(items)
		items = append(items, p.item)
	}
	return items, problems, nil
}

func asList(raw interface{}) ([]interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		return v, nil
	case primitive.A:
		return []interface{}(v), nil
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" || s == "null" || s == "[]" {
			return nil, nil
		}
		var decoded []interface{}
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil, fmt.Errorf("cell is not a list: %q", truncate(s, 40))
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("cell is not a list: %T", raw)
	}
}

func parseItem(el interface{}) (domain.TemplateItem, bool, error) {
	switch v := el.(type) {
	case string:
		ref := strings.TrimSpace(v)
		if ref == "" {
			return domain.TemplateItem{}, false, fmt.Errorf("empty item ref")
		}
		return domain.TemplateItem{Ref: ref, Kind: domain.ItemExercise}, false, nil
	case primitive.ObjectID:
		return domain.TemplateItem{Ref: v.Hex(), Kind: domain.ItemExercise}, false, nil
	case map[string]interface{}:
		return itemFromFields(v)
	case primitive.M:
		return itemFromFields(map[string]interface{}(v))
	case primitive.D:
		return itemFromFields(v.Map())
	default:
		return domain.TemplateItem{}, false, fmt.Errorf("unsupported item type %T", el)
	}
}

func itemFromFields(m map[string]interface{}) (domain.TemplateItem, bool, error) {
	var ref string
	for _, k := range []string{"ref", "itemRef", "itemId", "id", "_id"} {
		switch v := m[k].(type) {
		case string:
			ref = strings.TrimSpace(v)
		case primitive.ObjectID:
			ref = v.Hex()
		}
		if ref != "" {
			break
		}
	}
	if ref == "" {
		return domain.TemplateItem{}, false, fmt.Errorf("item has no ref")
	}

	item := domain.TemplateItem{Ref: ref, Kind: domain.ItemExercise}
	for _, k := range []string{"kind", "type"} {
		if s, ok := m[k].(string); ok {
			item.Kind = parseKind(s)
			break
		}
	}

	order, explicit := asInt(m["order"])
	item.Order = order
	return item, explicit, nil
}

func parseKind(s string) domain.ItemKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "meal", "comida", "food", "nutrition":
		return domain.ItemMeal
	default:
		return domain.ItemExercise
	}
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func mergeItems(existing, more []domain.TemplateItem) []domain.TemplateItem {
	if len(existing) == 0 {
		return more
	}
	seen := make(map[string]bool, len(existing))
	for _, it := range existing {
		seen[it.Ref] = true
	}
	for _, it := range more {
		if seen[it.Ref] {
			continue
		}
		seen[it.Ref] = true
		it.Order = len(existing)
		existing = append(existing, it)
	}
	return existing
}

// CanonicalWeeks renders typed days back into the stored form written for new edits:
// English day keys mapped to ordered item objects.
func CanonicalWeeks(days []domain.TemplateDay, weekCount int) []domain.WeekCells {
	if weekCount < 1 {
		weekCount = 1
	}
	weeks := make([]domain.WeekCells, weekCount)
	for i := range weeks {
		weeks[i] = domain.WeekCells{}
	}
	for _, d := range days {
		if d.Week < 0 || d.Week >= weekCount || len(d.Items) == 0 {
			continue
		}
		cell := make([]interface{}, 0, len(d.Items))
		for i, it := range d.Items {
			cell = append(cell, map[string]interface{}{"ref": it.Ref, "kind": string(it.Kind), "order": i})
		}
		weeks[d.Week][d.Weekday.String()] = cell
	}
	return weeks
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
