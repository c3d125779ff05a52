package access

import (
	"testing"
	"time"
)

func rcAt(t time.Time) *RequestContext {
	return &RequestContext{At: t}
}

func TestTimeWindowInclusiveBounds(t *testing.T) {
	tw, err := parseTimeWindow(map[string]any{"start_time": "09:00", "end_time": "17:00"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	day := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		clock string
		want  bool
	}{
		{"08:59", false},
		{"09:00", true},
		{"12:30", true},
		{"17:00", true},
		{"17:01", false},
	}
	for _, c := range cases {
		at, _ := time.Parse("15:04", c.clock)
		instant := day.Add(time.Duration(at.Hour())*time.Hour + time.Duration(at.Minute())*time.Minute)
		if got := tw.Evaluate(rcAt(instant)); got != c.want {
			t.Fatalf("at %s: expected %v, got %v", c.clock, c.want, got)
		}
	}
}

func TestTimeWindowCrossesMidnight(t *testing.T) {
	tw := &TimeWindow{Start: 22 * 60, End: 6 * 60}
	day := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)
	if !tw.Evaluate(rcAt(day.Add(23 * time.Hour))) {
		t.Fatalf("expected 23:00 inside a 22:00-06:00 window")
	}
	if !tw.Evaluate(rcAt(day.Add(5 * time.Hour))) {
		t.Fatalf("expected 05:00 inside a 22:00-06:00 window")
	}
	if tw.Evaluate(rcAt(day.Add(12 * time.Hour))) {
		t.Fatalf("expected noon outside a 22:00-06:00 window")
	}
}

func TestWeekdaySetMondayIsZero(t *testing.T) {
	ws := &WeekdaySet{Days: []int{0, 4}} // Monday, Friday
	monday := time.Date(2025, 6, 16, 10, 0, 0, 0, time.UTC)
	if !ws.Evaluate(rcAt(monday)) {
		t.Fatalf("expected Monday to match day index 0")
	}
	if !ws.Evaluate(rcAt(monday.Add(4 * 24 * time.Hour))) {
		t.Fatalf("expected Friday to match day index 4")
	}
	if ws.Evaluate(rcAt(monday.Add(6 * 24 * time.Hour))) {
		t.Fatalf("expected Sunday not to match")
	}
}

func TestKeyValueMatchFailsClosed(t *testing.T) {
	c := &KeyValueMatch{Key: "project", Expected: "apollo"}
	if c.Evaluate(&RequestContext{}) {
		t.Fatalf("expected missing key to deny")
	}
	if c.Evaluate(&RequestContext{Values: map[string]any{"project": "gemini"}}) {
		t.Fatalf("expected mismatched value to deny")
	}
	if !c.Evaluate(&RequestContext{Values: map[string]any{"project": "apollo"}}) {
		t.Fatalf("expected matching value to pass")
	}

	// JSON decodes numbers as float64; stored ints still compare equal
	n := &KeyValueMatch{Key: "level", Expected: 3}
	if !n.Evaluate(&RequestContext{Values: map[string]any{"level": float64(3)}}) {
		t.Fatalf("expected numeric kinds to compare by value")
	}
}

func TestDepartmentScopeBindsOnlyWhenBothPresent(t *testing.T) {
	c := &DepartmentScope{DepartmentID: 5}
	if !c.Evaluate(&RequestContext{}) {
		t.Fatalf("expected pass without a department context")
	}
	five, six := int64(5), int64(6)
	if !c.Evaluate(&RequestContext{DepartmentID: &five}) {
		t.Fatalf("expected pass in the scoped department")
	}
	if c.Evaluate(&RequestContext{DepartmentID: &six}) {
		t.Fatalf("expected deny in another department")
	}
}

func TestParseConditionSet(t *testing.T) {
	cs, err := ParseConditionSet(map[string]any{
		"time_restrictions": map[string]any{"start_time": "08:00", "end_time": "18:00"},
		"day_restrictions":  []any{float64(0), float64(1)},
		"ip_restrictions":   []any{"10.0.0.0/8"},
		"region":            "emea",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cs.clauses) != 3 {
		t.Fatalf("expected 3 clauses (ip ignored), got %d", len(cs.clauses))
	}

	monday9 := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	passing := &RequestContext{At: monday9, Values: map[string]any{"region": "emea"}}
	if !cs.Evaluate(passing) {
		t.Fatalf("expected conjunction to pass: %s", cs.String())
	}
	failing := &RequestContext{At: monday9, Values: map[string]any{"region": "apac"}}
	if cs.Evaluate(failing) {
		t.Fatalf("expected failing clause to deny the conjunction")
	}
}

func TestParseConditionSetEmptyAllows(t *testing.T) {
	cs, err := ParseConditionSet(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cs.Empty() || !cs.Evaluate(&RequestContext{}) {
		t.Fatalf("expected empty set to allow")
	}
}

func TestParseConditionSetMalformed(t *testing.T) {
	cases := []map[string]any{
		{"time_restrictions": "09:00-17:00"},
		{"time_restrictions": map[string]any{"start_time": "nine"}},
		{"day_restrictions": "weekdays"},
		{"day_restrictions": []any{float64(9)}},
	}
	for i, m := range cases {
		if _, err := ParseConditionSet(m); err == nil {
			t.Fatalf("case %d: expected parse error", i)
		}
	}
}

func TestParseClockFormats(t *testing.T) {
	m, err := parseClock("14:30")
	if err != nil || m != 14*60+30 {
		t.Fatalf("expected 870, got %d (%v)", m, err)
	}
	m, err = parseClock("06:15:59")
	if err != nil || m != 6*60+15 {
		t.Fatalf("expected seconds ignored, got %d (%v)", m, err)
	}
	if _, err := parseClock("25:00"); err == nil {
		t.Fatalf("expected error for an impossible clock value")
	}
}
