package access

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RequestContext carries the facts a condition clause may inspect: the
// department the grant is exercised in, the evaluation instant, and arbitrary
// key/values supplied by the web layer. Evaluation is a pure function of this
// struct.
type RequestContext struct {
	DepartmentID *int64
	At           time.Time
	Values       map[string]any
}

// Weekday returns the weekday of the evaluation instant, Monday=0 .. Sunday=6.
func (rc *RequestContext) Weekday() int {
	return (int(rc.At.Weekday()) + 6) % 7
}

// Condition is one clause of a stored conditions map. A ConditionSet is the
// conjunction of its clauses: any failing clause denies, no clauses allow.
type Condition interface {
	Evaluate(rc *RequestContext) bool
	String() string
}

// TimeWindow restricts a grant to a wall-clock window, bounds inclusive.
// Start > End means the window crosses midnight.
type TimeWindow struct {
	Start int // minutes since midnight
	End   int
}

func (c *TimeWindow) Evaluate(rc *RequestContext) bool {
	m := rc.At.Hour()*60 + rc.At.Minute()
	if c.Start <= c.End {
		return m >= c.Start && m <= c.End
	}
	return m >= c.Start || m <= c.End
}

func (c *TimeWindow) String() string {
	return fmt.Sprintf("time_window(%02d:%02d,%02d:%02d)", c.Start/60, c.Start%60, c.End/60, c.End%60)
}

// WeekdaySet restricts a grant to the listed weekdays (Monday=0 .. Sunday=6).
type WeekdaySet struct {
	Days []int
}

func (c *WeekdaySet) Evaluate(rc *RequestContext) bool {
	wd := rc.Weekday()
	for _, d := range c.Days {
		if d == wd {
			return true
		}
	}
	return false
}

func (c *WeekdaySet) String() string {
	parts := make([]string, len(c.Days))
	for i, d := range c.Days {
		parts[i] = strconv.Itoa(d)
	}
	return "weekdays(" + strings.Join(parts, ",") + ")"
}

// KeyValueMatch requires the request context to supply a key with an exactly
// matching value. A missing key with a non-nil expected value denies
// (fail-closed); a nil expected value only requires the key to be absent or
// nil.
type KeyValueMatch struct {
	Key      string
	Expected any
}

func (c *KeyValueMatch) Evaluate(rc *RequestContext) bool {
	var got any
	ok := false
	if rc.Values != nil {
		got, ok = rc.Values[c.Key]
	}
	if !ok || got == nil {
		return c.Expected == nil
	}
	return valueEqual(got, c.Expected)
}

func (c *KeyValueMatch) String() string {
	return fmt.Sprintf("%s == %v", c.Key, c.Expected)
}

// DepartmentScope requires the grant to be exercised in a specific
// department. A context without a department passes: scope binds the
// comparison only when both sides are present.
type DepartmentScope struct {
	DepartmentID int64
}

func (c *DepartmentScope) Evaluate(rc *RequestContext) bool {
	if rc.DepartmentID == nil {
		return true
	}
	return *rc.DepartmentID == c.DepartmentID
}

func (c *DepartmentScope) String() string {
	return fmt.Sprintf("department == %d", c.DepartmentID)
}

// ConditionSet is a parsed conditions map.
type ConditionSet struct {
	clauses []Condition
}

// Empty reports whether the set has no clauses (and therefore allows).
func (cs *ConditionSet) Empty() bool { return cs == nil || len(cs.clauses) == 0 }

// Evaluate returns true iff every clause passes.
func (cs *ConditionSet) Evaluate(rc *RequestContext) bool {
	if cs == nil {
		return true
	}
	for _, c := range cs.clauses {
		if !c.Evaluate(rc) {
			return false
		}
	}
	return true
}

func (cs *ConditionSet) String() string {
	if cs.Empty() {
		return "true"
	}
	parts := make([]string, len(cs.clauses))
	for i, c := range cs.clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, " AND ")
}

// Reserved condition map keys. Everything else parses as KeyValueMatch.
const (
	condKeyTime = "time_restrictions"
	condKeyDays = "day_restrictions"
	condKeyIP   = "ip_restrictions" // accepted and ignored; enforced upstream
)

// ParseConditionSet converts a stored conditions map into typed clauses.
// A malformed map returns an error; callers treat that as a failed condition
// (fail-closed) rather than surfacing it.
func ParseConditionSet(m map[string]any) (*ConditionSet, error) {
	cs := &ConditionSet{}
	if len(m) == 0 {
		return cs, nil
	}
	// deterministic clause order for String() and tests
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := m[k]
		switch k {
		case condKeyTime:
			tw, err := parseTimeWindow(v)
			if err != nil {
				return nil, err
			}
			cs.clauses = append(cs.clauses, tw)
		case condKeyDays:
			ws, err := parseWeekdaySet(v)
			if err != nil {
				return nil, err
			}
			cs.clauses = append(cs.clauses, ws)
		case condKeyIP:
			// handled by the transport layer, never evaluated here
		default:
			cs.clauses = append(cs.clauses, &KeyValueMatch{Key: k, Expected: v})
		}
	}
	return cs, nil
}

func parseTimeWindow(v any) (*TimeWindow, error) {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("time_restrictions: expected map, got %T", v)
	}
	tw := &TimeWindow{Start: 0, End: 24*60 - 1}
	if s, present := raw["start_time"]; present {
		m, err := parseClock(s)
		if err != nil {
			return nil, fmt.Errorf("time_restrictions.start_time: %w", err)
		}
		tw.Start = m
	}
	if s, present := raw["end_time"]; present {
		m, err := parseClock(s)
		if err != nil {
			return nil, fmt.Errorf("time_restrictions.end_time: %w", err)
		}
		tw.End = m
	}
	return tw, nil
}

// parseClock accepts "15:04" or "15:04:05" and returns minutes since
// midnight. Seconds are ignored.
func parseClock(v any) (int, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("expected HH:MM string, got %T", v)
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		t, err = time.Parse("15:04:05", s)
		if err != nil {
			return 0, fmt.Errorf("bad clock value %q", s)
		}
	}
	return t.Hour()*60 + t.Minute(), nil
}

func parseWeekdaySet(v any) (*WeekdaySet, error) {
	list, ok := v.([]any)
	if !ok {
		// tolerate typed slices from code paths that never went through JSON
		if ints, ok2 := v.([]int); ok2 {
			return &WeekdaySet{Days: ints}, nil
		}
		return nil, fmt.Errorf("day_restrictions: expected list, got %T", v)
	}
	ws := &WeekdaySet{Days: make([]int, 0, len(list))}
	for _, item := range list {
		d, err := asWeekday(item)
		if err != nil {
			return nil, fmt.Errorf("day_restrictions: %w", err)
		}
		ws.Days = append(ws.Days, d)
	}
	return ws, nil
}

func asWeekday(v any) (int, error) {
	var d int
	switch n := v.(type) {
	case int:
		d = n
	case int64:
		d = int(n)
	case float64:
		d = int(n)
	default:
		return 0, fmt.Errorf("expected weekday index, got %T", v)
	}
	if d < 0 || d > 6 {
		return 0, fmt.Errorf("weekday index %d out of range", d)
	}
	return d, nil
}

// valueEqual compares a context value with an expected value. JSON decoding
// turns numbers into float64, so numeric kinds compare by value.
func valueEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
