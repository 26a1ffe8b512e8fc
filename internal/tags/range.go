package tags

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/axxuxy/ax-image/internal/format"
)

// Bound is a value type usable in ranged filters. Dates are calendar days.
type Bound interface {
	int64 | time.Time
}

// RangeOrValue is either a scalar or a min/max bound with at least one side.
// min <= max is not enforced.
type RangeOrValue[T Bound] struct {
	value  T
	min    *T
	max    *T
	ranged bool
}

func Value[T Bound](v T) RangeOrValue[T] {
	return RangeOrValue[T]{value: v}
}

func Between[T Bound](min, max T) RangeOrValue[T] {
	return RangeOrValue[T]{min: &min, max: &max, ranged: true}
}

func AtLeast[T Bound](min T) RangeOrValue[T] {
	return RangeOrValue[T]{min: &min, ranged: true}
}

func AtMost[T Bound](max T) RangeOrValue[T] {
	return RangeOrValue[T]{max: &max, ranged: true}
}

func NewRange[T Bound](min, max *T) (RangeOrValue[T], error) {
	if min == nil && max == nil {
		return RangeOrValue[T]{}, ErrEmptyRange
	}
	r := RangeOrValue[T]{ranged: true}
	if min != nil {
		v := *min
		r.min = &v
	}
	if max != nil {
		v := *max
		r.max = &v
	}
	return r, nil
}

func (r RangeOrValue[T]) IsRange() bool {
	return r.ranged
}

// Scalar returns the value when r is not a range.
func (r RangeOrValue[T]) Scalar() (T, bool) {
	return r.value, !r.ranged
}

// Bounds returns copies of the range sides; both are nil for a scalar.
func (r RangeOrValue[T]) Bounds() (min, max *T) {
	if r.min != nil {
		v := *r.min
		min = &v
	}
	if r.max != nil {
		v := *r.max
		max = &v
	}
	return min, max
}

func (r RangeOrValue[T]) String() string {
	if !r.ranged {
		return renderBound(r.value)
	}
	var b strings.Builder
	if r.min != nil {
		b.WriteString(renderBound(*r.min))
	}
	b.WriteString("..")
	if r.max != nil {
		b.WriteString(renderBound(*r.max))
	}
	return b.String()
}

func renderBound[T Bound](v T) string {
	switch x := any(v).(type) {
	case int64:
		return strconv.FormatInt(x, 10)
	case time.Time:
		return format.YMD(x)
	}
	return ""
}

// ParseIntRange reads "v", "min..max", "min..", "..max" and the comparison
// shorthand ">x", ">=x", "<x", "<=x". Exclusive bounds become inclusive ones.
func ParseIntRange(raw string) (RangeOrValue[int64], bool) {
	return parseRange(raw, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	}, func(v int64, n int) (int64, bool) {
		if (n > 0 && v > math.MaxInt64-int64(n)) || (n < 0 && v < math.MinInt64-int64(n)) {
			return 0, false
		}
		return v + int64(n), true
	})
}

// ParseDateRange is ParseIntRange for YYYY-MM-DD days; exclusive bounds move by one day.
func ParseDateRange(raw string) (RangeOrValue[time.Time], bool) {
	return parseRange(raw, format.ParseYMD, func(v time.Time, n int) (time.Time, bool) {
		return v.AddDate(0, 0, n), true
	})
}

func parseRange[T Bound](raw string, parse func(string) (T, error), step func(T, int) (T, bool)) (RangeOrValue[T], bool) {
	if raw == "" {
		return RangeOrValue[T]{}, false
	}
	switch {
	case strings.HasPrefix(raw, ">="):
		v, err := parse(raw[2:])
		if err != nil {
			return RangeOrValue[T]{}, false
		}
		return AtLeast(v), true
	case strings.HasPrefix(raw, ">"):
		v, err := parse(raw[1:])
		if err != nil {
			return RangeOrValue[T]{}, false
		}
		// no value lies above the largest one
		v, ok := step(v, 1)
		if !ok {
			return RangeOrValue[T]{}, false
		}
		return AtLeast(v), true
	case strings.HasPrefix(raw, "<="):
		v, err := parse(raw[2:])
		if err != nil {
			return RangeOrValue[T]{}, false
		}
		return AtMost(v), true
	case strings.HasPrefix(raw, "<"):
		v, err := parse(raw[1:])
		if err != nil {
			return RangeOrValue[T]{}, false
		}
		v, ok := step(v, -1)
		if !ok {
			return RangeOrValue[T]{}, false
		}
		return AtMost(v), true
	}

	if strings.Contains(raw, "..") {
		parts := strings.Split(raw, "..")
		if len(parts) != 2 {
			return RangeOrValue[T]{}, false
		}
		var min, max *T
		if v, err := parse(parts[0]); err == nil {
			min = &v
		}
		if v, err := parse(parts[1]); err == nil {
			max = &v
		}
		r, err := NewRange(min, max)
		if err != nil {
			return RangeOrValue[T]{}, false
		}
		return r, true
	}

	v, err := parse(raw)
	if err != nil {
		return RangeOrValue[T]{}, false
	}
	return Value(v), true
}
