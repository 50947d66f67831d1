package telemetry

import (
	"math"
	"time"
	"unicode/utf8"
)

const (
	// DefaultMaxStringLength is the maximum length of a string value, in code points.
	DefaultMaxStringLength = 50
	// DefaultMaxStringListLength is the maximum number of items in a string list.
	DefaultMaxStringListLength = 20
	// maxCounterValue is where counters saturate.
	maxCounterValue = math.MaxInt32
)

type limits struct {
	maxStringLength     int
	maxStringListLength int
}

// mergeOp is how a validated value combines with what is already stored.
type mergeOp uint8

const (
	mergeReplace mergeOp = iota // last write wins
	mergeAdd                    // counters: saturating sum
	mergeAppend                 // string lists: append up to the item limit
	mergeKeep                   // keep an existing value of the same kind
)

// defaultOp is the merge used by the generic Record entry point.
func defaultOp(typ MetricType, raw any) mergeOp {
	switch typ {
	case MetricTypeCounter:
		return mergeAdd
	case MetricTypeStringList:
		if _, ok := raw.(string); ok {
			return mergeAppend
		}
	}
	return mergeReplace
}

// validate converts a raw recorded value into a stored Value. It never panics.
// The returned error types are recorded as diagnostics; ok=false means the write
// is dropped.
func validate(typ MetricType, raw any, lim limits) (Value, []ErrorType, bool) {
	switch typ {
	case MetricTypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, []ErrorType{ErrorTypeInvalidType}, false
		}
		v, errs, ok := validateString(s, lim.maxStringLength)
		if !ok {
			return nil, errs, false
		}
		return StringValue(v), errs, true

	case MetricTypeStringList:
		switch v := raw.(type) {
		case string:
			s, errs, ok := validateString(v, lim.maxStringLength)
			if !ok {
				return nil, errs, false
			}
			return StringListValue{s}, errs, true
		case []string:
			return validateStringList(v, lim)
		default:
			return nil, []ErrorType{ErrorTypeInvalidType}, false
		}

	case MetricTypeCounter:
		n, ok := asInt64(raw)
		if !ok {
			return nil, []ErrorType{ErrorTypeInvalidType}, false
		}
		if n <= 0 {
			return nil, []ErrorType{ErrorTypeInvalidValue}, false
		}
		if n > maxCounterValue {
			n = maxCounterValue
		}
		return CounterValue(n), nil, true

	case MetricTypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, []ErrorType{ErrorTypeInvalidType}, false
		}
		return BooleanValue(b), nil, true

	case MetricTypeTimespan:
		d, ok := raw.(time.Duration)
		if !ok {
			return nil, []ErrorType{ErrorTypeInvalidType}, false
		}
		if d < 0 {
			return nil, []ErrorType{ErrorTypeInvalidValue}, false
		}
		return TimespanValue{Duration: d}, nil, true
	}
	return nil, []ErrorType{ErrorTypeInvalidType}, false
}

// validateString rejects invalid UTF-8 and truncates to limit code points.
func validateString(s string, limit int) (string, []ErrorType, bool) {
	if !utf8.ValidString(s) {
		return "", []ErrorType{ErrorTypeInvalidValue}, false
	}
	if t, truncated := truncateString(s, limit); truncated {
		return t, []ErrorType{ErrorTypeInvalidOverflow}, true
	}
	return s, nil, true
}

// truncateString cuts s to its first limit code points.
func truncateString(s string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i], true
		}
		n++
	}
	return s, false
}

func validateStringList(items []string, lim limits) (Value, []ErrorType, bool) {
	var errs []ErrorType
	if lim.maxStringListLength > 0 && len(items) > lim.maxStringListLength {
		items = items[:lim.maxStringListLength]
		errs = append(errs, ErrorTypeInvalidValue)
	}
	out := make(StringListValue, 0, len(items))
	for _, item := range items {
		s, itemErrs, ok := validateString(item, lim.maxStringLength)
		errs = append(errs, itemErrs...)
		if !ok {
			continue
		}
		out = append(out, s)
	}
	return out, errs, true
}

func asInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case CounterValue:
		return int64(v), true
	}
	return 0, false
}

// merge combines a validated value with the currently stored one. It runs on
// the dispatcher and may report further diagnostics (list overflow).
func merge(old Value, exists bool, v Value, op mergeOp, lim limits) (Value, []ErrorType) {
	switch op {
	case mergeAdd:
		cur, _ := old.(CounterValue)
		if !exists {
			cur = 0
		}
		sum := int64(cur) + int64(v.(CounterValue))
		if sum > maxCounterValue {
			sum = maxCounterValue
		}
		return CounterValue(sum), nil

	case mergeAppend:
		cur, _ := old.(StringListValue)
		add := v.(StringListValue)
		out := make(StringListValue, 0, len(cur)+len(add))
		out = append(out, cur...)
		var errs []ErrorType
		for _, s := range add {
			if lim.maxStringListLength > 0 && len(out) >= lim.maxStringListLength {
				errs = append(errs, ErrorTypeInvalidValue)
				break
			}
			out = append(out, s)
		}
		return out, errs

	case mergeKeep:
		if exists && old.Type() == v.Type() {
			return old, nil
		}
	}
	return v, nil
}
