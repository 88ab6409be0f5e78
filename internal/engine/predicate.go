package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Predicate evaluates whether a finding's args map satisfies a condition.
type Predicate func(args map[string]any) (bool, error)

// CompilePredicates parses where-clauses into executable predicates.
// Word operators: in, not in, contains, startswith, endswith.
// Comparisons: ==, !=, >, <, >=, <=. A field wrapped in len() compares its
// rune count. Examples:
//
//	"symbol in USDC,USDT,DAI"
//	"name contains Wrapped"
//	"len(symbol) <= 5"
//	"height > 19_000_000"
func CompilePredicates(exprs []string) ([]Predicate, error) {
	var preds []Predicate
	for _, raw := range exprs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		p, err := compile(raw)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// Order matters: "not in" must be tried before "in".
var wordOps = []struct {
	word  string
	match func(val, arg string) bool
}{
	{" not in ", func(val, list string) bool { return !inList(val, list) }},
	{" in ", inList},
	{" contains ", strings.Contains},
	{" startswith ", strings.HasPrefix},
	{" endswith ", strings.HasSuffix},
}

var compareOps = []string{"==", "!=", ">=", "<=", ">", "<"}

func compile(expr string) (Predicate, error) {
	for _, op := range wordOps {
		lhs, rhs, found := strings.Cut(expr, op.word)
		if !found {
			continue
		}
		field := strings.TrimSpace(lhs)
		arg := strings.TrimSpace(rhs)
		if field == "" || arg == "" {
			return nil, fmt.Errorf("invalid%sexpression: %s", op.word, expr)
		}
		match := op.match
		return func(args map[string]any) (bool, error) {
			val, ok := args[field]
			if !ok {
				return false, nil
			}
			return match(fmt.Sprint(val), arg), nil
		}, nil
	}

	var op string
	for _, candidate := range compareOps {
		if strings.Contains(expr, candidate) {
			op = candidate
			break
		}
	}
	if op == "" {
		return nil, fmt.Errorf("unsupported expression: %s", expr)
	}

	lhs, rhs, _ := strings.Cut(expr, op)
	field := strings.TrimSpace(lhs)
	rhsRaw := strings.TrimSpace(rhs)
	if field == "" || rhsRaw == "" {
		return nil, fmt.Errorf("invalid expression: %s", expr)
	}

	lookup := fieldValue(field)
	numRHS, rhsIsNum := evaluateNumber(rhsRaw)

	return func(args map[string]any) (bool, error) {
		val, ok := lookup(args)
		if !ok {
			return false, nil
		}

		if rhsIsNum {
			lhs, ok := toNumber(val)
			if !ok {
				return false, nil
			}
			return compareNumbers(op, lhs, numRHS), nil
		}

		lhs := fmt.Sprint(val)
		switch op {
		case "==":
			return lhs == rhsRaw, nil
		case "!=":
			return lhs != rhsRaw, nil
		default:
			return false, fmt.Errorf("operator %s needs a numeric right-hand side: %s", op, expr)
		}
	}, nil
}

// fieldValue resolves a plain field name or len(field).
func fieldValue(field string) func(map[string]any) (any, bool) {
	if inner, ok := strings.CutPrefix(field, "len("); ok && strings.HasSuffix(inner, ")") {
		name := strings.TrimSpace(strings.TrimSuffix(inner, ")"))
		return func(args map[string]any) (any, bool) {
			v, ok := args[name]
			if !ok {
				return nil, false
			}
			return utf8.RuneCountInString(fmt.Sprint(v)), true
		}
	}
	return func(args map[string]any) (any, bool) {
		v, ok := args[field]
		return v, ok
	}
}

func inList(val, list string) bool {
	for _, item := range strings.Split(list, ",") {
		if strings.TrimSpace(item) == val {
			return true
		}
	}
	return false
}

func compareNumbers(op string, lhs, rhs float64) bool {
	switch op {
	case "==":
		return lhs == rhs
	case "!=":
		return lhs != rhs
	case ">":
		return lhs > rhs
	case "<":
		return lhs < rhs
	case ">=":
		return lhs >= rhs
	case "<=":
		return lhs <= rhs
	}
	return false
}

// evaluateNumber accepts "100", "1e6", "1_000_000" and one product "2 * 1e3".
func evaluateNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if a, b, found := strings.Cut(s, "*"); found {
		x, ok1 := evaluateNumber(a)
		y, ok2 := evaluateNumber(b)
		if !ok1 || !ok2 {
			return 0, false
		}
		return x * y, true
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case uint:
		return float64(n), true
	case string:
		return evaluateNumber(n)
	default:
		return 0, false
	}
}

// TokenBucket limits how many findings a rule emits. It is not safe for concurrent use.
type TokenBucket struct {
	capacity float64
	rate     float64 // tokens per second

	tokens     float64
	lastUpdate time.Time
}

// NewTokenBucket creates a full bucket with capacity and refill rate.
func NewTokenBucket(capacity, rate float64) *TokenBucket {
	return &TokenBucket{
		capacity: capacity,
		rate:     rate,
		tokens:   capacity,
	}
}

// Allow consumes one token if available, refilling based on elapsed time.
func (b *TokenBucket) Allow(now time.Time) bool {
	if b.lastUpdate.IsZero() {
		b.lastUpdate = now
	}
	if elapsed := now.Sub(b.lastUpdate).Seconds(); elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.rate)
		b.lastUpdate = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
