// Function and transform library for the targeting expression language.
//
// # Functions (call form)
//
//   - lower(s), upper(s), trim(s): string case/space handling
//   - len(x): length of a string or array
//   - date(s): parses RFC 3339 or YYYY-MM-DD into unix seconds
//   - now(): the evaluation clock in unix seconds
//
// # Transforms (pipe form)
//
//   - 'event_id'|eventSum(days)
//   - 'event_id'|eventCountNonZero(days)
//   - 'event_id'|eventAverage(days)
//   - 'event_id'|eventLastSeen(days)
//   - version|versionCompare(other): -1, 0, or 1
//   - id|bucketSample(start, count, total): deterministic sampling
//
// The event transforms are read-only views over the event store; evaluation
// never records anything.
package jexl

import (
	"fmt"
	"strings"
	"time"

	"github.com/orneryd/skuld/pkg/bucketing"
	"github.com/orneryd/skuld/pkg/events"
)

func (e *evaluator) call(name string, argNodes []Node) (any, error) {
	args, err := e.evalArgs(argNodes)
	if err != nil {
		return nil, err
	}

	switch name {
	case "lower", "upper", "trim":
		if err := arity(name, args, 1); err != nil {
			return nil, err
		}
		s, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		switch name {
		case "lower":
			return strings.ToLower(s), nil
		case "upper":
			return strings.ToUpper(s), nil
		default:
			return strings.TrimSpace(s), nil
		}

	case "len":
		if err := arity(name, args, 1); err != nil {
			return nil, err
		}
		switch v := normalize(args[0]).(type) {
		case string:
			return float64(len(v)), nil
		case []any:
			return float64(len(v)), nil
		}
		return nil, fmt.Errorf("%w: len needs string or array, got %s", ErrEvaluation, typeName(args[0]))

	case "date":
		if err := arity(name, args, 1); err != nil {
			return nil, err
		}
		s, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return float64(t.Unix()), nil
			}
		}
		return nil, fmt.Errorf("%w: unparseable date %q", ErrEvaluation, s)

	case "now":
		if err := arity(name, args, 0); err != nil {
			return nil, err
		}
		now := e.ctx.Now
		if now.IsZero() {
			now = time.Now()
		}
		return float64(now.Unix()), nil
	}
	return nil, fmt.Errorf("%w: unknown function %q", ErrEvaluation, name)
}

func (e *evaluator) transform(name string, subject any, argNodes []Node) (any, error) {
	args, err := e.evalArgs(argNodes)
	if err != nil {
		return nil, err
	}

	switch name {
	case "eventSum":
		return e.eventQuery(subject, args, events.StatisticSum)
	case "eventCountNonZero":
		return e.eventQuery(subject, args, events.StatisticCountNonZero)
	case "eventAverage":
		return e.eventQuery(subject, args, events.StatisticAverage)
	case "eventLastSeen":
		return e.eventQuery(subject, args, events.StatisticLastSeen)

	case "versionCompare":
		if err := arity(name, args, 1); err != nil {
			return nil, err
		}
		mine, err := asString(subject)
		if err != nil {
			return nil, err
		}
		other, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		return float64(compareVersions(mine, other)), nil

	case "bucketSample":
		if err := arity(name, args, 3); err != nil {
			return nil, err
		}
		id, err := asString(subject)
		if err != nil {
			return nil, err
		}
		nums := make([]int, 3)
		for i, arg := range args {
			f, err := asNumber(normalize(arg))
			if err != nil {
				return nil, err
			}
			nums[i] = int(f)
		}
		start, count, total := nums[0], nums[1], nums[2]
		if total <= 0 {
			return nil, fmt.Errorf("%w: bucketSample total must be positive", ErrEvaluation)
		}
		point := bucketing.PointIn(id, "sample", "", total)
		return bucketing.InRange(point, start, count, total), nil
	}
	return nil, fmt.Errorf("%w: unknown transform %q", ErrEvaluation, name)
}

func (e *evaluator) eventQuery(subject any, args []any, stat events.Statistic) (any, error) {
	if e.ctx.Events == nil {
		return nil, fmt.Errorf("%w: event store not available", ErrEvaluation)
	}
	id, err := asString(subject)
	if err != nil {
		return nil, err
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: event transform takes exactly one argument (window days)", ErrEvaluation)
	}
	days, err := asNumber(normalize(args[0]))
	if err != nil {
		return nil, err
	}
	result, err := e.ctx.Events.Query(id, int(days), stat)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}
	return result, nil
}

func (e *evaluator) evalArgs(nodes []Node) ([]any, error) {
	args := make([]any, len(nodes))
	for i, node := range nodes {
		v, err := e.eval(node)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func arity(name string, args []any, want int) error {
	if len(args) != want {
		return fmt.Errorf("%w: %s takes %d argument(s), got %d", ErrEvaluation, name, want, len(args))
	}
	return nil
}

// compareVersions orders dotted version strings. Components compare
// numerically when both sides are numeric, lexically otherwise; missing
// components count as zero, so "100" equals "100.0".
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		av, bv := "0", "0"
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		an, aerr := parseComponent(av)
		bn, berr := parseComponent(bv)
		if aerr == nil && berr == nil {
			if an != bn {
				return compareFloats(float64(an), float64(bn))
			}
			continue
		}
		if cmp := strings.Compare(av, bv); cmp != 0 {
			return cmp
		}
	}
	return 0
}

func parseComponent(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
