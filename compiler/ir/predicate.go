package ir

import "tlog.app/go/errors"

type (
	// Predicate is a condition shared by every level.
	Predicate interface {
		predicate()
	}

	Truth struct {
		Value bool
	}

	Comparison struct {
		Lhs      Source
		Relation Relation
		Rhs      Source
	}

	Negation struct {
		Predicate Predicate
	}
)

func (Truth) predicate()      {}
func (Comparison) predicate() {}
func (Negation) predicate()   {}

// Simplify folds constant comparisons and double negations.
func Simplify(p Predicate) (Predicate, bool) {
	switch p := p.(type) {
	case Comparison:
		l, lok := p.Lhs.(Constant)
		r, rok := p.Rhs.(Constant)

		if lok && rok && p.Relation.Valid() {
			return Truth{Value: p.Relation.Holds(int64(l), int64(r))}, true
		}
	case Negation:
		q, changed := Simplify(p.Predicate)

		switch q := q.(type) {
		case Truth:
			return Truth{Value: !q.Value}, true
		case Negation:
			return q.Predicate, true
		}

		return Negation{Predicate: q}, changed
	}

	return p, false
}

// CheckPredicate reports unknown relations and predicate variants.
func CheckPredicate(p Predicate) error {
	switch p := p.(type) {
	case Comparison:
		if !p.Relation.Valid() {
			return errors.New("unknown relation %q", p.Relation)
		}
	case Negation:
		return CheckPredicate(p.Predicate)
	case Truth:
	default:
		return errors.New("unknown predicate %T", p)
	}

	return nil
}

// Sources lists everything p reads.
func Sources(p Predicate) []Source {
	switch p := p.(type) {
	case Comparison:
		return []Source{p.Lhs, p.Rhs}
	case Negation:
		return Sources(p.Predicate)
	}

	return nil
}

// MapSources rewrites every source p reads.
func MapSources(p Predicate, f func(Source) Source) Predicate {
	switch p := p.(type) {
	case Comparison:
		return Comparison{Lhs: f(p.Lhs), Relation: p.Relation, Rhs: f(p.Rhs)}
	case Negation:
		return Negation{Predicate: MapSources(p.Predicate, f)}
	}

	return p
}

// Evaluate decides p given a way to read sources.
func Evaluate(p Predicate, read func(Source) int64) bool {
	switch p := p.(type) {
	case Truth:
		return p.Value
	case Comparison:
		return p.Relation.Holds(read(p.Lhs), read(p.Rhs))
	case Negation:
		return !Evaluate(p.Predicate, read)
	}

	panic(p)
}
