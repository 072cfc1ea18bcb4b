package exprlang

// ToDNF rewrites e into disjunctive normal form: an Or of Ands of atomic
// terms (Cmp, SetRef, PortGroupRef, MulticastRef, ChassisResident, or a
// Not thereof). This is step 6 of the compile pipeline (spec.md section
// 4.3): "normalize to a set of conjunctions over atomic field
// predicates". The result's top-level Terms are the conjunctive clauses;
// a single-clause result is still wrapped in *Or for a uniform caller
// contract.
func ToDNF(e Expr) *Or {
	return &Or{Terms: distribute(e)}
}

// distribute returns the list of conjunctive clauses (each itself an
// Expr, typically *And or an atom) whose disjunction is equivalent to e.
func distribute(e Expr) []Expr {
	switch n := e.(type) {
	case *Or:
		var out []Expr
		for _, t := range n.Terms {
			out = append(out, distribute(t)...)
		}
		return out

	case *And:
		clauses := []Expr{nil}
		for _, t := range n.Terms {
			sub := distribute(t)
			var next []Expr
			for _, c := range clauses {
				for _, s := range sub {
					next = append(next, mergeAnd(c, s))
				}
			}
			clauses = next
		}
		return clauses

	case *Not:
		// A Not is kept whole as one term. De Morgan expansion is not
		// applied, so the Not(And)/Not(Or) the parser builds for "!"
		// before a parenthesized group stays a single opaque atom.
		return []Expr{n}

	default:
		return []Expr{e}
	}
}

// mergeAnd combines two clauses (either may be nil, an atom, or *And)
// into a single flattened *And, or the lone non-nil atom if the other
// is empty.
func mergeAnd(a, b Expr) Expr {
	var terms []Expr
	switch x := a.(type) {
	case nil:
	case *And:
		terms = append(terms, x.Terms...)
	default:
		terms = append(terms, x)
	}
	switch x := b.(type) {
	case nil:
	case *And:
		terms = append(terms, x.Terms...)
	default:
		terms = append(terms, x)
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return &And{Terms: terms}
}

// Clauses returns dnf's top-level conjunctive clauses, each normalized
// to an *And (a lone-term clause is wrapped for a uniform caller
// contract; callers that need the atoms directly should type-switch the
// element).
func Clauses(dnf *Or) []*And {
	out := make([]*And, 0, len(dnf.Terms))
	for _, t := range dnf.Terms {
		if a, ok := t.(*And); ok {
			out = append(out, a)
			continue
		}
		out = append(out, &And{Terms: []Expr{t}})
	}
	return out
}
