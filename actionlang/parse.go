package actionlang

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/sdnforge/lpft/exprlang"
)

// Parse parses an action-string into a Buffer plus the prerequisites
// expression those actions impose on the owning flow's match (spec.md
// section 4.4 step 2, "conjoin prerequisites").
func Parse(src string) (*Buffer, exprlang.Expr, error) {
	p := &actionParser{r: bufio.NewReader(strings.NewReader(src))}
	buf := &Buffer{}
	var prereqs []exprlang.Expr

	for {
		stmt, err := p.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if stmt == "" {
			continue
		}

		a, pr, err := parseStatement(stmt)
		if err != nil {
			return nil, nil, fmt.Errorf("actionlang: %w", err)
		}
		buf.Actions = append(buf.Actions, a)
		if pr != nil {
			prereqs = append(prereqs, pr)
		}
		if _, ok := a.(Conjunction); ok {
			buf.ConjIDPlaceholders++
		}
	}

	if len(prereqs) == 0 {
		return buf, nil, nil
	}
	if len(prereqs) == 1 {
		return buf, prereqs[0], nil
	}
	return buf, &exprlang.And{Terms: prereqs}, nil
}

// actionParser splits a ';'-separated action string into statements,
// tracking parenthesis depth the same way ovs/actionparser.go's stack
// does for ','-separated OVS actions.
type actionParser struct {
	r *bufio.Reader
	s int // open-paren depth
}

func (p *actionParser) next() (string, error) {
	var buf bytes.Buffer

	for {
		ch, _, err := p.r.ReadRune()
		if err != nil {
			if buf.Len() == 0 {
				return "", io.EOF
			}
			return strings.TrimSpace(buf.String()), nil
		}

		if ch == ';' && p.s == 0 {
			return strings.TrimSpace(buf.String()), nil
		}

		switch ch {
		case '(':
			p.s++
		case ')':
			if p.s > 0 {
				p.s--
			}
		}

		_, _ = buf.WriteRune(ch)
	}
}

var (
	resubmitRe    = regexp.MustCompile(`^resubmit\((\d+)\)$`)
	conjunctionRe = regexp.MustCompile(`^conjunction\((\d+),(\d+)/(\d+)\)$`)
	loadRe        = regexp.MustCompile(`^load:(\S+)->(\S+)$`)
	moveRe        = regexp.MustCompile(`^move:(\S+)->(\S+)$`)
	setFieldRe    = regexp.MustCompile(`^set_field:(\S+)->(\S+)$`)
	ctNextRe      = regexp.MustCompile(`^ct\(next(?:\(([^)]*)\))?\)$`)
	ctLBNatRe     = regexp.MustCompile(`^ct\(commit,nat\(dst=(\S+)\)\)$`)
	setMeterRe    = regexp.MustCompile(`^set_meter\((\S+)\)$`)
)

// parseStatement parses a single ';'-delimited action statement, also
// returning the match prerequisite it imposes, if any.
func parseStatement(s string) (Action, exprlang.Expr, error) {
	switch strings.TrimSpace(s) {
	case "next":
		return Next{}, nil, nil
	case "drop":
		return Drop{}, nil, nil
	case "output":
		return Output{}, nil, nil
	case "ct_commit":
		return CTCommit{}, &exprlang.Cmp{Field: "ip_proto_family", Op: exprlang.OpNeq, Value: "0"}, nil
	}

	if ss := resubmitRe.FindStringSubmatch(s); ss != nil {
		n, err := strconv.Atoi(ss[1])
		if err != nil {
			return nil, nil, err
		}
		return Resubmit{Table: uint8(n)}, nil, nil
	}

	if ss := conjunctionRe.FindStringSubmatch(s); ss != nil {
		id, err := strconv.Atoi(ss[1])
		if err != nil {
			return nil, nil, err
		}
		k, err := strconv.Atoi(ss[2])
		if err != nil {
			return nil, nil, err
		}
		n, err := strconv.Atoi(ss[3])
		if err != nil {
			return nil, nil, err
		}
		return Conjunction{ID: uint32(id), Clause: k, NumClauses: n}, nil, nil
	}

	if ss := loadRe.FindStringSubmatch(s); ss != nil {
		return Load{Value: ss[1], Dst: ss[2]}, nil, nil
	}

	if ss := moveRe.FindStringSubmatch(s); ss != nil {
		return Move{Src: ss[1], Dst: ss[2]}, nil, nil
	}

	if ss := setFieldRe.FindStringSubmatch(s); ss != nil {
		return SetField{Value: ss[1], Dst: ss[2]}, nil, nil
	}

	if ss := ctNextRe.FindStringSubmatch(s); ss != nil {
		// ct_next forces the match to already pin an IP ethertype,
		// since the connection tracker has no meaning otherwise.
		return CTNext{Zone: ss[1]}, &exprlang.Cmp{Field: "ip_proto_family", Op: exprlang.OpNeq, Value: "0"}, nil
	}

	if ss := ctLBNatRe.FindStringSubmatch(s); ss != nil {
		return CTLBNat{Target: ss[1]}, &exprlang.Cmp{Field: "ip_proto_family", Op: exprlang.OpNeq, Value: "0"}, nil
	}

	if ss := setMeterRe.FindStringSubmatch(s); ss != nil {
		return SetMeter{Name: ss[1]}, nil, nil
	}

	if strings.HasPrefix(s, "learn(") && strings.HasSuffix(s, ")") {
		inner := strings.TrimSuffix(strings.TrimPrefix(s, "learn("), ")")
		parts := strings.Split(inner, ",")
		if len(parts) == 0 {
			return nil, nil, fmt.Errorf("invalid learn action: %q", s)
		}
		return Learn{Table: parts[0], Specs: parts[1:]}, nil, nil
	}

	return nil, nil, fmt.Errorf("no action matched for %q", s)
}
