package directive

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
)

// shape describes one directive form: its keywords, how many arguments it
// takes without the optional leading calendar id, and how to build it.
type shape struct {
	keywords []string
	arity    int
	build    func(kind Kind, calendarID string, args []string) (Directive, error)
}

// shapes are tried in order; the first whose keyword and argument list match wins.
var shapes = []shape{
	{
		keywords: []string{string(KindEvents)},
		arity:    2,
		build: func(kind Kind, calendarID string, args []string) (Directive, error) {
			return Directive{Kind: kind, CalendarID: calendarID, FieldPath: args[0], Filter: args[1]}, nil
		},
	},
	{
		keywords: []string{string(KindStart), string(KindEnd)},
		arity:    3,
		build:    buildTimed,
	},
	{
		keywords: []string{string(KindRange)},
		arity:    3,
		build:    buildTimed,
	},
}

func buildTimed(kind Kind, calendarID string, args []string) (Directive, error) {
	offset, err := parseOffset(args[1])
	if err != nil {
		return Directive{}, err
	}
	return Directive{Kind: kind, CalendarID: calendarID, Format: args[0], Offset: offset, Filter: args[2]}, nil
}

// Parse parses a variable query. Matching is anchored at the start of text.
func Parse(text string) (Directive, error) {
	for _, sh := range shapes {
		// The leading calendar id is optional; the longer form is tried first.
		for _, n := range []int{sh.arity + 1, sh.arity} {
			s := scanner{src: text}
			kw, ok := s.call(sh.keywords)
			if !ok {
				break
			}
			args, ok := s.args(n)
			if !ok {
				continue
			}

			var calendarID string
			if n > sh.arity {
				calendarID, args = args[0], args[1:]
			}

			d, err := sh.build(Kind(kw), calendarID, args)
			if err != nil {
				var ie *InvalidDirectiveError
				if errors.As(err, &ie) {
					ie.Query = text
				}
				return Directive{}, err
			}
			return d, nil
		}
	}

	return Directive{}, &InvalidDirectiveError{Query: text}
}

// scanner walks a directive left to right.
type scanner struct {
	src string
	pos int
}

// call consumes one of keywords immediately followed by "(".
func (s *scanner) call(keywords []string) (string, bool) {
	rest := s.src[s.pos:]
	for _, kw := range keywords {
		if strings.HasPrefix(rest, kw+"(") {
			s.pos += len(kw) + 1
			return kw, true
		}
	}
	return "", false
}

// args consumes exactly n arguments after "(". All but the last end at a
// comma. The last one ends at the last ")" before the next comma, and
// whatever follows that ")" is left unread.
func (s *scanner) args(n int) ([]string, bool) {
	rest := s.src[s.pos:]
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			rest = strings.TrimLeft(rest, " ")
		}
		// An argument of spaces only is empty once trimmed and is rejected.
		comma := strings.IndexByte(rest, ',')
		if i < n-1 {
			if comma <= 0 {
				return nil, false
			}
			args = append(args, rest[:comma])
			rest = rest[comma+1:]
			continue
		}

		last := rest
		if comma >= 0 {
			last = rest[:comma]
		}
		closing := strings.LastIndex(last, ")")
		if closing <= 0 {
			return nil, false
		}
		args = append(args, last[:closing])
		s.pos = len(s.src) - len(rest) + closing + 1
	}
	return args, true
}

// parseOffset reads a leading base-10 integer, ignoring leading white space
// and anything after the digits.
func parseOffset(arg string) (int, error) {
	v := strings.TrimLeftFunc(arg, unicode.IsSpace)

	end := 0
	if end < len(v) && (v[end] == '+' || v[end] == '-') {
		end++
	}
	digits := end
	for end < len(v) && v[end] >= '0' && v[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, &InvalidDirectiveError{Reason: "offset " + strconv.Quote(arg) + " is not an integer"}
	}

	// Out of range values saturate at the int limits, which select no event.
	n, err := strconv.Atoi(v[:end])
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, &InvalidDirectiveError{Reason: "offset " + strconv.Quote(arg) + ": " + err.Error()}
	}
	return n, nil
}
