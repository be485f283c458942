package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"
	gcal "google.golang.org/api/calendar/v3"
)

// MetricFindValue is one template-variable value.
type MetricFindValue struct {
	Text string `json:"text"`
}

// Lookup projects fieldPath out of every event, in the order given.
// fieldPath is a dot path into the event's API JSON, e.g.
// "organizer.displayName", "attendees.0.email" or "attendees[0].email".
// A path that resolves to nothing yields an empty text rather than an error.
func Lookup(events []*gcal.Event, fieldPath string) ([]MetricFindValue, error) {
	expr, err := compileFieldPath(fieldPath)
	if err != nil {
		return nil, fmt.Errorf("invalid field path %q: %w", fieldPath, err)
	}

	values := make([]MetricFindValue, 0, len(events))
	if expr == nil {
		for range events {
			values = append(values, MetricFindValue{})
		}
		return values, nil
	}

	for _, ev := range events {
		doc, err := toDocument(ev)
		if err != nil {
			return nil, err
		}
		v, err := expr.Search(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate field path %q: %w", fieldPath, err)
		}
		text, err := toText(v)
		if err != nil {
			return nil, err
		}
		values = append(values, MetricFindValue{Text: text})
	}
	return values, nil
}

func toDocument(ev *gcal.Event) (any, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return doc, nil
}

func toText(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to format field value: %w", err)
		}
		return string(data), nil
	}
}

// compileFieldPath turns a dot path into a JMESPath expression. Numeric
// segments become indexes and every other segment a quoted identifier, so
// keys such as "team-id" need no escaping. Bracket segments ("[0]",
// `["a.b"]`) are accepted as well. A nil expression means the path has an
// empty segment and matches nothing.
func compileFieldPath(fieldPath string) (*jmespath.JMESPath, error) {
	var (
		b     strings.Builder
		empty bool
	)
	add := func(key string) {
		if key == "" {
			empty = true
			return
		}
		if isIndex(key) {
			b.WriteString("[" + key + "]")
			return
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		quoted, _ := json.Marshal(key)
		b.Write(quoted)
	}

	rest := fieldPath
	for {
		i := strings.IndexAny(rest, ".[")
		if i < 0 {
			add(rest)
			break
		}
		if name := rest[:i]; name != "" || rest[i] == '.' {
			add(name)
		}
		if rest[i] == '.' {
			rest = rest[i+1:]
			continue
		}

		end := strings.IndexByte(rest[i:], ']')
		if end < 0 {
			return nil, errors.New(`unterminated "["`)
		}
		add(unquoteKey(rest[i+1 : i+end]))
		rest = rest[i+end+1:]
		if rest == "" {
			break
		}
		if rest[0] == '.' {
			rest = rest[1:]
		}
	}

	if empty {
		return nil, nil
	}
	return jmespath.Compile(b.String())
}

func isIndex(key string) bool {
	for _, c := range key {
		if c < '0' || c > '9' {
			return false
		}
	}
	return key != ""
}

func unquoteKey(key string) string {
	if len(key) >= 2 && (key[0] == '"' || key[0] == '\'') && key[len(key)-1] == key[0] {
		return key[1 : len(key)-1]
	}
	return key
}
