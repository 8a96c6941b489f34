package metadata

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// NameKey holds a tagged person's name in Person.Fields.
const NameKey = "name"

// Name returns the person's name, or "" when none was recorded.
func (p Person) Name() string {
	for _, f := range p.Fields {
		if f.Key == NameKey {
			return f.Value
		}
	}
	return ""
}

// ParsePair parses "key=value". Surrounding spaces are trimmed and the value
// may be empty or contain further '=' signs.
func ParsePair(s string) (Pair, error) {
	k, v, ok := strings.Cut(s, "=")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return Pair{}, fmt.Errorf("invalid metadata %q: want key=value", s)
	}
	return Pair{Key: k, Value: strings.TrimSpace(v)}, nil
}

// ParsePerson parses "Name@x,y[;key=value...]" where x and y are relative
// positions in [0,1]. The name becomes the first field under NameKey.
func ParsePerson(s string) (Person, error) {
	head, rest, _ := strings.Cut(s, ";")
	name, coords, ok := strings.Cut(head, "@")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return Person{}, fmt.Errorf("invalid person %q: want Name@x,y[;key=value...]", s)
	}
	xs, ys, ok := strings.Cut(coords, ",")
	if !ok {
		return Person{}, fmt.Errorf("invalid person %q: want x,y after @", s)
	}
	x, errX := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err := errors.Join(errX, errY); err != nil {
		return Person{}, fmt.Errorf("invalid person %q: %w", s, err)
	}
	if !inUnit(x) || !inUnit(y) {
		return Person{}, fmt.Errorf("person %q: %w", name, ErrCoordinates)
	}

	p := Person{X: x, Y: y, Fields: []Pair{{Key: NameKey, Value: name}}}
	if rest == "" {
		return p, nil
	}
	for _, field := range strings.Split(rest, ";") {
		if strings.TrimSpace(field) == "" {
			continue
		}
		pair, err := ParsePair(field)
		if err != nil {
			return Person{}, fmt.Errorf("person %q: %w", name, err)
		}
		p.Fields = append(p.Fields, pair)
	}
	return p, nil
}
