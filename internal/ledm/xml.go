package ledm

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DecodeError indicates a syntactically invalid XML response.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode xml: %v", e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// Element is a namespace-stripped XML element.
type Element struct {
	Name     string
	Text     string
	Children []*Element
}

// Fields flattens the direct children of e into localName → text.
func (e *Element) Fields() map[string]string {
	m := make(map[string]string, len(e.Children))
	for _, c := range e.Children {
		if _, ok := m[c.Name]; !ok {
			m[c.Name] = c.Text
		}
	}
	return m
}

// Find returns the first descendant (depth-first, document order) with the
// given local name.
func (e *Element) Find(name string) *Element {
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
		if f := c.Find(name); f != nil {
			return f
		}
	}
	return nil
}

func (e *Element) walk(fn func(*Element)) {
	fn(e)
	for _, c := range e.Children {
		c.walk(fn)
	}
}

// LocalName strips the namespace from a tag in Clark notation ("{ns}Name")
// or prefixed notation ("ns:Name").
func LocalName(tag string) string {
	if i := strings.LastIndexByte(tag, '}'); i >= 0 {
		return tag[i+1:]
	}
	if i := strings.LastIndexByte(tag, ':'); i >= 0 {
		return tag[i+1:]
	}
	return tag
}

// ParseTree parses data into an element tree. An empty document yields a nil
// element and no error.
func ParseTree(data []byte) (*Element, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true

	var (
		root  *Element
		stack []*Element
		text  []*strings.Builder
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &DecodeError{Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Name: LocalName(t.Name.Local)}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			} else if root == nil {
				root = el
			}
			stack = append(stack, el)
			text = append(text, &strings.Builder{})
		case xml.EndElement:
			n := len(stack) - 1
			stack[n].Text = strings.TrimSpace(text[n].String())
			stack = stack[:n]
			text = text[:n]
		case xml.CharData:
			if len(text) > 0 {
				text[len(text)-1].Write(t)
			}
		}
	}
	if root == nil {
		return nil, &DecodeError{Err: errors.New("no root element")}
	}
	return root, nil
}

// Decode flattens every element of the document into localName → text.
// The first occurrence of a name wins. Unknown roots yield whatever fields
// they carry, possibly none.
func Decode(data []byte) (map[string]string, error) {
	root, err := ParseTree(data)
	if err != nil {
		return nil, err
	}
	m := map[string]string{}
	if root == nil {
		return m, nil
	}
	root.walk(func(e *Element) {
		if _, ok := m[e.Name]; !ok {
			m[e.Name] = e.Text
		}
	})
	return m, nil
}
