// Package metadata writes and reads the YAML sidecar stored next to a
// scanned image: free-form key/value pairs describing the photo and the
// people tagged on it.
package metadata

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mzyy94/ledmscan/internal/imaging"
)

// Suffix is appended to the image stem to name its sidecar.
const Suffix = "_metadata"

const timeLayout = "2006-01-02 15:04:05"

// ErrCoordinates is returned for a person placed outside the image.
var ErrCoordinates = errors.New("coordinates must be within [0,1]")

// Pair is one ordered metadata entry.
type Pair struct {
	Key   string
	Value string
}

// Person is someone tagged on the image. X and Y are relative to the image
// size, with 0,0 at the top left.
type Person struct {
	X, Y   float64
	Fields []Pair
}

// Sidecar is the decoded content of a sidecar file.
type Sidecar struct {
	Image   string
	Scanned time.Time
	Size    int64
	Pairs   []Pair
	People  []Person
}

type document struct {
	Image    string      `yaml:"image"`
	Scanned  string      `yaml:"scanned"`
	Size     int64       `yaml:"size"`
	Metadata *yaml.Node  `yaml:"metadata"`
	People   []personDoc `yaml:"people,omitempty"`
}

type personDoc struct {
	X      *yaml.Node `yaml:"x"`
	Y      *yaml.Node `yaml:"y"`
	Fields *yaml.Node `yaml:"fields"`
}

// Path returns the sidecar path for imagePath.
func Path(imagePath string) string {
	ext := filepath.Ext(imagePath)
	return strings.TrimSuffix(imagePath, ext) + Suffix + ".yaml"
}

// Write stores pairs and people in the sidecar of imagePath and returns its
// path. An existing sidecar is kept under a name carrying its modification
// time.
func Write(imagePath string, pairs []Pair, people []Person, now time.Time) (string, error) {
	info, err := os.Stat(imagePath)
	if err != nil {
		return "", fmt.Errorf("stat image: %w", err)
	}
	if err := validate(pairs, people); err != nil {
		return "", err
	}

	doc := document{
		Image:    filepath.Base(imagePath),
		Scanned:  now.Format(timeLayout),
		Size:     info.Size(),
		Metadata: mappingNode(pairs),
	}
	for _, p := range people {
		doc.People = append(doc.People, personDoc{
			X:      floatNode(p.X),
			Y:      floatNode(p.Y),
			Fields: mappingNode(p.Fields),
		})
	}

	path := Path(imagePath)
	if err := rotate(path); err != nil {
		return "", err
	}
	err = imaging.WriteFileAtomic(path, func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(&doc); err != nil {
			return err
		}
		return enc.Close()
	})
	if err != nil {
		return "", fmt.Errorf("write metadata: %w", err)
	}
	slog.Info("metadata saved", "path", path, "pairs", len(pairs), "people", len(people))
	return path, nil
}

// Read loads a sidecar file.
func Read(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", path, err)
	}

	sc := &Sidecar{Image: doc.Image, Size: doc.Size}
	if doc.Scanned != "" {
		t, err := time.ParseInLocation(timeLayout, doc.Scanned, time.Local)
		if err != nil {
			return nil, fmt.Errorf("parse scanned time: %w", err)
		}
		sc.Scanned = t
	}
	if sc.Pairs, err = pairsFromNode(doc.Metadata); err != nil {
		return nil, err
	}
	for i, p := range doc.People {
		var person Person
		if person.X, err = floatFromNode(p.X); err != nil {
			return nil, fmt.Errorf("person %d: %w", i+1, err)
		}
		if person.Y, err = floatFromNode(p.Y); err != nil {
			return nil, fmt.Errorf("person %d: %w", i+1, err)
		}
		if person.Fields, err = pairsFromNode(p.Fields); err != nil {
			return nil, fmt.Errorf("person %d: %w", i+1, err)
		}
		sc.People = append(sc.People, person)
	}
	return sc, nil
}

func validate(pairs []Pair, people []Person) error {
	for _, p := range pairs {
		if strings.TrimSpace(p.Key) == "" {
			return errors.New("metadata key must not be empty")
		}
	}
	for i, p := range people {
		if !inUnit(p.X) || !inUnit(p.Y) {
			return fmt.Errorf("person %d at (%g, %g): %w", i+1, p.X, p.Y, ErrCoordinates)
		}
		for _, f := range p.Fields {
			if strings.TrimSpace(f.Key) == "" {
				return fmt.Errorf("person %d: field key must not be empty", i+1)
			}
		}
	}
	return nil
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// rotate moves an existing sidecar aside, named after its modification time.
func rotate(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	base := strings.TrimSuffix(path, ".yaml") + "_" + info.ModTime().Format("20060102_150405")
	target := base + ".yaml"
	for n := 1; ; n++ {
		if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
			break
		}
		target = fmt.Sprintf("%s_%d.yaml", base, n)
	}
	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("rotate metadata: %w", err)
	}
	slog.Debug("previous metadata kept", "path", target)
	return nil
}

func mappingNode(pairs []Pair) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, p := range pairs {
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p.Key},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p.Value},
		)
	}
	return n
}

func floatNode(v float64) *yaml.Node {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: s}
}

func pairsFromNode(n *yaml.Node) ([]Pair, error) {
	if n == nil || n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping", n.Line)
	}
	pairs := make([]Pair, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		pairs = append(pairs, Pair{Key: n.Content[i].Value, Value: n.Content[i+1].Value})
	}
	return pairs, nil
}

func floatFromNode(n *yaml.Node) (float64, error) {
	if n == nil {
		return 0, errors.New("missing coordinate")
	}
	var v float64
	if err := n.Decode(&v); err != nil {
		return 0, fmt.Errorf("line %d: %w", n.Line, err)
	}
	return v, nil
}
