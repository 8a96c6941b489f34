package metadata

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeImage(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "scan_20240810_140000.jpg")
	if err := os.WriteFile(path, []byte("jpeg bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPath(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/scans/photo.jpg", "/scans/photo_metadata.yaml"},
		{"photo.tar.png", "photo.tar_metadata.yaml"},
		{"noext", "noext_metadata.yaml"},
	}
	for _, tt := range tests {
		if got := Path(tt.in); got != tt.want {
			t.Errorf("Path(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteRead(t *testing.T) {
	img := writeImage(t, t.TempDir())
	now := time.Date(2024, 8, 10, 14, 0, 0, 0, time.Local)
	pairs := []Pair{
		{"location", "Österhaninge kyrka"},
		{"date_taken", "2019-08-10"},
		{"description", "Brudparet står framför altaret.\nAndra raden."},
	}
	people := []Person{
		{X: 0.25, Y: 0.5, Fields: []Pair{{"förnamn", "Nina"}, {"efternamn", "Eriksson"}}},
		{X: 1, Y: 0},
	}

	path, err := Write(img, pairs, people, now)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if path != Path(img) {
		t.Errorf("path = %q, want %q", path, Path(img))
	}

	sc, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if sc.Image != filepath.Base(img) {
		t.Errorf("Image = %q", sc.Image)
	}
	if sc.Size != int64(len("jpeg bytes")) {
		t.Errorf("Size = %d", sc.Size)
	}
	if !sc.Scanned.Equal(now) {
		t.Errorf("Scanned = %v, want %v", sc.Scanned, now)
	}
	if len(sc.Pairs) != len(pairs) {
		t.Fatalf("pairs = %v", sc.Pairs)
	}
	for i := range pairs {
		if sc.Pairs[i] != pairs[i] {
			t.Errorf("pair %d = %+v, want %+v", i, sc.Pairs[i], pairs[i])
		}
	}
	if len(sc.People) != 2 {
		t.Fatalf("people = %+v", sc.People)
	}
	if sc.People[0].X != 0.25 || sc.People[0].Y != 0.5 {
		t.Errorf("person 1 at (%g, %g)", sc.People[0].X, sc.People[0].Y)
	}
	if len(sc.People[0].Fields) != 2 || sc.People[0].Fields[0].Key != "förnamn" {
		t.Errorf("person 1 fields = %+v", sc.People[0].Fields)
	}
	if sc.People[1].X != 1 || len(sc.People[1].Fields) != 0 {
		t.Errorf("person 2 = %+v", sc.People[1])
	}
}

func TestWrite_KeepsOrder(t *testing.T) {
	img := writeImage(t, t.TempDir())
	pairs := []Pair{{"zeta", "1"}, {"alpha", "2"}, {"mid", "3"}}
	path, err := Write(img, pairs, nil, time.Now())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if !(strings.Index(s, "zeta") < strings.Index(s, "alpha") && strings.Index(s, "alpha") < strings.Index(s, "mid")) {
		t.Errorf("keys out of order:\n%s", s)
	}
	if strings.Contains(s, "people") {
		t.Errorf("empty people list written:\n%s", s)
	}
}

func TestWrite_RotatesExisting(t *testing.T) {
	dir := t.TempDir()
	img := writeImage(t, dir)

	first, err := Write(img, []Pair{{"v", "1"}}, nil, time.Now())
	if err != nil {
		t.Fatalf("first Write: %v", err)
	}
	old := time.Date(2023, 1, 2, 3, 4, 5, 0, time.Local)
	if err := os.Chtimes(first, old, old); err != nil {
		t.Fatal(err)
	}
	if _, err := Write(img, []Pair{{"v", "2"}}, nil, time.Now()); err != nil {
		t.Fatalf("second Write: %v", err)
	}

	rotated := strings.TrimSuffix(first, ".yaml") + "_20230102_030405.yaml"
	sc, err := Read(rotated)
	if err != nil {
		t.Fatalf("read rotated: %v", err)
	}
	if sc.Pairs[0].Value != "1" {
		t.Errorf("rotated value = %q, want 1", sc.Pairs[0].Value)
	}
	cur, err := Read(first)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if cur.Pairs[0].Value != "2" {
		t.Errorf("current value = %q, want 2", cur.Pairs[0].Value)
	}
}

func TestWrite_RejectsBadCoordinates(t *testing.T) {
	img := writeImage(t, t.TempDir())
	for _, p := range []Person{{X: -0.1, Y: 0.5}, {X: 0.5, Y: 1.01}} {
		_, err := Write(img, nil, []Person{p}, time.Now())
		if !errors.Is(err, ErrCoordinates) {
			t.Errorf("Write(%+v) err = %v, want ErrCoordinates", p, err)
		}
	}
	if _, err := os.Stat(Path(img)); !os.IsNotExist(err) {
		t.Error("sidecar written despite invalid input")
	}
}

func TestWrite_MissingImage(t *testing.T) {
	if _, err := Write(filepath.Join(t.TempDir(), "nope.jpg"), nil, nil, time.Now()); err == nil {
		t.Error("expected error for missing image")
	}
}
