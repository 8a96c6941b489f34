package scanner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/OpenPrinting/go-mfp/abstract"

	"github.com/mzyy94/ledmscan/internal/ledm"
)

func newTestAdapter(t *testing.T, dev *fakeDevice, opts ESCLOptions) *ESCLAdapter {
	t.Helper()
	sc, _ := newTestScanner(t, dev)
	return NewESCLAdapter(sc, opts)
}

// --------------------------------------------------------------------------
// Capabilities
// --------------------------------------------------------------------------

func TestBuildCapabilities_PlatenOnly(t *testing.T) {
	a := newTestAdapter(t, newFakeDevice(t), ESCLOptions{Name: "HP ENVY 6000"})
	caps := a.Capabilities()

	if caps.Platen == nil {
		t.Fatal("Platen should be set")
	}
	if caps.ADFSimplex != nil || caps.ADFDuplex != nil {
		t.Error("ADF capabilities should not be advertised")
	}
	if caps.MakeAndModel != "HP ENVY 6000" {
		t.Errorf("MakeAndModel = %q", caps.MakeAndModel)
	}
	if caps.Manufacturer != defaultManufacturer {
		t.Errorf("Manufacturer = %q, want %q", caps.Manufacturer, defaultManufacturer)
	}
	if caps.Platen.MaxWidth != esclMaxWidth || caps.Platen.MaxHeight != esclMaxHeight {
		t.Errorf("platen = %dx%d, want %dx%d", caps.Platen.MaxWidth, caps.Platen.MaxHeight, esclMaxWidth, esclMaxHeight)
	}
}

func TestBuildCapabilities_DefaultsToHost(t *testing.T) {
	a := newTestAdapter(t, newFakeDevice(t), ESCLOptions{})
	caps := a.Capabilities()
	if caps.MakeAndModel != a.scanner.Host() {
		t.Errorf("MakeAndModel = %q, want host %q", caps.MakeAndModel, a.scanner.Host())
	}
	if caps.SerialNumber != a.scanner.Host() {
		t.Errorf("SerialNumber = %q", caps.SerialNumber)
	}
}

func TestBuildCapabilities_StableUUID(t *testing.T) {
	dev := newFakeDevice(t)
	sc, _ := newTestScanner(t, dev)
	a := NewESCLAdapter(sc, ESCLOptions{})
	b := NewESCLAdapter(sc, ESCLOptions{Name: "other"})
	if a.Capabilities().UUID != b.Capabilities().UUID {
		t.Error("UUID should depend on the device host only")
	}
}

func TestBuildCapabilities_Resolutions(t *testing.T) {
	a := newTestAdapter(t, newFakeDevice(t), ESCLOptions{})
	profiles := a.Capabilities().Platen.Profiles
	if len(profiles) != 1 {
		t.Fatalf("profiles = %d, want 1", len(profiles))
	}
	res := profiles[0].Resolutions
	want := []int{75, 100, 200, 300, 600, 1200}
	if len(res) != len(want) {
		t.Fatalf("resolutions = %v, want %v", res, want)
	}
	for i, r := range res {
		if r.XResolution != want[i] || r.YResolution != want[i] {
			t.Errorf("resolution[%d] = %dx%d, want %d", i, r.XResolution, r.YResolution, want[i])
		}
	}
}

func TestBuildCapabilities_Formats(t *testing.T) {
	a := newTestAdapter(t, newFakeDevice(t), ESCLOptions{})
	formats := a.Capabilities().DocumentFormats
	want := map[string]bool{"image/jpeg": true, "application/pdf": true}
	if len(formats) != len(want) {
		t.Fatalf("formats = %v", formats)
	}
	for _, f := range formats {
		if !want[f] {
			t.Errorf("unexpected format %q", f)
		}
	}
}

// --------------------------------------------------------------------------
// Request mapping
// --------------------------------------------------------------------------

func TestPageRequest(t *testing.T) {
	a := newTestAdapter(t, newFakeDevice(t), ESCLOptions{Compression: 40})
	tests := []struct {
		name string
		dpi  int
		want int
	}{
		{"supported", 600, 600},
		{"unsupported", 150, esclDefaultDPI},
		{"unset", 0, esclDefaultDPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pr := a.pageRequest(abstract.ScannerRequest{
				Resolution: abstract.Resolution{XResolution: tt.dpi, YResolution: tt.dpi},
			})
			if pr.Resolution != tt.want {
				t.Errorf("Resolution = %d, want %d", pr.Resolution, tt.want)
			}
			if pr.Compression != 40 {
				t.Errorf("Compression = %d, want 40", pr.Compression)
			}
		})
	}
}

// --------------------------------------------------------------------------
// Scan
// --------------------------------------------------------------------------

func TestESCLScan_JPEG(t *testing.T) {
	dev := newFakeDevice(t)
	a := newTestAdapter(t, dev, ESCLOptions{Compression: 25})

	doc, err := a.scan(context.Background(), PageRequest{Resolution: 300, Compression: 25}, "image/jpeg")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	defer doc.Close()

	if r := doc.Resolution(); r.XResolution != 300 {
		t.Errorf("Resolution = %d, want 300", r.XResolution)
	}
	f, err := doc.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Format() != "image/jpeg" {
		t.Errorf("Format = %q", f.Format())
	}
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read page: %v", err)
	}
	if !bytes.Equal(data, dev.page) {
		t.Error("page differs from device page")
	}
	if _, err := doc.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("second Next err = %v, want io.EOF", err)
	}
}

func TestESCLScan_DeviceFailure(t *testing.T) {
	dev := newFakeDevice(t)
	dev.statuses = []string{statusMissing}
	a := newTestAdapter(t, dev, ESCLOptions{Compression: 25})

	_, err := a.scan(context.Background(), PageRequest{Resolution: 300, Compression: 25}, "")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestESCLScan_SharesJobSlotWithWorker(t *testing.T) {
	dev := newFakeDevice(t)
	dev.jobStates = []string{string(ledm.JobProcessing)}
	dev.gate = make(chan struct{})
	a := newTestAdapter(t, dev, ESCLOptions{Compression: 25})

	w := NewWorker(a.scanner, nil)
	done, err := w.Start(context.Background(), JobOptions{
		PageRequest: PageRequest{Resolution: 300, Compression: 25},
		OutputDir:   t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	bridged := make(chan error, 1)
	go func() {
		doc, err := a.scan(context.Background(), PageRequest{Resolution: 300, Compression: 25}, "image/jpeg")
		if err == nil {
			doc.Close()
		}
		bridged <- err
	}()

	close(dev.gate)
	if out := <-done; out.Err != nil {
		t.Fatalf("worker scan: %v", out.Err)
	}
	if err := <-bridged; err != nil {
		t.Fatalf("bridged scan: %v", err)
	}
	w.Wait()

	if n := dev.count("POST " + ledm.PathScanJobs); n != 2 {
		t.Errorf("POST count = %d, want 2", n)
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.maxOutstanding != 1 {
		t.Errorf("max outstanding jobs = %d, want 1", dev.maxOutstanding)
	}
}

func TestScanPage_CancelledWhileQueued(t *testing.T) {
	dev := newFakeDevice(t)
	sc, _ := newTestScanner(t, dev)
	if err := sc.acquireJob(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sc.releaseJob()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := sc.ScanPage(ctx, PageRequest{Resolution: 300, Compression: 25}, io.Discard)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := dev.count("GET " + ledm.PathScanStatus); n != 0 {
		t.Errorf("status requests = %d, want 0", n)
	}
}

func TestPageDocument_SinglePage(t *testing.T) {
	doc := &pageDocument{
		res:  abstract.Resolution{XResolution: 200, YResolution: 200},
		page: []byte("page"),
	}
	f, err := doc.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	b, _ := io.ReadAll(f)
	if string(b) != "page" {
		t.Errorf("page = %q", b)
	}
	if _, err := doc.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("second Next err = %v, want io.EOF", err)
	}
}
