package ledm

import (
	"errors"
	"strings"
	"testing"
)

func TestValidResolution(t *testing.T) {
	for _, dpi := range Resolutions {
		if !ValidResolution(dpi) {
			t.Errorf("ValidResolution(%d) = false, want true", dpi)
		}
	}
	for _, dpi := range []int{0, -75, 50, 150, 301, 4800} {
		if ValidResolution(dpi) {
			t.Errorf("ValidResolution(%d) = true, want false", dpi)
		}
	}
}

func TestScanRequestValidate(t *testing.T) {
	tests := []struct {
		name      string
		req       ScanRequest
		wantParam string
	}{
		{"ok", ScanRequest{Resolution: 600, Compression: 95}, ""},
		{"ok_min", ScanRequest{Resolution: 75, Compression: 0}, ""},
		{"bad_dpi", ScanRequest{Resolution: 150, Compression: 50}, "resolution"},
		{"compression_high", ScanRequest{Resolution: 300, Compression: 96}, "compression"},
		{"compression_negative", ScanRequest{Resolution: 300, Compression: -1}, "compression"},
		{"both_bad", ScanRequest{Resolution: 1, Compression: -1}, "resolution"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantParam == "" {
				if err != nil {
					t.Errorf("Validate() err = %v", err)
				}
				return
			}
			var pe *ParameterError
			if !errors.As(err, &pe) || pe.Name != tt.wantParam {
				t.Errorf("Validate() err = %v, want ParameterError for %s", err, tt.wantParam)
			}
		})
	}
}

func TestMarshalScanJob(t *testing.T) {
	data, err := MarshalScanJob(ScanRequest{Resolution: 600, Compression: 95})
	if err != nil {
		t.Fatalf("MarshalScanJob: %v", err)
	}
	s := string(data)
	for _, want := range []string{
		`<scan:ScanJob`,
		`xmlns:scan="` + NSScan + `"`,
		`<scan:XResolution>600</scan:XResolution>`,
		`<scan:YResolution>600</scan:YResolution>`,
		`<scan:Width>2550</scan:Width>`,
		`<scan:Height>3508</scan:Height>`,
		`<scan:CompressionQFactor>95</scan:CompressionQFactor>`,
		`<scan:Highlite>179</scan:Highlite>`,
		`<scan:Shadow>25</scan:Shadow>`,
		`<scan:InputSource>Platen</scan:InputSource>`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("payload missing %q\n%s", want, s)
		}
	}

	// The payload must decode with our own decoder.
	m, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode(payload): %v", err)
	}
	if m["Gamma"] != "1000" {
		t.Errorf("Gamma = %q, want 1000", m["Gamma"])
	}
}

func TestMarshalScanJob_GeometryIndependentOfDPI(t *testing.T) {
	for _, dpi := range []int{75, 2400} {
		data, err := MarshalScanJob(ScanRequest{Resolution: dpi})
		if err != nil {
			t.Fatalf("MarshalScanJob(%d): %v", dpi, err)
		}
		m, _ := Decode(data)
		if m["Width"] != "2550" || m["Height"] != "3508" {
			t.Errorf("dpi %d geometry = %sx%s, want 2550x3508", dpi, m["Width"], m["Height"])
		}
	}
}

func TestMarshalScanJob_Invalid(t *testing.T) {
	if _, err := MarshalScanJob(ScanRequest{Resolution: 150}); err == nil {
		t.Error("expected error for invalid resolution")
	}
}
