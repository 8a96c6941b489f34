package ledm

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"slices"
)

// ScanRequest holds the caller-selected parameters of a scan job. Geometry,
// color and tone map are fixed.
type ScanRequest struct {
	Resolution  int // DPI, one of Resolutions
	Compression int // 0 (none) to 95 (maximum)
}

// ValidResolution reports whether dpi is accepted by the device.
func ValidResolution(dpi int) bool {
	return slices.Contains(Resolutions, dpi)
}

// ParameterError names a scan parameter outside the device's accepted range.
type ParameterError struct {
	Name   string
	Value  int
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("%s %d %s", e.Name, e.Value, e.Reason)
}

// Validate checks the request against the device's accepted ranges and
// returns a *ParameterError for the first value out of range.
func (r ScanRequest) Validate() error {
	if !ValidResolution(r.Resolution) {
		return &ParameterError{Name: "resolution", Value: r.Resolution, Reason: fmt.Sprintf("must be one of %v", Resolutions)}
	}
	if r.Compression < MinCompression || r.Compression > MaxCompression {
		return &ParameterError{Name: "compression", Value: r.Compression, Reason: fmt.Sprintf("must be between %d and %d", MinCompression, MaxCompression)}
	}
	return nil
}

type toneMap struct {
	Gamma      int `xml:"scan:Gamma"`
	Brightness int `xml:"scan:Brightness"`
	Contrast   int `xml:"scan:Contrast"`
	Highlite   int `xml:"scan:Highlite"`
	Shadow     int `xml:"scan:Shadow"`
}

type scanJob struct {
	XMLName            xml.Name `xml:"scan:ScanJob"`
	XMLNSScan          string   `xml:"xmlns:scan,attr"`
	XMLNSDD            string   `xml:"xmlns:dd,attr"`
	XMLNSFW            string   `xml:"xmlns:fw,attr"`
	XResolution        int      `xml:"scan:XResolution"`
	YResolution        int      `xml:"scan:YResolution"`
	XStart             int      `xml:"scan:XStart"`
	YStart             int      `xml:"scan:YStart"`
	Width              int      `xml:"scan:Width"`
	Height             int      `xml:"scan:Height"`
	Format             string   `xml:"scan:Format"`
	CompressionQFactor int      `xml:"scan:CompressionQFactor"`
	ColorSpace         string   `xml:"scan:ColorSpace"`
	BitDepth           int      `xml:"scan:BitDepth"`
	InputSource        string   `xml:"scan:InputSource"`
	GrayRendering      string   `xml:"scan:GrayRendering"`
	ToneMap            toneMap  `xml:"scan:ToneMap"`
	ContentType        string   `xml:"scan:ContentType"`
}

// MarshalScanJob renders the scan job submission document for r.
func MarshalScanJob(r ScanRequest) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	job := scanJob{
		XMLNSScan:          NSScan,
		XMLNSDD:            NSDictionaries,
		XMLNSFW:            NSFirewall,
		XResolution:        r.Resolution,
		YResolution:        r.Resolution,
		Width:              ScanWidth,
		Height:             ScanHeight,
		Format:             "Jpeg",
		CompressionQFactor: r.Compression,
		ColorSpace:         "Color",
		BitDepth:           8,
		InputSource:        "Platen",
		GrayRendering:      "NTSC",
		ToneMap: toneMap{
			Gamma:      ToneGamma,
			Brightness: ToneBrightness,
			Contrast:   ToneContrast,
			Highlite:   ToneHighlight,
			Shadow:     ToneShadow,
		},
		ContentType: "Photo",
	}
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(job); err != nil {
		return nil, fmt.Errorf("encode scan job: %w", err)
	}
	return buf.Bytes(), nil
}
