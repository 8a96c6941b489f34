package scanner

import (
	"bytes"
	"cmp"
	"context"
	"io"
	"log/slog"

	"github.com/OpenPrinting/go-mfp/abstract"
	"github.com/OpenPrinting/go-mfp/util/generic"
	"github.com/OpenPrinting/go-mfp/util/uuid"

	"github.com/mzyy94/ledmscan/internal/ledm"
)

// eSCL bridge limits. The device scan bed is letter-sized at most.
const (
	esclMaxWidth        = 216 * abstract.Millimeter
	esclMaxHeight       = 297 * abstract.Millimeter
	esclMinDimension    = 16 * abstract.Millimeter
	esclMaxOpticalDPI   = 1200
	esclDefaultDPI      = 300
	defaultManufacturer = "HP"
)

// ESCLOptions configures the eSCL adapter.
type ESCLOptions struct {
	Name         string // MakeAndModel; defaults to the device host
	Manufacturer string
	Compression  int // device compression factor for bridged scans
}

// ESCLAdapter implements abstract.Scanner on top of the webscan job API.
// Only the platen and a single page per job are offered.
type ESCLAdapter struct {
	scanner *Scanner
	opts    ESCLOptions
	caps    *abstract.ScannerCapabilities
}

// NewESCLAdapter bridges s to eSCL. Capabilities are computed once.
func NewESCLAdapter(s *Scanner, opts ESCLOptions) *ESCLAdapter {
	a := &ESCLAdapter{scanner: s, opts: opts}
	a.caps = a.buildCapabilities()
	return a
}

// esclResolutions returns the device resolutions the bridge advertises.
func esclResolutions() []abstract.Resolution {
	var out []abstract.Resolution
	for _, dpi := range ledm.Resolutions {
		if dpi > esclMaxOpticalDPI {
			continue
		}
		out = append(out, abstract.Resolution{XResolution: dpi, YResolution: dpi})
	}
	return out
}

func (a *ESCLAdapter) buildCapabilities() *abstract.ScannerCapabilities {
	host := a.scanner.Host()
	return &abstract.ScannerCapabilities{
		// Stable across restarts so clients keep their pairing.
		UUID:            uuid.SHA1(uuid.NameSpaceDNS, "ledmscan."+host),
		MakeAndModel:    cmp.Or(a.opts.Name, host),
		Manufacturer:    cmp.Or(a.opts.Manufacturer, defaultManufacturer),
		SerialNumber:    host,
		DocumentFormats: []string{"image/jpeg", "application/pdf"},
		Platen: &abstract.InputCapabilities{
			MinWidth:              esclMinDimension,
			MinHeight:             esclMinDimension,
			MaxWidth:              esclMaxWidth,
			MaxHeight:             esclMaxHeight,
			MaxOpticalXResolution: esclMaxOpticalDPI,
			MaxOpticalYResolution: esclMaxOpticalDPI,
			// The device scans photos and documents alike in 8-bit color.
			Intents: generic.MakeBitset(abstract.IntentDocument, abstract.IntentPhoto),
			Profiles: []abstract.SettingsProfile{{
				ColorModes:  generic.MakeBitset(abstract.ColorModeColor),
				Depths:      generic.MakeBitset(abstract.ColorDepth8),
				Resolutions: esclResolutions(),
			}},
		},
	}
}

// Capabilities implements abstract.Scanner.
func (a *ESCLAdapter) Capabilities() *abstract.ScannerCapabilities { return a.caps }

// Scan runs a single-page webscan job for an eSCL request.
func (a *ESCLAdapter) Scan(ctx context.Context, req abstract.ScannerRequest) (abstract.Document, error) {
	if err := req.Validate(a.caps); err != nil {
		return nil, err
	}

	pr := a.pageRequest(req)
	slog.Info("eSCL scan", "mode", req.ColorMode, "dpi", pr.Resolution, "format", req.DocumentFormat)
	return a.scan(ctx, pr, req.DocumentFormat)
}

// scan runs one device job. JPEG is passed through, anything else goes
// through the go-mfp filter.
func (a *ESCLAdapter) scan(ctx context.Context, pr PageRequest, format string) (abstract.Document, error) {
	var page bytes.Buffer
	job, n, err := a.scanner.ScanPage(ctx, pr, &page)
	if err != nil {
		return nil, err
	}
	slog.Info("bridged scan complete", "job", job.ID, "bytes", n)

	var doc abstract.Document = &pageDocument{
		res:  abstract.Resolution{XResolution: pr.Resolution, YResolution: pr.Resolution},
		page: page.Bytes(),
	}
	switch format {
	case "", "image/jpeg":
		return doc, nil
	}
	return abstract.NewFilter(doc, abstract.FilterOptions{OutputFormat: format}), nil
}

// pageRequest converts an eSCL request to webscan parameters.
func (a *ESCLAdapter) pageRequest(req abstract.ScannerRequest) PageRequest {
	dpi := req.Resolution.XResolution
	if dpi <= 0 || !ledm.ValidResolution(dpi) {
		dpi = esclDefaultDPI
	}
	return PageRequest{
		Resolution:  dpi,
		Compression: a.opts.Compression,
	}
}

// DeviceState queries the device for its current scanner state.
func (a *ESCLAdapter) DeviceState(ctx context.Context) (State, error) {
	return a.scanner.Status(ctx)
}

// Close implements abstract.Scanner. The device session needs no teardown.
func (a *ESCLAdapter) Close() error { return nil }

// pageDocument is a single scanned page served as an abstract.Document.
type pageDocument struct {
	res  abstract.Resolution
	page []byte
	read bool
}

func (d *pageDocument) Resolution() abstract.Resolution { return d.res }

func (d *pageDocument) Next() (abstract.DocumentFile, error) {
	if d.read {
		return nil, io.EOF
	}
	d.read = true
	return pageFile{bytes.NewReader(d.page)}, nil
}

func (d *pageDocument) Close() error {
	d.page = nil
	return nil
}

// pageFile is the page body as the device produced it.
type pageFile struct{ io.Reader }

func (pageFile) Format() string { return "image/jpeg" }
