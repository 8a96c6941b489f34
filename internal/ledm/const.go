package ledm

// Device HTTP paths.
const (
	PathScanStatus = "/Scan/Status"
	PathJobList    = "/Jobs/JobList"
	PathScanJobs   = "/Scan/Jobs"
)

// XML namespaces used by the scan job payload.
const (
	NSScan         = "http://www.hp.com/schemas/imaging/con/cnx/scan/2008/08/19"
	NSDictionaries = "http://www.hp.com/schemas/imaging/con/dictionaries/1.0/"
	NSFirewall     = "http://www.hp.com/schemas/imaging/con/firewall/2011/01/05"
	NSJobs         = "http://www.hp.com/schemas/imaging/con/ledm/jobs/2009/04/30"
)

// Accept header values.
const (
	AcceptXML   = "application/xml, text/xml, */*"
	AcceptImage = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
)

// Content type of the scan job submission.
const ContentTypeXML = "text/xml"

// XML field names read from device responses.
const (
	FieldScannerState = "ScannerState"
	FieldAdfState     = "AdfState"
	FieldJobURL       = "JobUrl"
	FieldJobCategory  = "JobCategory"
	FieldJobState     = "JobState"
)

// CategoryScan is the only job category surfaced to callers.
const CategoryScan = "Scan"

// Resolutions is the fixed set of DPI values accepted by the device.
var Resolutions = []int{75, 100, 200, 300, 600, 1200, 2400}

// Compression bounds (0 = none, 95 = maximum).
const (
	MinCompression = 0
	MaxCompression = 95
)

// Fixed scan geometry in device pixels (300 DPI equivalent).
// The device accepts width 8-2550 and height 8-3508.
const (
	ScanWidth  = 2550
	ScanHeight = 3508
)

// Tone map defaults.
const (
	ToneGamma      = 1000
	ToneBrightness = 1000
	ToneContrast   = 1000
	ToneHighlight  = 179
	ToneShadow     = 25
)

// Default browser-like headers sent with every request.
const (
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:101.0) Gecko/20100101 Firefox/101.0"
	DefaultAcceptLanguage = "en,sv-SE;q=0.8,sv;q=0.5,en-US;q=0.3"
)

// ServiceType is the mDNS service advertised by scan-capable devices.
const ServiceType = "_uscan._tcp"
