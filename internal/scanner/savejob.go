package scanner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mzyy94/ledmscan/internal/config"
	"github.com/mzyy94/ledmscan/internal/imaging"
	"github.com/mzyy94/ledmscan/internal/ledm"
	"github.com/mzyy94/ledmscan/internal/metadata"
)

// Step identifies a stage of a scan job, reported through Progress.
type Step string

const (
	StepWaiting     Step = "waiting"
	StepStarting    Step = "starting"
	StepLocating    Step = "locating"
	StepDownloading Step = "downloading"
	StepProcessing  Step = "processing"
	StepDone        Step = "done"
)

// PageRequest describes a single-page scan.
type PageRequest struct {
	Resolution   int
	Compression  int
	PollInterval time.Duration // readiness poll interval; 0 = DefaultPollInterval
	MaxWait      time.Duration // readiness wait limit; 0 = DefaultMaxWait
	Progress     func(Step)
}

func (r PageRequest) report(step Step) {
	if r.Progress != nil {
		r.Progress(step)
	}
}

func (r PageRequest) validate() error {
	return CheckParameters(r.Resolution, r.Compression)
}

// ScanPage runs one scan end to end and streams the page into w: wait until
// idle, submit the job, locate it, confirm it is processing, download page 1.
// Concurrent calls on the same Scanner run one after another.
func (s *Scanner) ScanPage(ctx context.Context, req PageRequest, w io.Writer) (ledm.Job, int64, error) {
	if err := req.validate(); err != nil {
		return ledm.Job{}, 0, err
	}

	req.report(StepWaiting)
	if err := s.acquireJob(ctx); err != nil {
		return ledm.Job{}, 0, err
	}
	defer s.releaseJob()
	if err := s.WaitUntilReady(ctx, req.PollInterval, req.MaxWait); err != nil {
		return ledm.Job{}, 0, err
	}

	req.report(StepStarting)
	if err := s.StartScan(ctx, req.Resolution, req.Compression); err != nil {
		return ledm.Job{}, 0, err
	}

	req.report(StepLocating)
	job, err := s.AwaitNewJob(ctx)
	if err != nil {
		return ledm.Job{}, 0, err
	}
	state, err := s.JobStatus(ctx, job.ID)
	if err != nil {
		return job, 0, err
	}
	if state != ledm.JobProcessing {
		return job, 0, fmt.Errorf("%w: job %d is %q", ErrJobNotStarted, job.ID, state)
	}
	job.State = state

	req.report(StepDownloading)
	n, err := s.DownloadPage(ctx, job.ID, 1, w)
	if err != nil {
		return job, n, err
	}
	if n == 0 {
		return job, 0, fmt.Errorf("download page: empty response for job %d", job.ID)
	}
	return job, n, nil
}

// JobOptions configures RunScanJob.
type JobOptions struct {
	PageRequest

	// OutputPath is the full-resolution page path. When empty, a
	// timestamped name inside OutputDir is used.
	OutputPath string
	OutputDir  string

	// MaxDimension bounds the thumbnail; 0 skips downscaling.
	MaxDimension int
	Quality      int

	// ExportPDF also writes the full-resolution page as a PDF next to it.
	ExportPDF bool
	// Optimize requests the slow perceptual re-encode of the thumbnail.
	// RunScanJob does not run it; the Worker does, off the scan path.
	Optimize bool

	// Metadata and People go to the page's sidecar file. No sidecar is
	// written when both are empty.
	Metadata []metadata.Pair
	People   []metadata.Person
}

// Result describes a finished scan. The caller owns the files.
type Result struct {
	JobID         int
	OutputPath    string
	ThumbnailPath string
	PDFPath       string
	MetadataPath  string
	Bytes         int64
}

// FinalPath returns the thumbnail when one was produced, otherwise the
// full-resolution page.
func (r *Result) FinalPath() string {
	if r.ThumbnailPath != "" {
		return r.ThumbnailPath
	}
	return r.OutputPath
}

// OptionsFromSettings converts persisted settings to JobOptions.
func OptionsFromSettings(s config.Settings) JobOptions {
	return JobOptions{
		PageRequest: PageRequest{
			Resolution:  s.Resolution,
			Compression: s.Compression,
		},
		OutputDir:    s.ScanDirectory,
		MaxDimension: s.MaxDimension,
		Quality:      s.Quality,
		ExportPDF:    s.ExportPDF,
		Optimize:     s.Optimize,
	}
}

func (o JobOptions) outputPath(now time.Time) string {
	if o.OutputPath != "" {
		return o.OutputPath
	}
	dir := o.OutputDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, fmt.Sprintf("scan_%s.jpg", now.Format("20060102_150405")))
}

// RunScanJob scans one page to disk and post-processes it. The page file
// only appears once fully downloaded; a failure before that leaves nothing
// behind.
func RunScanJob(ctx context.Context, sc *Scanner, opts JobOptions) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	outPath := opts.outputPath(time.Now())
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	res := &Result{OutputPath: outPath}
	err := imaging.WriteFileAtomic(outPath, func(w io.Writer) error {
		job, n, err := sc.ScanPage(ctx, opts.PageRequest, w)
		res.JobID = job.ID
		res.Bytes = n
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.Info("scan saved", "path", outPath, "job", res.JobID, "bytes", res.Bytes)

	opts.report(StepProcessing)
	if opts.MaxDimension > 0 {
		thumb, _, err := imaging.Downscale(outPath, opts.MaxDimension, opts.Quality, "")
		if err != nil {
			return res, fmt.Errorf("downscale: %w", err)
		}
		res.ThumbnailPath = thumb
	}
	if opts.ExportPDF {
		pdfPath := strings.TrimSuffix(outPath, filepath.Ext(outPath)) + ".pdf"
		if err := WritePDF(outPath, opts.Resolution, pdfPath); err != nil {
			return res, fmt.Errorf("export pdf: %w", err)
		}
		res.PDFPath = pdfPath
	}
	if len(opts.Metadata) > 0 || len(opts.People) > 0 {
		path, err := metadata.Write(outPath, opts.Metadata, opts.People, time.Now())
		if err != nil {
			return res, err
		}
		res.MetadataPath = path
	}
	opts.report(StepDone)
	return res, nil
}

// ScanJobStatus tracks the state of the most recent scan job.
type ScanJobStatus struct {
	mu            sync.RWMutex
	Scanning      bool   `json:"scanning"`
	Optimizing    bool   `json:"optimizing"`
	Step          Step   `json:"step,omitempty"`
	Message       string `json:"message,omitempty"`
	LastError     string `json:"lastError,omitempty"`
	LastScan      string `json:"lastScan,omitempty"` // RFC3339
	JobID         int    `json:"jobId,omitempty"`
	FilePath      string `json:"filePath,omitempty"`
	ThumbnailPath string `json:"thumbnailPath,omitempty"`
}

// Snapshot returns a copy of the current status.
func (s *ScanJobStatus) Snapshot() ScanJobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ScanJobStatus{
		Scanning:      s.Scanning,
		Optimizing:    s.Optimizing,
		Step:          s.Step,
		Message:       s.Message,
		LastError:     s.LastError,
		LastScan:      s.LastScan,
		JobID:         s.JobID,
		FilePath:      s.FilePath,
		ThumbnailPath: s.ThumbnailPath,
	}
}

// SetScanning marks the scan as in-progress.
func (s *ScanJobStatus) SetScanning(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Scanning = v
	if v {
		s.LastError = ""
		s.Message = ""
		s.Step = ""
	}
}

// SetStep records the current stage of the running scan.
func (s *ScanJobStatus) SetStep(step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Step = step
}

// SetOptimizing marks the optimize pass as running or finished.
func (s *ScanJobStatus) SetOptimizing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Optimizing = v
}

// SetResult records the outcome of a completed scan.
func (s *ScanJobStatus) SetResult(err error, res *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Scanning = false
	s.LastScan = time.Now().UTC().Format(time.RFC3339)
	s.Message = Describe(err)
	s.JobID, s.FilePath, s.ThumbnailPath = 0, "", ""
	if res != nil {
		s.JobID = res.JobID
		s.FilePath = res.OutputPath
		s.ThumbnailPath = res.ThumbnailPath
	}
	if err != nil {
		s.LastError = err.Error()
	} else {
		s.LastError = ""
	}
}
