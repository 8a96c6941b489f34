package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mzyy94/ledmscan/internal/imaging"
	"github.com/mzyy94/ledmscan/internal/ledm"
)

// State is the scanner state reported by the device. The vocabulary is
// device-defined and unknown values are kept verbatim.
type State string

const (
	StateIdle    State = "Idle"
	StateBusy    State = "BusyWithScanJob"
	StateError   State = "Error"
	StateUnknown State = ""
)

// Ready reports whether a new scan job may be submitted.
func (s State) Ready() bool { return s == StateIdle }

// Scanner drives the webscan job API of a single device. Every call derives
// the device state from a fresh request; nothing is cached between calls.
type Scanner struct {
	client   *ledm.Client
	download *ledm.Client
	sleep    sleepFunc

	// jobSlot admits one scan job at a time across every caller sharing
	// this Scanner; the device cannot tell concurrent jobs apart.
	jobSlot chan struct{}
}

// New creates a Scanner for the device described by session.
func New(session ledm.Session) *Scanner {
	return &Scanner{
		client: ledm.NewClient(session, nil),
		// Page downloads can take minutes at high DPI; rely on ctx instead
		// of a whole-request timeout.
		download: ledm.NewClient(session, &http.Client{}),
		sleep:    sleepContext,
		jobSlot:  make(chan struct{}, 1),
	}
}

// acquireJob blocks until no other scan job of this Scanner is outstanding.
func (s *Scanner) acquireJob(ctx context.Context) error {
	select {
	case s.jobSlot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scanner) releaseJob() { <-s.jobSlot }

// Host returns the device host.
func (s *Scanner) Host() string { return s.client.Session().Host() }

// BaseURL returns the device base URL.
func (s *Scanner) BaseURL() string { return s.client.Session().BaseURL() }

// Status queries the scanner state. It returns ErrUnavailable when the
// response lacks a state field.
func (s *Scanner) Status(ctx context.Context) (State, error) {
	data, err := s.client.Get(ctx, ledm.PathScanStatus, ledm.AcceptXML)
	if err != nil {
		return StateUnknown, err
	}
	fields, err := ledm.Decode(data)
	if err != nil {
		return StateUnknown, err
	}
	state, ok := fields[ledm.FieldScannerState]
	if !ok || state == "" {
		slog.Warn("scan status without scanner state", "bytes", len(data))
		return StateUnknown, ErrUnavailable
	}
	slog.Debug("scan status", "state", state, "adf", fields[ledm.FieldAdfState])
	return State(state), nil
}

// IsReady reports whether the scanner is idle.
func (s *Scanner) IsReady(ctx context.Context) (bool, error) {
	state, err := s.Status(ctx)
	if err != nil {
		return false, err
	}
	return state.Ready(), nil
}

// WaitUntilReady polls until the scanner is idle. It returns nil when ready,
// ErrTimedOut once the accumulated wait exceeds maxWait, and ErrUnavailable
// as soon as the device cannot report its state. HTTP error statuses are
// treated as busy and polled through. Zero values use the defaults.
func (s *Scanner) WaitUntilReady(ctx context.Context, interval, maxWait time.Duration) error {
	p := newPoller(interval, maxWait, s.sleep)
	checks, err := p.run(ctx, func(ctx context.Context) (bool, error) {
		ready, err := s.IsReady(ctx)
		var te *ledm.TransportError
		switch {
		case err == nil:
			if !ready {
				slog.Debug("scanner busy, waiting", "interval", p.interval)
			}
			return ready, nil
		case ctx.Err() != nil:
			return false, err
		case errors.As(err, &te) && te.StatusCode != 0:
			slog.Warn("scan status request failed, retrying", "status", te.StatusCode)
			return false, nil
		case errors.As(err, &te):
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		default:
			return false, err
		}
	})
	if err != nil {
		slog.Info("scanner not ready", "checks", checks, "err", err)
		return err
	}
	slog.Debug("scanner ready", "checks", checks)
	return nil
}

// StartScan submits a scan job. Invalid parameters are rejected without any
// request being sent.
func (s *Scanner) StartScan(ctx context.Context, dpi, compression int) error {
	if err := CheckParameters(dpi, compression); err != nil {
		return err
	}
	body, err := ledm.MarshalScanJob(ledm.ScanRequest{Resolution: dpi, Compression: compression})
	if err != nil {
		return err
	}
	slog.Info("starting scan", "dpi", dpi, "compression", compression)
	if err := s.client.Post(ctx, ledm.PathScanJobs, ledm.ContentTypeXML, body); err != nil {
		return fmt.Errorf("start scan: %w", err)
	}
	return nil
}

// Jobs lists the scan jobs known to the device, newest first.
func (s *Scanner) Jobs(ctx context.Context) ([]ledm.Job, error) {
	data, err := s.client.Get(ctx, ledm.PathJobList, ledm.AcceptXML)
	if err != nil {
		return nil, err
	}
	return ledm.ParseJobList(data)
}

// AwaitNewJob returns the newest scan job. Call it right after StartScan;
// it assumes nobody else submitted a job in between.
func (s *Scanner) AwaitNewJob(ctx context.Context) (ledm.Job, error) {
	jobs, err := s.Jobs(ctx)
	if err != nil {
		return ledm.Job{}, err
	}
	if len(jobs) == 0 {
		return ledm.Job{}, ErrNoJob
	}
	slog.Info("scan job created", "job", jobs[0].ID, "state", jobs[0].State)
	return jobs[0], nil
}

// JobStatus returns the raw state of a job.
func (s *Scanner) JobStatus(ctx context.Context, id int) (ledm.JobState, error) {
	data, err := s.client.Get(ctx, ledm.JobPath(id), ledm.AcceptXML)
	if err != nil {
		return "", err
	}
	job, err := ledm.ParseJob(data)
	if err != nil {
		return "", err
	}
	if job.State == "" {
		slog.Warn("job without state", "job", id)
		return "", ErrUnavailable
	}
	return job.State, nil
}

// WaitForJob polls a job until it leaves the Processing state and returns
// the state it ended in.
func (s *Scanner) WaitForJob(ctx context.Context, id int, interval, maxWait time.Duration) (ledm.JobState, error) {
	var last ledm.JobState
	p := newPoller(interval, maxWait, s.sleep)
	_, err := p.run(ctx, func(ctx context.Context) (bool, error) {
		state, err := s.JobStatus(ctx, id)
		if err != nil {
			return false, err
		}
		last = state
		return state != ledm.JobProcessing, nil
	})
	return last, err
}

// DownloadPage streams a rendered page of job id into w without buffering
// it in memory.
func (s *Scanner) DownloadPage(ctx context.Context, id, page int, w io.Writer) (int64, error) {
	if page < 1 {
		return 0, &InvalidParameterError{Name: "page", Value: page, Err: errors.New("pages start at 1")}
	}
	body, err := s.download.GetStream(ctx, ledm.PagePath(id, page), ledm.AcceptImage)
	if err != nil {
		return 0, fmt.Errorf("download page: %w", err)
	}
	defer body.Close()

	start := time.Now()
	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("download page: %w", err)
	}
	slog.Info("page downloaded", "job", id, "page", page, "bytes", n, "duration", time.Since(start).Round(time.Millisecond))
	return n, nil
}

// DownloadPageToFile downloads a page to path. The file only appears at path
// once the download is complete.
func (s *Scanner) DownloadPageToFile(ctx context.Context, id, page int, path string) (int64, error) {
	var n int64
	err := imaging.WriteFileAtomic(path, func(w io.Writer) error {
		var err error
		n, err = s.DownloadPage(ctx, id, page, w)
		if err == nil && n == 0 {
			err = fmt.Errorf("download page: empty response for job %d", id)
		}
		return err
	})
	return n, err
}
