package ledm

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// JobState is the raw job state reported by the device. The vocabulary is
// device-defined; the constants below are the values we act on.
type JobState string

const (
	JobProcessing JobState = "Processing"
	JobCompleted  JobState = "Completed"
	JobCanceled   JobState = "Canceled"
)

// Job is a scan job as last observed in the device registry.
type Job struct {
	ID       int
	URL      string
	Category string
	State    JobState
	Fields   map[string]string
}

// JobPath returns the registry path of a single job.
func JobPath(id int) string {
	return fmt.Sprintf("%s/%d", PathJobList, id)
}

// PagePath returns the download path of a rendered page.
func PagePath(id, page int) string {
	return fmt.Sprintf("%s/%d/Pages/%d", PathScanJobs, id, page)
}

// ParseJobID extracts the numeric id from the last path segment of a job URL.
func ParseJobID(jobURL string) (int, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(jobURL), "/")
	seg := trimmed[strings.LastIndexByte(trimmed, '/')+1:]
	id, err := strconv.Atoi(seg)
	if err != nil {
		return 0, fmt.Errorf("job url %q: %w", jobURL, err)
	}
	return id, nil
}

// ParseJobList decodes a JobList response into Scan jobs, newest first.
// An empty body (204 No Content) yields no jobs. Jobs without a URL, of a
// category other than Scan, or with an unparsable id are skipped.
func ParseJobList(data []byte) ([]Job, error) {
	root, err := ParseTree(data)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, nil
	}

	var jobs []Job
	// Document order is oldest first.
	for i := len(root.Children) - 1; i >= 0; i-- {
		fields := root.Children[i].Fields()
		job, ok := jobFromFields(fields)
		if !ok {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ParseJob decodes a single job resource.
func ParseJob(data []byte) (Job, error) {
	root, err := ParseTree(data)
	if err != nil {
		return Job{}, err
	}
	if root == nil {
		return Job{Fields: map[string]string{}}, nil
	}
	fields := root.Fields()
	job := Job{
		URL:      fields[FieldJobURL],
		Category: fields[FieldJobCategory],
		State:    JobState(fields[FieldJobState]),
		Fields:   fields,
	}
	if job.URL != "" {
		if id, err := ParseJobID(job.URL); err == nil {
			job.ID = id
		}
	}
	return job, nil
}

func jobFromFields(fields map[string]string) (Job, bool) {
	jobURL := fields[FieldJobURL]
	if jobURL == "" || fields[FieldJobCategory] != CategoryScan {
		return Job{}, false
	}
	id, err := ParseJobID(jobURL)
	if err != nil {
		slog.Warn("dropping job with invalid id", "url", jobURL, "err", err)
		return Job{}, false
	}
	return Job{
		ID:       id,
		URL:      jobURL,
		Category: fields[FieldJobCategory],
		State:    JobState(fields[FieldJobState]),
		Fields:   fields,
	}, true
}
