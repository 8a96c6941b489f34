package ledm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewSession_Normalizes(t *testing.T) {
	s, err := NewSession("192.168.1.17", "s0538708d")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.BaseURL() != "http://192.168.1.17" {
		t.Errorf("BaseURL = %q, want http://192.168.1.17", s.BaseURL())
	}
	if s.Host() != "192.168.1.17" {
		t.Errorf("Host = %q", s.Host())
	}
	if got := s.Header().Get("Referer"); got != "http://192.168.1.17" {
		t.Errorf("Referer = %q", got)
	}

	if _, err := NewSession("", "x"); err == nil {
		t.Error("expected error for empty url")
	}
}

func TestSession_CopiesAreIndependent(t *testing.T) {
	s, _ := NewSession("http://printer", "abc")
	h := s.Header()
	h.Set("User-Agent", "changed")
	if s.Header().Get("User-Agent") != DefaultUserAgent {
		t.Error("session header mutated through copy")
	}
	c := s.Cookies()
	c[0].Value = "changed"
	if s.Cookies()[0].Value != "abc" {
		t.Error("session cookie mutated through copy")
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	s, err := NewSession(server.URL, "sid-value")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return NewClient(s, server.Client())
}

func TestClient_AttachesSession(t *testing.T) {
	var gotSID, gotUA, gotAccept string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if ck, err := r.Cookie("sid"); err == nil {
			gotSID = ck.Value
		}
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte("<ok/>"))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	if _, err := c.Get(ctx, PathScanStatus, ""); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gotSID != "sid-value" {
		t.Errorf("sid cookie = %q, want sid-value", gotSID)
	}
	if gotUA != DefaultUserAgent {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotAccept != AcceptXML {
		t.Errorf("Accept = %q, want %q", gotAccept, AcceptXML)
	}

	if _, err := c.Get(ctx, PathScanStatus, AcceptImage); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gotAccept != AcceptImage {
		t.Errorf("Accept override = %q, want %q", gotAccept, AcceptImage)
	}
}

func TestClient_NoContentIsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	data, err := c.Get(context.Background(), PathJobList, "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("len(data) = %d, want 0", len(data))
	}
}

func TestClient_StatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})
	_, err := c.Get(context.Background(), PathScanStatus, "")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if te.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", te.StatusCode)
	}

	err = c.Post(context.Background(), PathScanJobs, ContentTypeXML, []byte("<x/>"))
	if !errors.As(err, &te) {
		t.Fatalf("Post err = %v, want *TransportError", err)
	}
}

func TestClient_PostSendsContentType(t *testing.T) {
	var gotType, gotBody, gotMethod string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	})
	if err := c.Post(context.Background(), PathScanJobs, ContentTypeXML, []byte("<job/>")); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if gotMethod != http.MethodPost || gotType != ContentTypeXML || gotBody != "<job/>" {
		t.Errorf("got %s %q %q", gotMethod, gotType, gotBody)
	}
}

func TestClient_GetStream(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2, 3}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(payload)
	})
	body, err := c.GetStream(context.Background(), PagePath(1, 1), AcceptImage)
	if err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	defer body.Close()
	got, _ := io.ReadAll(body)
	if string(got) != string(payload) {
		t.Errorf("body = %x, want %x", got, payload)
	}
}

func TestClient_NetworkError(t *testing.T) {
	s, _ := NewSession("http://127.0.0.1:1", "")
	c := NewClient(s, &http.Client{Timeout: time.Second})
	_, err := c.Get(context.Background(), PathScanStatus, "")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if te.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", te.StatusCode)
	}
}
