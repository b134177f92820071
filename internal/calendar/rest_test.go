package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testEvent() Event {
	return Event{
		Title:    "Consultation - Ada Lovelace",
		Start:    time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC),
		End:      time.Date(2025, 7, 1, 11, 0, 0, 0, time.UTC),
		Attendee: "ada@example.com",
	}
}

func TestRESTClient_CreateEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/events" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-API-Key"); got != "secret" {
			t.Errorf("api key header = %q", got)
		}
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if ev.Title == "" || !ev.End.After(ev.Start) {
			t.Errorf("bad payload: %+v", ev)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "evt-123"})
	}))
	defer srv.Close()

	c := &RESTClient{BaseURL: srv.URL, APIKey: "secret"}
	ref, err := c.CreateEvent(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if ref != "evt-123" {
		t.Fatalf("event ref = %q, want evt-123", ref)
	}
}

func TestRESTClient_CreateEvent_MissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := &RESTClient{BaseURL: srv.URL}
	if _, err := c.CreateEvent(context.Background(), testEvent()); err == nil {
		t.Fatalf("expected error for missing event id")
	}
}

func TestRESTClient_UpdateEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/events/evt-9" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := &RESTClient{BaseURL: srv.URL}
	if err := c.UpdateEvent(context.Background(), "evt-9", testEvent()); err != nil {
		t.Fatalf("UpdateEvent: %v", err)
	}
}

func TestRESTClient_DeleteEvent_MissingIsSuccess(t *testing.T) {
	for _, status := range []int{http.StatusNoContent, http.StatusNotFound, http.StatusGone} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodDelete {
				t.Errorf("unexpected method: %s", r.Method)
			}
			w.WriteHeader(status)
		}))

		c := &RESTClient{BaseURL: srv.URL}
		if err := c.DeleteEvent(context.Background(), "evt-1"); err != nil {
			t.Fatalf("DeleteEvent with status %d: %v", status, err)
		}
		srv.Close()
	}
}

func TestRESTClient_DeleteEvent_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := &RESTClient{BaseURL: srv.URL}
	if err := c.DeleteEvent(context.Background(), "evt-1"); err == nil {
		t.Fatalf("expected error for 500 delete")
	}
}

func TestRESTClient_TimeoutSurfacesAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := &RESTClient{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}
	if _, err := c.CreateEvent(context.Background(), testEvent()); err == nil {
		t.Fatalf("expected timeout error")
	}
}
