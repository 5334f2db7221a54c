package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/hitoshi/regwatch/internal/model"
)

const (
	testAlertID    = "6f1c2d3e-4a5b-4c6d-8e7f-901234567890"
	missingAlertID = "00000000-0000-4000-8000-000000000000"
)

func TestAlertHandler_Archive(t *testing.T) {
	var archivedID string
	router := newTestRouter(func(d *RouterDeps) {
		d.Alerts = &mockAlertStore{
			archiveFn: func(ctx context.Context, id string) (*model.Alert, error) {
				archivedID = id
				return &model.Alert{ID: id, Severity: model.SeverityMedium, Status: model.AlertStatusArchived}, nil
			},
		}
	})

	w := doRequest(t, router, http.MethodPost, "/api/alerts/" + testAlertID + "/archive", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}
	if archivedID != testAlertID {
		t.Errorf("archived id = %q, want %s", archivedID, testAlertID)
	}
	var resp map[string]interface{}
	decodeBody(t, w, &resp)
	if resp["status"] != "ARCHIVED" {
		t.Errorf("status = %v, want ARCHIVED", resp["status"])
	}
}

func TestAlertHandler_Archive_Errors(t *testing.T) {
	tests := []struct {
		name       string
		alert      *model.Alert
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", nil, nil, http.StatusNotFound, model.ErrCodeAlertNotFound},
		{
			"already archived",
			nil,
			model.NewInvalidStatusChangeError(model.AlertStatusArchived, model.AlertStatusArchived),
			http.StatusConflict,
			model.ErrCodeInvalidStatusChange,
		},
		{"db error", nil, errors.New("boom"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(func(d *RouterDeps) {
				d.Alerts = &mockAlertStore{
					archiveFn: func(ctx context.Context, id string) (*model.Alert, error) {
						return tt.alert, tt.err
					},
				}
			})

			w := doRequest(t, router, http.MethodPost, "/api/alerts/" + testAlertID + "/archive", "")
			assertErrorCode(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

func alertExists(ids ...string) *mockAlertStore {
	return &mockAlertStore{
		findByIDFn: func(ctx context.Context, id string) (*model.Alert, error) {
			for _, known := range ids {
				if known == id {
					return &model.Alert{ID: id, Status: model.AlertStatusActive}, nil
				}
			}
			return nil, nil
		},
	}
}

func TestAlertHandler_Acknowledge(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		wantDismissed bool
	}{
		{"read only", `{"userId":"user-1"}`, false},
		{"dismissed", `{"userId":"user-1","dismissed":true}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var saved *model.Acknowledgement
			router := newTestRouter(func(d *RouterDeps) {
				d.Alerts = alertExists(testAlertID)
				d.Acknowledgements = &mockAckStore{upsertFn: func(ctx context.Context, ack *model.Acknowledgement) error {
					saved = ack
					return nil
				}}
			})

			before := time.Now().UTC().Add(-time.Second)
			w := doRequest(t, router, http.MethodPost, "/api/alerts/" + testAlertID + "/acknowledgements", tt.body)
			if w.Code != http.StatusNoContent {
				t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusNoContent, w.Body.String())
			}
			if saved == nil {
				t.Fatal("acknowledgement was not saved")
			}
			if saved.UserID != "user-1" || saved.AlertID != testAlertID {
				t.Errorf("ack = %+v", saved)
			}
			if saved.ReadAt.Before(before) {
				t.Errorf("ReadAt = %v, want recent", saved.ReadAt)
			}
			if (saved.DismissedAt != nil) != tt.wantDismissed {
				t.Errorf("DismissedAt = %v, want set=%v", saved.DismissedAt, tt.wantDismissed)
			}
		})
	}
}

func TestAlertHandler_Acknowledge_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		upsertErr  error
		wantStatus int
		wantCode   string
	}{
		{"missing user id", "/api/alerts/" + testAlertID + "/acknowledgements", `{}`, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"blank user id", "/api/alerts/" + testAlertID + "/acknowledgements", `{"userId":"  "}`, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"malformed body", "/api/alerts/" + testAlertID + "/acknowledgements", `not json`, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown alert", "/api/alerts/" + missingAlertID + "/acknowledgements", `{"userId":"user-1"}`, nil, http.StatusNotFound, model.ErrCodeAlertNotFound},
		{"unknown user", "/api/alerts/" + testAlertID + "/acknowledgements", `{"userId":"ghost"}`, nil, http.StatusNotFound, model.ErrCodeUserNotFound},
		{"upsert failure", "/api/alerts/" + testAlertID + "/acknowledgements", `{"userId":"user-1"}`, errors.New("boom"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(func(d *RouterDeps) {
				d.Alerts = alertExists(testAlertID)
				d.Acknowledgements = &mockAckStore{upsertFn: func(ctx context.Context, ack *model.Acknowledgement) error {
					return tt.upsertErr
				}}
			})

			w := doRequest(t, router, http.MethodPost, tt.path, tt.body)
			assertErrorCode(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

func TestAlertHandler_MalformedAlertIDIsNotFound(t *testing.T) {
	var storeCalls int
	router := newTestRouter(func(d *RouterDeps) {
		d.Alerts = &mockAlertStore{
			findByIDFn: func(ctx context.Context, id string) (*model.Alert, error) {
				storeCalls++
				return nil, errors.New("invalid input syntax for type uuid")
			},
			archiveFn: func(ctx context.Context, id string) (*model.Alert, error) {
				storeCalls++
				return nil, errors.New("invalid input syntax for type uuid")
			},
		}
	})

	paths := []struct {
		name string
		path string
		body string
	}{
		{"archive", "/api/alerts/not-a-uuid/archive", ""},
		{"acknowledge", "/api/alerts/not-a-uuid/acknowledgements", `{"userId":"user-1"}`},
		{"archive numeric", "/api/alerts/12345/archive", ""},
	}

	for _, tt := range paths {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodPost, tt.path, tt.body)
			assertErrorCode(t, w, http.StatusNotFound, model.ErrCodeAlertNotFound)
		})
	}
	if storeCalls != 0 {
		t.Errorf("store calls = %d, want 0 for malformed ids", storeCalls)
	}
}
