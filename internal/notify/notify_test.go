package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"sarathi/internal/config"
	"sarathi/internal/lifecycle"
	"sarathi/internal/metrics"
	"sarathi/models"
)

func TestTwilioNotify(t *testing.T) {
	var form url.Values
	var user, pass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC123/Messages.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, _ = r.BasicAuth()
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	defer srv.Close()

	c := NewTwilio(config.TwilioConfig{AccountSID: "AC123", AuthToken: "secret", From: "+15550001111", BaseURL: srv.URL})
	if err := c.Notify(context.Background(), "+919999999999", "hello"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if user != "AC123" || pass != "secret" {
		t.Fatalf("basic auth not set")
	}
	if form.Get("To") != "+919999999999" || form.Get("From") != "+15550001111" || form.Get("Body") != "hello" {
		t.Fatalf("unexpected form %v", form)
	}
}

func TestTwilioNotifyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"invalid To number"}`))
	}))
	defer srv.Close()

	c := NewTwilio(config.TwilioConfig{AccountSID: "AC123", AuthToken: "secret", BaseURL: srv.URL})
	if err := c.Notify(context.Background(), "bad", "hello"); err == nil {
		t.Fatalf("expected error")
	}
	if err := NewTwilio(config.TwilioConfig{}).Notify(context.Background(), "+1", "x"); err == nil {
		t.Fatalf("expected error without credentials")
	}
}

type memStore struct{ saved []*models.Notification }

func (m *memStore) Create(_ context.Context, n *models.Notification) (*models.Notification, error) {
	n.ID = int64(len(m.saved) + 1)
	m.saved = append(m.saved, n)
	return n, nil
}

type failingSMS struct{ calls int }

func (f *failingSMS) Notify(context.Context, string, string) error {
	f.calls++
	return errors.New("provider down")
}

func TestDispatcher_StoresNoticesAndToleratesSMSFailure(t *testing.T) {
	store := &memStore{}
	sms := &failingSMS{}
	d := NewDispatcher(store, sms, nil, metrics.NewPickup(prometheus.NewRegistry()))
	o := &models.Order{ID: "SAR-20260301-AAAAAA", CitizenID: "cit-1", Phone: "+911"}

	d.Dispatch(context.Background(), o, []lifecycle.Notice{
		{Title: "Collector Arrived!", Message: "here", Level: models.NotificationSuccess, SMS: "arrived"},
		{Title: "QR Verified!", Message: "in progress", Level: models.NotificationInfo},
	})

	if len(store.saved) != 2 {
		t.Fatalf("expected 2 stored notices, got %d", len(store.saved))
	}
	if store.saved[0].CitizenID != "cit-1" || store.saved[0].OrderID != o.ID {
		t.Fatalf("notice not addressed to order owner: %+v", store.saved[0])
	}
	if sms.calls != 1 {
		t.Fatalf("expected one sms attempt, got %d", sms.calls)
	}
}
