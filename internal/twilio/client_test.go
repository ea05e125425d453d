package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/miloview/miloview/internal/config"
	"github.com/miloview/miloview/internal/store"
	"go.uber.org/zap"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.Upstream{
		AccountSID: "AC123",
		AuthToken:  "token",
		BaseURL:    srv.URL,
		PageSize:   2,
	}, zap.NewNop())
}

func wireMsg(sid string) string {
	return fmt.Sprintf(`{
		"sid": %q,
		"from": "whatsapp:+5511999887766",
		"to": "whatsapp:+14155238886",
		"body": "hello",
		"status": "delivered",
		"direction": "inbound",
		"date_sent": "Wed, 01 May 2024 12:00:00 +0000",
		"date_created": "Wed, 01 May 2024 11:59:58 +0000",
		"price": "-0.005",
		"price_unit": "USD",
		"error_code": null,
		"error_message": "",
		"num_segments": "1",
		"num_media": "0"
	}`, sid)
}

func TestListPaginatesUntilShortPage(t *testing.T) {
	var paths []string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.RequestURI())
		if user, pass, ok := r.BasicAuth(); !ok || user != "AC123" || pass != "token" {
			t.Errorf("missing basic auth, got %q/%q", user, pass)
		}
		w.Header().Set("Content-Type", "application/json")
		if len(paths) == 1 {
			fmt.Fprintf(w, `{"messages":[%s,%s],"next_page_uri":"/page2","page_size":2}`,
				wireMsg("m1"), wireMsg("m2"))
			return
		}
		// Short page: pagination must stop here.
		fmt.Fprintf(w, `{"messages":[%s],"next_page_uri":"/page3","page_size":2}`, wireMsg("m3"))
	}))

	var got []store.Message
	err := client.List(context.Background(), Filter{}, func(page []store.Message) (bool, error) {
		got = append(got, page...)
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("fetched %d messages, want 3", len(got))
	}
	if len(paths) != 2 {
		t.Errorf("made %d requests, want 2 (short page ends pagination)", len(paths))
	}
	if got[0].SID != "m1" || got[0].Status != "delivered" {
		t.Errorf("first message = %+v", got[0])
	}
	want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if !got[0].DateSent.Equal(want) {
		t.Errorf("DateSent = %v, want %v", got[0].DateSent, want)
	}
	if got[0].NumSegments != 1 {
		t.Errorf("NumSegments = %d, want 1", got[0].NumSegments)
	}
}

func TestListDateFilters(t *testing.T) {
	var query string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		fmt.Fprint(w, `{"messages":[],"next_page_uri":"","page_size":2}`)
	}))

	after := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	err := client.List(context.Background(), Filter{SentAfter: after}, func([]store.Message) (bool, error) {
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	q, err := url.ParseQuery(query)
	if err != nil {
		t.Fatal(err)
	}
	if got := q.Get("DateSent>"); got != "2024-05-01T00:00:00Z" {
		t.Errorf("DateSent> = %q", got)
	}
	if got := q.Get("PageSize"); got != "2" {
		t.Errorf("PageSize = %q", got)
	}
}

func TestListEarlyStop(t *testing.T) {
	requests := 0
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprintf(w, `{"messages":[%s,%s],"next_page_uri":"/next","page_size":2}`,
			wireMsg("a"), wireMsg("b"))
	}))

	err := client.List(context.Background(), Filter{}, func([]store.Message) (bool, error) {
		return false, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if requests != 1 {
		t.Errorf("made %d requests, want 1 after early stop", requests)
	}
}

func TestListAbandonsOnPageError(t *testing.T) {
	requests := 0
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			fmt.Fprintf(w, `{"messages":[%s,%s],"next_page_uri":"/next","page_size":2}`,
				wireMsg("a"), wireMsg("b"))
			return
		}
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))

	var delivered int
	err := client.List(context.Background(), Filter{}, func(page []store.Message) (bool, error) {
		delivered += len(page)
		return true, nil
	})
	if err == nil {
		t.Fatal("expected error from failed second page")
	}
	if delivered != 2 {
		t.Errorf("delivered = %d, want the 2 messages from the successful page", delivered)
	}
}

func TestListPropagatesCallbackError(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"messages":[%s],"next_page_uri":"","page_size":2}`, wireMsg("a"))
	}))

	boom := errors.New("boom")
	err := client.List(context.Background(), Filter{}, func([]store.Message) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want callback error", err)
	}
}

func TestDemoSourceFiltersByTime(t *testing.T) {
	d := NewDemoSource()
	now := time.Now()
	d.clock = func() time.Time { return now }

	var full []store.Message
	if err := d.List(context.Background(), Filter{}, func(p []store.Message) (bool, error) {
		full = p
		return true, nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(full) != 3 {
		t.Fatalf("demo set = %d messages, want 3", len(full))
	}

	// An incremental fetch after the newest fixture sees nothing new.
	var incr []store.Message
	if err := d.List(context.Background(), Filter{SentAfter: now}, func(p []store.Message) (bool, error) {
		incr = p
		return true, nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(incr) != 0 {
		t.Errorf("incremental demo fetch = %d messages, want 0", len(incr))
	}
}
