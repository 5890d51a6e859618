package remotestore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"beaconrelay/gateway/internal/model"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusServiceUnavailable, KindUnavailable},
		{http.StatusTooManyRequests, KindThrottled},
		{http.StatusRequestTimeout, KindTimeout},
		{http.StatusGatewayTimeout, KindTimeout},
		{http.StatusBadRequest, KindValidation},
		{http.StatusUnprocessableEntity, KindValidation},
		{http.StatusUnauthorized, KindAccessDenied},
		{http.StatusForbidden, KindAccessDenied},
		{http.StatusNotFound, KindNotFound},
		{http.StatusInternalServerError, KindUnavailable},
		{http.StatusTeapot, KindUnknown},
	}

	for _, tt := range tests {
		if got := kindForStatus(tt.status); got != tt.want {
			t.Errorf("kindForStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unavailable", &Error{Kind: KindUnavailable}, true},
		{"throttled", &Error{Kind: KindThrottled}, true},
		{"timeout", &Error{Kind: KindTimeout}, true},
		{"network", &Error{Kind: KindNetwork}, true},
		{"validation", &Error{Kind: KindValidation}, false},
		{"access denied", &Error{Kind: KindAccessDenied}, false},
		{"not found", &Error{Kind: KindNotFound}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHTTPClient_PutRecordClassifiesStatus(t *testing.T) {
	tests := []struct {
		status   int
		wantKind Kind
	}{
		{http.StatusServiceUnavailable, KindUnavailable},
		{http.StatusTooManyRequests, KindThrottled},
		{http.StatusBadRequest, KindValidation},
		{http.StatusForbidden, KindAccessDenied},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		client, err := NewHTTP(srv.URL, "BeaconRecords", "us-east-1", "")
		if err != nil {
			t.Fatalf("NewHTTP: %v", err)
		}

		err = client.PutRecord(context.Background(), model.BeaconRecord{RecordID: "r1"})
		if KindOf(err) != tt.wantKind {
			t.Errorf("status %d: KindOf = %v, want %v", tt.status, KindOf(err), tt.wantKind)
		}
		srv.Close()
	}
}

func TestHTTPClient_PutRecordSendsHeadersAndBody(t *testing.T) {
	var gotAuth, gotRegion, gotPath, gotMethod string
	var gotRecord model.BeaconRecord

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRegion = r.Header.Get("X-Store-Region")
		gotPath = r.URL.Path
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&gotRecord)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client, err := NewHTTP(srv.URL, "BeaconRecords", "us-east-1", "secret")
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}

	rec := model.BeaconRecord{RecordID: "r1", CapturedAtMillis: 1234, SourceKey: "ns-01-02", OriginID: "gw"}
	if err := client.PutRecord(context.Background(), rec); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	if gotMethod != http.MethodPut || gotPath != "/v1/tables/BeaconRecords/records" {
		t.Errorf("request = %s %s, want PUT /v1/tables/BeaconRecords/records", gotMethod, gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotRegion != "us-east-1" {
		t.Errorf("X-Store-Region = %q, want us-east-1", gotRegion)
	}
	if gotRecord.RecordID != "r1" || gotRecord.CapturedAtMillis != 1234 {
		t.Errorf("decoded record = %+v, want the sent record", gotRecord)
	}
}

func TestHTTPClient_Describe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/tables/BeaconRecords" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(TableInfo{Name: "BeaconRecords", Status: StatusReady, RecordCount: 42})
	}))
	defer srv.Close()

	client, err := NewHTTP(srv.URL, "BeaconRecords", "", "")
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}

	info, err := client.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if info.Status != StatusReady || info.RecordCount != 42 {
		t.Errorf("Describe() = %+v", info)
	}
}

func TestHTTPClient_QueryRecent(t *testing.T) {
	since := time.UnixMilli(1700000000000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("origin"); got != "gw-1" {
			t.Errorf("origin = %q, want gw-1", got)
		}
		if got := r.URL.Query().Get("since"); got != "1700000000000" {
			t.Errorf("since = %q, want 1700000000000", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"records": []model.BeaconRecord{{RecordID: "r1", OriginID: "gw-1"}},
		})
	}))
	defer srv.Close()

	client, err := NewHTTP(srv.URL, "BeaconRecords", "", "")
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}

	records, err := client.QueryRecent(context.Background(), "gw-1", since)
	if err != nil {
		t.Fatalf("QueryRecent: %v", err)
	}
	if len(records) != 1 || records[0].RecordID != "r1" {
		t.Errorf("QueryRecent() = %+v", records)
	}
}

func TestHTTPClient_NetworkErrorKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client, err := NewHTTP(srv.URL, "BeaconRecords", "", "")
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}

	err = client.PutRecord(context.Background(), model.BeaconRecord{RecordID: "r1"})
	if !IsRetryable(err) {
		t.Fatalf("transport failure should be retryable, got %v (kind %v)", err, KindOf(err))
	}
}

func TestNewHTTP_RejectsBadEndpoints(t *testing.T) {
	if _, err := NewHTTP("ftp://example.net", "BeaconRecords", "", ""); err == nil {
		t.Error("ftp endpoint accepted")
	}
	if _, err := NewHTTP("https://example.net", "", "", ""); err == nil {
		t.Error("empty table accepted")
	}
}
