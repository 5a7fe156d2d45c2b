package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func setupGraphServer(t *testing.T, handler func(req graphRequest) (int, string)) (*Client, func()) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		status, body := handler(req)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))

	client, err := NewClient(ClientConfig{Url: server.URL, HttpClient: server.Client()})
	if err != nil {
		server.Close()
		t.Fatalf("NewClient failed: %v", err)
	}
	return client, server.Close
}

func TestFetchAfter_PrimaryQuery(t *testing.T) {
	client, cleanup := setupGraphServer(t, func(req graphRequest) (int, string) {
		if !strings.Contains(req.Query, "paymentExecuteds") {
			t.Errorf("Expected primary query")
		}
		if req.Variables["lastBlock"] != "1000" {
			t.Errorf("Expected lastBlock variable 1000, got %v", req.Variables["lastBlock"])
		}
		if req.Variables["first"] != float64(50) {
			t.Errorf("Expected first variable 50, got %v", req.Variables["first"])
		}
		return http.StatusOK, `{"data":{"paymentExecuteds":[
			{"id":"a","paymentIntentId":"pi_1","merchant":"0xaa","blockNumber":"1001"},
			{"id":"b","paymentIntentId":"pi_2","merchant":"0xaa","blockNumber":"1002"}]}}`
	})
	defer cleanup()

	events, err := client.FetchAfter(context.Background(), 1000, 50)
	if err != nil {
		t.Fatalf("FetchAfter failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[1].PaymentIntentId != "pi_2" || events[1].BlockNumber != "1002" {
		t.Errorf("Unexpected event %+v", events[1])
	}
	if client.UsingAltSchema() {
		t.Errorf("Expected primary schema to stay active")
	}
}

func TestFetchAfter_SwitchesToAltSchema(t *testing.T) {
	var primaryCalls, altCalls int
	client, cleanup := setupGraphServer(t, func(req graphRequest) (int, string) {
		if strings.Contains(req.Query, "paymentExecuteds") {
			primaryCalls++
			return http.StatusOK, `{"errors":[{"message":"Type Query has no field: Cannot query field \"paymentExecuteds\" on type \"Query\""}]}`
		}
		altCalls++
		return http.StatusOK, `{"data":{"payments":[{"id":"pi_9","merchantId":"m9","txHash":"0x01","blockNumber":"9","timestamp":"1"}]}}`
	})
	defer cleanup()

	events, err := client.FetchAfter(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("FetchAfter failed: %v", err)
	}
	if len(events) != 1 || events[0].MerchantId != "m9" {
		t.Fatalf("Unexpected events %+v", events)
	}
	if !client.UsingAltSchema() {
		t.Errorf("Expected client to switch to alternative schema")
	}

	if _, err := client.FetchAfter(context.Background(), 9, 10); err != nil {
		t.Fatalf("Second FetchAfter failed: %v", err)
	}
	if primaryCalls != 1 || altCalls != 2 {
		t.Errorf("Expected 1 primary and 2 alt calls, got %d and %d", primaryCalls, altCalls)
	}
}

func TestFetchAfter_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusBadGateway, "bad gateway"},
		{"graphql error", http.StatusOK, `{"errors":[{"message":"indexing error"}]}`},
		{"invalid json", http.StatusOK, `{"data":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, cleanup := setupGraphServer(t, func(graphRequest) (int, string) {
				return tt.status, tt.body
			})
			defer cleanup()

			if _, err := client.FetchAfter(context.Background(), 0, 10); err == nil {
				t.Errorf("Expected error")
			}
			if client.UsingAltSchema() {
				t.Errorf("Expected no schema switch for %s", tt.name)
			}
		})
	}
}

func TestNewClient_RequiresUrl(t *testing.T) {
	if _, err := NewClient(ClientConfig{HttpClient: http.DefaultClient}); err == nil {
		t.Errorf("Expected error for empty url")
	}
}

func TestFetchBlock_PagesInsideBlock(t *testing.T) {
	client, cleanup := setupGraphServer(t, func(req graphRequest) (int, string) {
		if !strings.Contains(req.Query, "blockNumber: $block") || !strings.Contains(req.Query, "orderBy: id") {
			t.Errorf("Expected in-block query, got %s", req.Query)
		}
		if req.Variables["block"] != "777" {
			t.Errorf("Expected block variable 777, got %v", req.Variables["block"])
		}
		if req.Variables["skip"] != float64(2) || req.Variables["first"] != float64(2) {
			t.Errorf("Expected skip 2 and first 2, got %v", req.Variables)
		}
		return http.StatusOK, `{"data":{"paymentExecuteds":[
			{"id":"c","paymentIntentId":"pi_3","merchant":"0xaa","blockNumber":"777"}]}}`
	})
	defer cleanup()

	events, err := client.FetchBlock(context.Background(), 777, 2, 2)
	if err != nil {
		t.Fatalf("FetchBlock failed: %v", err)
	}
	if len(events) != 1 || events[0].PaymentIntentId != "pi_3" {
		t.Errorf("Unexpected events %+v", events)
	}
}

func TestFetchBlock_AltSchemaAndSkipCeiling(t *testing.T) {
	calls := 0
	client, cleanup := setupGraphServer(t, func(req graphRequest) (int, string) {
		calls++
		if strings.Contains(req.Query, "paymentExecuteds") {
			return http.StatusOK, `{"errors":[{"message":"Type Query has no field. Cannot query field \"paymentExecuteds\""}]}`
		}
		return http.StatusOK, `{"data":{"payments":[
			{"id":"c","paymentIntentId":"pi_3","merchantId":"0xaa","blockNumber":"5"}]}}`
	})
	defer cleanup()

	events, err := client.FetchBlock(context.Background(), 5, 0, 10)
	if err != nil {
		t.Fatalf("FetchBlock failed: %v", err)
	}
	if len(events) != 1 || !client.UsingAltSchema() {
		t.Errorf("Expected alternative schema result, got %+v", events)
	}

	before := calls
	if _, err := client.FetchBlock(context.Background(), 5, MaxSkip+1, 10); err == nil {
		t.Errorf("Expected error past the skip ceiling")
	}
	if calls != before {
		t.Errorf("Expected no request past the skip ceiling")
	}
}
