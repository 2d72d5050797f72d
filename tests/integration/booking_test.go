//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Courtyard booking
// policy engine.
//
// These tests verify the COMPLETE booking pipeline against a running server:
//
//	Request → Effective rules → Evaluation → Commit → Cancellation → Strikes
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The server must be reachable (COURTYARD_TEST_URL, default localhost:8080).
// Each run uses a fresh facility ID so state from earlier runs cannot leak
// into assertions.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration.
type TestConfig struct {
	BaseURL    string
	FacilityID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("COURTYARD_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:    baseURL,
		FacilityID: fmt.Sprintf("itest-%d", time.Now().UnixNano()),
	}
}

// BookingRequest is the body sent to POST /evaluate and POST /bookings.
type BookingRequest struct {
	UserID    string `json:"userId"`
	CourtID   string `json:"courtId"`
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type RuleMessage struct {
	Code     string `json:"ruleCode"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// EvaluateResponse is what POST /evaluate returns.
type EvaluateResponse struct {
	Allowed    bool          `json:"allowed"`
	Violations []RuleMessage `json:"violations"`
	Warnings   []RuleMessage `json:"warnings"`
	Metadata   struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// BookingResponse is what POST /bookings returns.
type BookingResponse struct {
	Reservation *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"reservation"`
	Decision EvaluateResponse `json:"decision"`
}

func call(t *testing.T, config TestConfig, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequest(method, config.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Facility-ID", config.FacilityID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, respBody
}

// offPeakSlot returns a request two days out at 10:00, which the default
// rule set allows.
func offPeakSlot(userID, courtID string) BookingRequest {
	return BookingRequest{
		UserID:    userID,
		CourtID:   courtID,
		Date:      time.Now().UTC().Add(48 * time.Hour).Format("2006-01-02"),
		StartTime: "10:00",
		EndTime:   "11:00",
	}
}

// SCENARIO 1: A clean off-peak request passes every default rule.
func TestCleanRequestAllowed(t *testing.T) {
	config := getTestConfig()

	status, body := call(t, config, "POST", "/evaluate", offPeakSlot("user-clean", "court-1"))
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}

	var result EvaluateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, body)
	}

	if !result.Allowed {
		t.Errorf("Expected clean request allowed, got violations %+v", result.Violations)
	}
	if result.Metadata.TraceID == "" {
		t.Error("Expected traceId in metadata")
	}

	t.Logf("✓ Clean request allowed in %dms", result.Metadata.TotalMs)
}

// SCENARIO 2: Book, then race the same slot. Exactly one commit wins; the
// loser sees 409 and the slot frees again after cancellation.
func TestBookingLifecycle(t *testing.T) {
	config := getTestConfig()
	slot := offPeakSlot("user-book", "court-1")

	status, body := call(t, config, "POST", "/bookings", slot)
	if status != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", status, body)
	}
	var created BookingResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if created.Reservation == nil || created.Reservation.Status != "confirmed" {
		t.Fatalf("Expected confirmed reservation, got %s", body)
	}

	// Another user wants the same slot: the commit must refuse.
	rival := slot
	rival.UserID = "user-rival"
	status, body = call(t, config, "POST", "/bookings", rival)
	if status != http.StatusConflict {
		t.Fatalf("Expected status 409 for taken slot, got %d: %s", status, body)
	}

	// Cancelling two days out is timely: no strike.
	status, body = call(t, config, "POST", "/bookings/"+created.Reservation.ID+"/cancel",
		map[string]string{"userId": "user-book"})
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var cancel struct {
		LateCancel bool `json:"lateCancel"`
	}
	if err := json.Unmarshal(body, &cancel); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if cancel.LateCancel {
		t.Error("Expected timely cancellation")
	}

	// The freed slot is bookable again.
	status, body = call(t, config, "POST", "/bookings", rival)
	if status != http.StatusCreated {
		t.Fatalf("Expected status 201 after slot freed, got %d: %s", status, body)
	}

	t.Logf("✓ Booking lifecycle: commit, conflict, cancel, rebook")
}

// SCENARIO 3: A facility override tightens a rule and evaluation reflects
// it immediately.
func TestOverrideTakesEffect(t *testing.T) {
	config := getTestConfig()

	// With the advance window pulled in to 1 day, a 2-day-out slot violates.
	status, body := call(t, config, "PUT", "/rules/ACC-005",
		map[string]any{"params": map[string]any{"max_days_ahead": 1}})
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}

	status, body = call(t, config, "POST", "/evaluate", offPeakSlot("user-window", "court-2"))
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var result EvaluateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if result.Allowed {
		t.Fatal("Expected advance-window violation after override")
	}
	found := false
	for _, v := range result.Violations {
		if v.Code == "ACC-005" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected ACC-005 violation, got %+v", result.Violations)
	}

	// Dropping the override restores the 14-day default.
	status, _ = call(t, config, "DELETE", "/rules/ACC-005", nil)
	if status != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", status)
	}

	status, body = call(t, config, "POST", "/evaluate", offPeakSlot("user-window", "court-2"))
	json.Unmarshal(body, &result)
	if !result.Allowed {
		t.Errorf("Expected allowed after override removed, got %+v", result.Violations)
	}

	t.Logf("✓ Override applied and reverted")
}

// SCENARIO 4: Strikes accumulate to a lockout that blocks booking.
func TestStrikeLockoutBlocksBooking(t *testing.T) {
	config := getTestConfig()
	userID := "user-struck"

	for i := 0; i < 3; i++ {
		status, body := call(t, config, "POST", "/strikes",
			map[string]string{"userId": userID, "type": "no_show"})
		if status != http.StatusCreated {
			t.Fatalf("Expected status 201, got %d: %s", status, body)
		}
	}

	status, body := call(t, config, "GET", "/strikes/status?userId="+userID, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var lockout struct {
		State       string `json:"state"`
		StrikeCount int    `json:"strikeCount"`
	}
	if err := json.Unmarshal(body, &lockout); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if lockout.State != "locked_out" {
		t.Fatalf("Expected locked_out at 3 strikes, got %s", lockout.State)
	}

	status, body = call(t, config, "POST", "/evaluate", offPeakSlot(userID, "court-3"))
	var result EvaluateResponse
	json.Unmarshal(body, &result)
	if result.Allowed {
		t.Error("Expected lockout to block booking")
	}
	found := false
	for _, v := range result.Violations {
		if v.Code == "ACC-009" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected ACC-009 violation, got %+v", result.Violations)
	}

	t.Logf("✓ Lockout after 3 strikes blocks booking")
}

// SCENARIO 5: Custom advisory rules warn without blocking.
func TestCustomRuleWarns(t *testing.T) {
	config := getTestConfig()

	status, body := call(t, config, "POST", "/rules/custom", map[string]any{
		"name":       "early-riser",
		"expression": "start_time < \"12:00\"",
		"message":    "morning slots close for maintenance twice a month",
	})
	if status != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", status, body)
	}

	status, body = call(t, config, "POST", "/evaluate", offPeakSlot("user-custom", "court-4"))
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var result EvaluateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("Advisory rule must not block, got %+v", result.Violations)
	}
	found := false
	for _, w := range result.Warnings {
		if w.Code == "early-riser" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected early-riser warning, got %+v", result.Warnings)
	}

	t.Logf("✓ Custom rule warned without blocking")
}
