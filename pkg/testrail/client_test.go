package testrail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qaops/railsync/pkg/config"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return NewClient(log, &config.TestRailConfig{
		URL:       srv.URL,
		Email:     "qa@example.com",
		APIKey:    "key",
		ProjectID: 7,
		SuiteID:   2,
		Timeout:   5 * time.Second,
	})
}

func TestListCases_WrappedResponse(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery+r.URL.Path, "get_cases")

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "qa@example.com", user)
		assert.Equal(t, "key", pass)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"offset": 0,
			"cases": []Case{
				{ID: 1, Title: "Get user", AutomationID: "users::get user"},
				{ID: 2, Title: "Delete user", AutomationID: "users::delete user"},
			},
		})
	}))

	cases, err := client.ListCases(context.Background())
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "users::get user", cases[0].AutomationID)
}

func TestListCases_BareArrayResponse(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Case{{ID: 5, Title: "Ping"}})
	}))

	cases, err := client.ListCases(context.Background())
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, 5, cases[0].ID)
}

func TestAddCase(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.RawQuery, "add_case/31")

		var fields CaseFields
		require.NoError(t, json.NewDecoder(r.Body).Decode(&fields))
		assert.Equal(t, "Get user", fields.Title)
		assert.Equal(t, "users::get user", fields.AutomationID)

		_ = json.NewEncoder(w).Encode(Case{ID: 99, Title: fields.Title, AutomationID: fields.AutomationID})
	}))

	created, err := client.AddCase(context.Background(), 31, CaseFields{
		Title:        "Get user",
		AutomationID: "users::get user",
	})
	require.NoError(t, err)
	assert.Equal(t, 99, created.ID)
}

func TestAddRunAndResult(t *testing.T) {
	var runCreated, resultAdded bool

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.RawQuery, "add_run/7"):
			runCreated = true

			var fields RunFields
			require.NoError(t, json.NewDecoder(r.Body).Decode(&fields))
			assert.Equal(t, 2, fields.SuiteID)
			assert.False(t, fields.IncludeAll)

			_ = json.NewEncoder(w).Encode(Run{ID: 12, Name: fields.Name})
		case strings.Contains(r.URL.RawQuery, "add_result_for_case/12/99"):
			resultAdded = true

			var fields ResultFields
			require.NoError(t, json.NewDecoder(r.Body).Decode(&fields))
			assert.Equal(t, StatusIDFailed, fields.StatusID)

			_ = json.NewEncoder(w).Encode(map[string]int{"id": 1})
		default:
			t.Fatalf("unexpected request: %s", r.URL.String())
		}
	}))

	run, err := client.AddRun(context.Background(), RunFields{
		SuiteID: 2,
		Name:    "Build #42 - main",
		CaseIDs: []int{99},
	})
	require.NoError(t, err)
	assert.Equal(t, 12, run.ID)

	err = client.AddResult(context.Background(), run.ID, 99, ResultFields{
		StatusID: StatusIDFailed,
		Elapsed:  "1.25s",
		Comment:  "status code was: 500",
	})
	require.NoError(t, err)

	assert.True(t, runCreated)
	assert.True(t, resultAdded)
}

func TestAPIError(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "field :title is a required field"}`, http.StatusBadRequest)
	}))

	_, err := client.AddCase(context.Background(), 1, CaseFields{})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.False(t, apiErr.Transient())
}

func TestAPIError_Transient(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}

	for _, tt := range tests {
		err := &APIError{StatusCode: tt.status}
		assert.Equal(t, tt.transient, err.Transient(), "status %d", tt.status)
	}
}

func TestPing(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": 7}})
	}))

	require.NoError(t, client.Ping(context.Background()))
}
