package ads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(ClientOptions{
		HTTP:    srv.Client(),
		BaseURL: srv.URL + "/",
		Version: "v19.0",
		Token:   "tok-123",
	})
}

func TestClient_CreateCampaign(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v19.0/act_42/campaigns", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, ObjectiveTraffic, r.PostForm.Get("objective"))
		assert.Equal(t, StatusPaused, r.PostForm.Get("status"))
		assert.Equal(t, "[]", r.PostForm.Get("special_ad_categories"))
		fmt.Fprint(w, `{"id":"120000001"}`)
	}))
	defer srv.Close()

	id, err := newTestClient(srv).CreateCampaign(context.Background(), "act_42", CampaignSpec{
		Name:      "Inventory",
		Objective: ObjectiveTraffic,
		Status:    StatusPaused,
	})
	require.NoError(t, err)
	assert.Equal(t, "120000001", id)
}

func TestClient_CreateAdSetEncodesTargeting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "/v19.0/act_42/adsets", r.URL.Path)
		assert.Equal(t, "7000", r.PostForm.Get("daily_budget"))
		var targeting Targeting
		assert.NoError(t, json.Unmarshal([]byte(r.PostForm.Get("targeting")), &targeting))
		assert.Equal(t, []string{"SE"}, targeting.Countries)
		assert.Equal(t, []Region{{Key: "Stockholm"}}, targeting.Regions)
		assert.Contains(t, r.PostForm.Get("targeting"), `"custom_locations":[{"latitude":59.33`)
		fmt.Fprint(w, `{"id":"adset-1"}`)
	}))
	defer srv.Close()

	id, err := newTestClient(srv).CreateAdSet(context.Background(), "42", AdSetSpec{
		CampaignID:       "c-1",
		DailyBudgetMinor: 7000,
		Targeting: Targeting{
			Countries: []string{"SE"},
			Regions:   []Region{{Key: "Stockholm"}},
			Custom:    []CustomRadius{{Latitude: 59.33, Longitude: 18.06, Radius: 40, DistanceUnit: DistanceKilometer}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "adset-1", id)
}

func TestClient_DecodesStructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"Invalid parameter","type":"OAuthException","code":100,"error_subcode":1885183,"error_user_title":"Objective not supported","error_user_msg":"The objective is invalid for this account.","fbtrace_id":"AbC"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).CreateCampaign(context.Background(), "42", CampaignSpec{Objective: ObjectiveTraffic})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, 100, apiErr.Code)
	assert.Equal(t, 1885183, apiErr.Subcode)
	assert.Equal(t, "OAuthException", apiErr.Type)
	assert.Equal(t, "AbC", apiErr.TraceID)
	assert.True(t, IsObjectiveRejected(err))
}

func TestClient_UnstructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestClient(srv).Delete(context.Background(), "c-1")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "bad gateway", apiErr.Message)
	assert.False(t, IsObjectiveRejected(err))
}

func TestClient_GetAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v19.0/act_42", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("fields"), "currency")
		fmt.Fprint(w, `{"id":"act_42","name":"Bilhallen","currency":"SEK","account_status":1}`)
	}))
	defer srv.Close()

	account, err := newTestClient(srv).GetAccount(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "SEK", account.Currency)
	assert.Equal(t, 1, account.Status)
}

func TestIsObjectiveRejected(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"code 100 message", &APIError{Code: 100, Message: "Param objective must be one of ..."}, true},
		{"code 100 user message", &APIError{Code: 100, Message: "Invalid parameter", UserMessage: "Choose a different OBJECTIVE"}, true},
		{"code 100 unrelated", &APIError{Code: 100, Message: "Invalid name"}, false},
		{"other code", &APIError{Code: 200, Message: "objective"}, false},
		{"wrapped", fmt.Errorf("create campaign: %w", &APIError{Code: 100, Message: "bad objective"}), true},
		{"plain error", errors.New("objective"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsObjectiveRejected(tc.err))
		})
	}
}

func TestClassify(t *testing.T) {
	msg := Classify(&APIError{Code: 200, Message: "(#200) The user does not have permission on ad account act_42"})
	assert.True(t, strings.HasPrefix(msg, "The ad platform rejected the request (code 200)"))
	assert.True(t, strings.HasSuffix(msg, accountHint))

	msg = Classify(&APIError{Code: 100, Subcode: 33, Message: "raw", UserMessage: "Friendly text", TraceID: "T1"})
	assert.Equal(t, "The ad platform rejected the request (code 100, subcode 33): Friendly text [trace T1]", msg)

	assert.Equal(t, "dial tcp: timeout", Classify(errors.New("dial tcp: timeout")))

	msg = Classify(&APIError{Code: 190, Message: "Error validating access token"})
	assert.NotContains(t, msg, accountHint)
}

func TestSimulated(t *testing.T) {
	sim := NewSimulated()
	ctx := context.Background()

	campaign, err := sim.CreateCampaign(ctx, "42", CampaignSpec{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(campaign, "sim_campaign_"))

	ad, err := sim.CreateAd(ctx, "42", AdSpec{})
	require.NoError(t, err)
	assert.NotEqual(t, campaign, ad)

	require.NoError(t, sim.Delete(ctx, campaign))
	assert.Equal(t, []string{campaign, ad}, sim.Created())
	assert.Equal(t, []string{campaign}, sim.Deleted())
}

func TestAccountPath(t *testing.T) {
	assert.Equal(t, "act_42", AccountPath("42"))
	assert.Equal(t, "act_42", AccountPath("act_42"))
}
