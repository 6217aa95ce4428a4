package ads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

// Client calls the platform's HTTP API with a bearer token.
type Client struct {
	http    *http.Client
	baseURL string
	version string
	token   string
	limiter *rate.Limiter
}

type ClientOptions struct {
	HTTP    *http.Client
	BaseURL string
	Version string
	Token   string
	// Limiter is shared by all clients of one process; nil means unlimited.
	Limiter *rate.Limiter
}

func NewClient(opts ClientOptions) *Client {
	return &Client{
		http:    opts.HTTP,
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		version: opts.Version,
		token:   opts.Token,
		limiter: opts.Limiter,
	}
}

type createResponse struct {
	ID string `json:"id"`
}

type errorEnvelope struct {
	Error *APIError `json:"error"`
}

func (c *Client) CreateCampaign(ctx context.Context, accountID string, spec CampaignSpec) (string, error) {
	categories, _ := json.Marshal(nonNil(spec.SpecialAdCategories))
	form := url.Values{
		"name":                  {spec.Name},
		"objective":             {spec.Objective},
		"status":                {spec.Status},
		"special_ad_categories": {string(categories)},
	}
	return c.create(ctx, AccountPath(accountID)+"/campaigns", form)
}

func (c *Client) CreateAdSet(ctx context.Context, accountID string, spec AdSetSpec) (string, error) {
	targeting, err := json.Marshal(spec.Targeting)
	if err != nil {
		return "", fmt.Errorf("encode targeting: %w", err)
	}
	form := url.Values{
		"name":              {spec.Name},
		"campaign_id":       {spec.CampaignID},
		"daily_budget":      {strconv.FormatInt(spec.DailyBudgetMinor, 10)},
		"billing_event":     {spec.BillingEvent},
		"optimization_goal": {spec.OptimizationGoal},
		"targeting":         {string(targeting)},
		"status":            {spec.Status},
	}
	return c.create(ctx, AccountPath(accountID)+"/adsets", form)
}

func (c *Client) CreateCreative(ctx context.Context, accountID string, spec CreativeSpec) (string, error) {
	story := map[string]any{
		"page_id": spec.PageID,
		"link_data": map[string]any{
			"link":    spec.Link,
			"message": spec.Message,
			"name":    spec.Headline,
			"picture": spec.ImageURL,
		},
	}
	encoded, err := json.Marshal(story)
	if err != nil {
		return "", fmt.Errorf("encode object story: %w", err)
	}
	form := url.Values{
		"name":              {spec.Name},
		"object_story_spec": {string(encoded)},
	}
	return c.create(ctx, AccountPath(accountID)+"/adcreatives", form)
}

func (c *Client) CreateAd(ctx context.Context, accountID string, spec AdSpec) (string, error) {
	creative, _ := json.Marshal(map[string]string{"creative_id": spec.CreativeID})
	form := url.Values{
		"name":     {spec.Name},
		"adset_id": {spec.AdSetID},
		"creative": {string(creative)},
		"status":   {spec.Status},
	}
	return c.create(ctx, AccountPath(accountID)+"/ads", form)
}

func (c *Client) Delete(ctx context.Context, objectID string) error {
	return c.do(ctx, http.MethodDelete, objectID, nil, nil)
}

func (c *Client) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	var account Account
	path := AccountPath(accountID) + "?fields=id,name,currency,account_status"
	if err := c.do(ctx, http.MethodGet, path, nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *Client) create(ctx context.Context, path string, form url.Values) (string, error) {
	var resp createResponse
	if err := c.do(ctx, http.MethodPost, path, form, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("POST %s: response carried no id", path)
	}
	return resp.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, c.version, strings.TrimPrefix(path, "/"))

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	if resp.StatusCode >= 400 {
		var envelope errorEnvelope
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
			envelope.Error.Status = resp.StatusCode
			return envelope.Error
		}
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
