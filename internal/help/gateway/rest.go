package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"neighborly/internal/models"
)

const singleObject = "application/vnd.pgrst.object+json"

// RESTClient talks to the backend through its PostgREST endpoint.
type RESTClient struct {
	httpClient *http.Client
	baseURL    string
	anonKey    string
	timeout    time.Duration
}

// NewRESTClient constructs a client for baseURL (the project URL without the
// /rest/v1 suffix).
func NewRESTClient(httpClient *http.Client, baseURL, anonKey string) *RESTClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RESTClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		timeout:    10 * time.Second,
	}
}

// offerRow is an offer with the embedded helper profile.
type offerRow struct {
	models.Offer
	Profile *struct {
		DisplayName string `json:"display_name"`
	} `json:"profiles"`
}

func (r offerRow) toModel() models.Offer {
	o := r.Offer
	if r.Profile != nil {
		o.HelperDisplayName = r.Profile.DisplayName
	}
	return o
}

func (c *RESTClient) CreateRequest(ctx context.Context, s Session, p CreateRequestParams) (string, error) {
	var id string
	if err := c.rpc(ctx, s, FnCreateRequest, p, &id); err != nil {
		return "", err
	}
	return id, nil
}

func (c *RESTClient) GetRequest(ctx context.Context, s Session, requestID string) (models.HelpRequest, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("id", "eq."+requestID)
	var out models.HelpRequest
	if err := c.get(ctx, s, "requests", q, true, &out); err != nil {
		return models.HelpRequest{}, err
	}
	return out, nil
}

func (c *RESTClient) ListHelpDetails(ctx context.Context, s Session) ([]models.HelpDetail, error) {
	q := url.Values{}
	q.Set("select", "id,name")
	var out []models.HelpDetail
	if err := c.get(ctx, s, "help_details", q, false, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RESTClient) ListPendingOffers(ctx context.Context, s Session, requestID string) ([]models.Offer, error) {
	q := url.Values{}
	q.Set("select", "*,profiles:helper_id(display_name)")
	q.Set("request_id", "eq."+requestID)
	q.Set("status", "eq.pending")
	var rows []offerRow
	if err := c.get(ctx, s, "offers", q, false, &rows); err != nil {
		return nil, err
	}
	out := make([]models.Offer, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// GetMyOffer returns the viewer's offer on a request, or nil if none.
func (c *RESTClient) GetMyOffer(ctx context.Context, s Session, requestID string) (*models.Offer, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("request_id", "eq."+requestID)
	q.Set("helper_id", "eq."+s.UserID)
	q.Set("order", "created_at.desc")
	var rows []models.Offer
	if err := c.get(ctx, s, "offers", q, false, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (c *RESTClient) SubmitOffer(ctx context.Context, s Session, p OfferParams) error {
	return c.do(ctx, s, http.MethodPost, c.baseURL+"/rest/v1/offers", p, "", nil)
}

func (c *RESTClient) AcceptOffer(ctx context.Context, s Session, offerID string) error {
	return c.rpc(ctx, s, FnAcceptOffer, map[string]string{"target_offer_id": offerID}, nil)
}

func (c *RESTClient) GetAssist(ctx context.Context, s Session, assistID string) (models.Assist, error) {
	var out models.Assist
	if err := c.rpc(ctx, s, FnAssistDetails, map[string]string{"t_assist_id": assistID}, &out); err != nil {
		return models.Assist{}, err
	}
	if out.ID == "" {
		return models.Assist{}, models.ErrNoRecord
	}
	out.ApplySnapshot()
	return out, nil
}

func (c *RESTClient) UpdateAssistStatus(ctx context.Context, s Session, assistID, status string) error {
	args := map[string]string{"t_assist_id": assistID, "t_new_status": status}
	return c.rpc(ctx, s, FnUpdateAssistStatus, args, nil)
}

func (c *RESTClient) Feed(ctx context.Context, s Session) (models.Feed, error) {
	var out models.Feed
	if err := c.rpc(ctx, s, FnFeed, struct{}{}, &out); err != nil {
		return models.Feed{}, err
	}
	return out, nil
}

func (c *RESTClient) GenerateInviteCode(ctx context.Context, s Session) (string, error) {
	var code string
	if err := c.rpc(ctx, s, FnInviteCode, struct{}{}, &code); err != nil {
		return "", err
	}
	return code, nil
}

func (c *RESTClient) RequestVouchHandshake(ctx context.Context, s Session) (string, error) {
	var code string
	if err := c.rpc(ctx, s, FnVouchHandshake, struct{}{}, &code); err != nil {
		return "", err
	}
	return code, nil
}

func (c *RESTClient) VouchViaHandshake(ctx context.Context, s Session, code string) error {
	return c.rpc(ctx, s, FnVouchViaHandshake, map[string]string{"entered_code": code}, nil)
}

func (c *RESTClient) rpc(ctx context.Context, s Session, fn string, args, out interface{}) error {
	return c.do(ctx, s, http.MethodPost, c.baseURL+"/rest/v1/rpc/"+fn, args, "", out)
}

func (c *RESTClient) get(ctx context.Context, s Session, table string, q url.Values, single bool, out interface{}) error {
	accept := ""
	if single {
		accept = singleObject
	}
	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", c.baseURL, table, q.Encode())
	return c.do(ctx, s, http.MethodGet, endpoint, nil, accept, out)
}

func (c *RESTClient) do(ctx context.Context, s Session, method, endpoint string, body interface{}, accept string, out interface{}) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: encode body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	token := s.AccessToken
	if token == "" {
		token = c.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RemoteError{
			Status:  http.StatusBadGateway,
			Message: MsgUnreachable,
			Err:     fmt.Errorf("gateway: %s %s: %w", method, req.URL.Path, err),
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("gateway: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeRemoteError(resp.StatusCode, data, accept == singleObject)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("gateway: decode response: %w", err)
	}
	return nil
}

// decodeRemoteError keeps the backend message verbatim. A single-object read
// that matched no row is reported as models.ErrNoRecord.
func decodeRemoteError(status int, data []byte, single bool) error {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(data, &payload)
	if single && status == http.StatusNotAcceptable && payload.Code == "PGRST116" {
		return models.ErrNoRecord
	}
	msg := strings.TrimSpace(payload.Message)
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &RemoteError{Status: status, Message: msg}
}

var _ Backend = (*RESTClient)(nil)
