package dmedhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/MedPass/internal/cache"
	"github.com/BearBump/MedPass/internal/integrations/dmed"
	"github.com/pkg/errors"
)

const (
	pathSignIn       = "Authentication/SignInExternalApp"
	pathGetPersons   = "Person/GetPersons"
	pathGetDetail    = "Person/GetPersonDetail"
	pathGetMarkers   = "Person/GetPersonMarkers"
	birthDateLayout  = "2006-01-02T15:04:05"
	maxBodyBytes     = 4 << 20
	markersLimit     = 1024
	DefaultTimeout   = 4 * time.Second
	DefaultTokenTTL  = time.Hour
	tokenCachePrefix = "dmed:token:"
)

type Credentials struct {
	Username string
	Password string
}

// Client is bound to one region URL and must not be shared between goroutines.
type Client struct {
	baseURL  string
	creds    Credentials
	tokens   cache.BytesCache
	tokenTTL time.Duration
	httpc    *http.Client

	// used when no shared cache is configured
	localToken string
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpc.Timeout = d
		}
	}
}

func WithTokenTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.tokenTTL = d
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpc = h
		}
	}
}

func New(baseURL string, creds Credentials, tokens cache.BytesCache, opts ...Option) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	c := &Client{
		baseURL:  baseURL,
		creds:    creds,
		tokens:   tokens,
		tokenTTL: DefaultTokenTTL,
		httpc: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TokenKey is the cache key of the bearer token for one registry endpoint.
func TokenKey(baseURL string) string {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return tokenCachePrefix + baseURL
}

type personResp struct {
	ID            int64  `json:"id"`
	IIN           string `json:"iin"`
	FirstName     string `json:"firstName"`
	SecondName    string `json:"secondName"`
	LastName      string `json:"lastName"`
	FullName      string `json:"fullName"`
	BirthDate     string `json:"birthDate"`
	SexID         int    `json:"sexID"`
	NationalityID *int64 `json:"nationalityID"`
	CitizenshipID *int64 `json:"citizenshipID"`
	RPNID         *int64 `json:"rpnID"`
	MasterDataID  *int64 `json:"masterDataID"`
}

type detailResp struct {
	PhoneNumbers []string `json:"phoneNumbers"`
	Addresses    []struct {
		AddressType int    `json:"addressType"`
		IsMain      bool   `json:"isMain"`
		FullAddress string `json:"fullAddress"`
	} `json:"addresses"`
}

type markersResp struct {
	Data []struct {
		MarkerID   int64  `json:"markerID"`
		MarkerName string `json:"markerName"`
	} `json:"data"`
}

func (c *Client) GetPerson(ctx context.Context, iin string) (*dmed.PersonRecord, error) {
	body, err := c.post(ctx, pathGetPersons, map[string]string{"iin": iin})
	if err != nil {
		return nil, err
	}

	var rows []personResp
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, c.transportErr(pathGetPersons, 0, errors.Wrap(err, "decode persons"))
	}
	if len(rows) == 0 {
		return nil, nil
	}

	r := rows[0]
	rec := &dmed.PersonRecord{
		ID:            r.ID,
		IIN:           iin,
		FirstName:     r.FirstName,
		SecondName:    r.SecondName,
		LastName:      r.LastName,
		FullName:      r.FullName,
		SexID:         r.SexID,
		NationalityID: r.NationalityID,
		CitizenshipID: r.CitizenshipID,
		RPNID:         r.RPNID,
		MasterDataID:  r.MasterDataID,
	}
	if r.BirthDate != "" {
		bd, err := time.ParseInLocation(birthDateLayout, r.BirthDate, time.UTC)
		if err != nil {
			return nil, c.transportErr(pathGetPersons, 0, errors.Wrap(err, "parse birthDate"))
		}
		rec.BirthDate = &bd
	}
	return rec, nil
}

func (c *Client) GetPersonDetail(ctx context.Context, rpnID int64) (*dmed.PersonDetail, error) {
	if rpnID == 0 {
		slog.Info("dmed detail skipped: no rpn id", "endpoint", c.baseURL)
		return nil, nil
	}
	body, err := c.post(ctx, pathGetDetail, rpnID)
	if err != nil {
		return nil, err
	}

	var r detailResp
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, c.transportErr(pathGetDetail, 0, errors.Wrap(err, "decode detail"))
	}

	addrs := make([]dmed.Address, 0, len(r.Addresses))
	for _, a := range r.Addresses {
		addrs = append(addrs, dmed.Address{Type: a.AddressType, IsMain: a.IsMain, FullAddress: strings.TrimSpace(a.FullAddress)})
	}
	residence, work := dmed.SelectAddresses(addrs)

	phones := make([]string, 0, len(r.PhoneNumbers))
	for _, p := range r.PhoneNumbers {
		if p = strings.TrimSpace(p); p != "" {
			phones = append(phones, p)
		}
	}
	return &dmed.PersonDetail{
		PhoneNumbers:   phones,
		ResidencePlace: residence,
		WorkingPlace:   work,
	}, nil
}

func (c *Client) GetPersonMarkers(ctx context.Context, personID int64) ([]dmed.Marker, error) {
	body, err := c.post(ctx, pathGetMarkers, map[string]int64{"personID": personID, "limit": markersLimit})
	if err != nil {
		return nil, err
	}

	var r markersResp
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, c.transportErr(pathGetMarkers, 0, errors.Wrap(err, "decode markers"))
	}
	out := make([]dmed.Marker, 0, len(r.Data))
	for _, m := range r.Data {
		out = append(out, dmed.Marker{ID: m.MarkerID, Name: m.MarkerName})
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	status, body, err := c.do(ctx, path, payload, token)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		// токен протух раньше TTL: сбрасываем, следующий запрос авторизуется заново
		c.dropToken(ctx)
		return nil, c.transportErr(path, status, errors.New("unauthorized"))
	}
	if appErr := c.appError(path, status, body); appErr != nil {
		return nil, appErr
	}
	if status/100 != 2 {
		return nil, c.transportErr(path, status, nil)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, path string, payload any, token string) (int, []byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, errors.Wrap(err, "marshal payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return 0, nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, c.transportErr(path, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, c.transportErr(path, resp.StatusCode, errors.Wrap(err, "read body"))
	}
	return resp.StatusCode, body, nil
}

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	key := TokenKey(c.baseURL)
	if c.tokens != nil {
		b, ok, err := c.tokens.Get(ctx, key)
		if err != nil {
			slog.Warn("dmed token cache get", "endpoint", c.baseURL, "error", err.Error())
		}
		if ok && len(b) > 0 {
			return string(b), nil
		}
	} else if c.localToken != "" {
		return c.localToken, nil
	}

	status, body, err := c.do(ctx, pathSignIn, map[string]string{
		"systemUsername": c.creds.Username,
		"systemPassword": c.creds.Password,
	}, "")
	if err != nil {
		return "", err
	}
	if appErr := c.appError(pathSignIn, status, body); appErr != nil {
		return "", appErr
	}
	if status/100 != 2 {
		return "", c.transportErr(pathSignIn, status, nil)
	}

	token := parseToken(body)
	if token == "" {
		return "", c.transportErr(pathSignIn, status, errors.New("empty token"))
	}

	if c.tokens != nil {
		if err := c.tokens.Set(ctx, key, []byte(token), c.tokenTTL); err != nil {
			slog.Warn("dmed token cache set", "endpoint", c.baseURL, "error", err.Error())
		}
	} else {
		c.localToken = token
	}
	return token, nil
}

func (c *Client) dropToken(ctx context.Context) {
	c.localToken = ""
	if c.tokens == nil {
		return
	}
	if err := c.tokens.Delete(ctx, TokenKey(c.baseURL)); err != nil {
		slog.Warn("dmed token cache delete", "endpoint", c.baseURL, "error", err.Error())
	}
}

// parseToken accepts both a bare token body and a JSON string literal.
func parseToken(body []byte) string {
	raw := strings.TrimSpace(string(body))
	var s string
	if strings.HasPrefix(raw, `"`) && json.Unmarshal([]byte(raw), &s) == nil {
		return s
	}
	return raw
}

// appError detects the registry error envelope: any JSON object carrying Code or message.
func (c *Client) appError(path string, status int, body []byte) error {
	var obj map[string]any
	if json.Unmarshal(body, &obj) != nil {
		return nil
	}
	_, hasCode := obj["Code"]
	_, hasMessage := obj["message"]
	if !hasCode && !hasMessage {
		return nil
	}
	msg, _ := obj["Message"].(string)
	if msg == "" {
		msg, _ = obj["message"].(string)
	}
	return &dmed.Error{
		Kind:     dmed.ErrBadGateway,
		Op:       path,
		Endpoint: c.baseURL,
		Status:   status,
		Message:  msg,
	}
}

func (c *Client) transportErr(path string, status int, err error) error {
	return &dmed.Error{
		Kind:     dmed.ErrTransport,
		Op:       path,
		Endpoint: c.baseURL,
		Status:   status,
		Err:      err,
	}
}
