package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dojohq/booking-management/internal"
	"github.com/dojohq/booking-management/internal/cache"
	"github.com/dojohq/booking-management/internal/core/datamodel/mpesa"
)

const (
	tokenCacheKey    = "mpesa:access_token"
	stkContextPrefix = "mpesa:stk:"

	oauthPath    = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath = "/mpesa/stkpushquery/v1/query"
)

// GatewayAPI is what the booking service and the reconciler need from
// the payment provider.
type GatewayAPI interface {
	STKPush(ctx context.Context, req *mpesa.STKPushRequest, bookingID int64) (*mpesa.STKPushResult, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*mpesa.QueryResult, error)
	PushContext(checkoutRequestID string) (*mpesa.STKContext, bool)
}

// PushAttemptRecorder receives one call per push attempt, so every try
// against the provider leaves an audit trace, not just the final result.
// A nil recorder keeps attempts log-only.
type PushAttemptRecorder interface {
	RecordPushAttempt(bookingID int64, attempt int, attemptErr error)
}

// Client talks to the Daraja REST API. Tokens and push contexts live in
// the injected TTL store so restarts in front of a shared store keep
// in-flight payments correlatable.
type Client struct {
	cfg        internal.MpesaConfig
	store      cache.TTLStore
	attempts   PushAttemptRecorder
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

func NewClient(cfg internal.MpesaConfig, store cache.TTLStore, attempts PushAttemptRecorder, logger *slog.Logger) *Client {
	return &Client{
		cfg:      cfg,
		store:    store,
		attempts: attempts,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger: logger,
		now:    time.Now,
	}
}

// retryBudget converts MaxRetries, which counts total attempts, into the
// extra tries go-retry expects on top of the first one.
func (c *Client) retryBudget() uint64 {
	if c.cfg.MaxRetries <= 1 {
		return 0
	}
	return uint64(c.cfg.MaxRetries - 1)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

type stkQueryPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode      string `json:"ResponseCode"`
	ResultCode        string `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ErrorCode         string `json:"errorCode"`
	ErrorMessage      string `json:"errorMessage"`
}

// AccessToken returns a cached OAuth token or fetches a fresh one. Auth
// rejections are not retried, transient transport failures are.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if v, ok := c.store.Get(tokenCacheKey); ok {
		if token, ok := v.(string); ok && token != "" {
			return token, nil
		}
	}

	var token string
	backoff := retry.WithMaxRetries(c.retryBudget(), retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+oauthPath, nil)
		if err != nil {
			return err
		}
		credentials := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
		req.Header.Set("Authorization", "Basic "+credentials)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("token request failed, retrying", "error", err)
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return internal.NewGatewayError(internal.ErrCodeAuthFailed, "gateway rejected API credentials")
		}
		if resp.StatusCode != http.StatusOK {
			c.logger.Warn("token request returned non-200, retrying", "status", resp.StatusCode)
			return retry.RetryableError(fmt.Errorf("token endpoint returned %d", resp.StatusCode))
		}

		var tr tokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
			return retry.RetryableError(err)
		}
		if tr.AccessToken == "" {
			return retry.RetryableError(fmt.Errorf("token endpoint returned empty token"))
		}
		token = tr.AccessToken
		return nil
	})
	if err != nil {
		if _, ok := internal.IsAppError(err); ok {
			return "", err
		}
		return "", internal.NewGatewayError(internal.ErrCodeNetworkError, "could not obtain gateway access token")
	}

	c.store.Set(tokenCacheKey, token, c.cfg.TokenTTL)
	return token, nil
}

// STKPush validates the request locally, then asks the provider to push
// a payment prompt to the customer's handset. On acceptance the
// initiation context is cached under the checkout request id for later
// correlation by either confirmation channel.
func (c *Client) STKPush(ctx context.Context, req *mpesa.STKPushRequest, bookingID int64) (*mpesa.STKPushResult, error) {
	phone := NormalizePhone(req.PhoneNumber)
	if phone == "" {
		return nil, internal.NewValidationError("invalid Kenyan phone number", internal.ErrCodeInvalidPhone)
	}
	req.PhoneNumber = phone
	if err := req.Validate(); err != nil {
		return nil, internal.NewValidationError(err.Error(), internal.ErrCodeInvalidAmount)
	}

	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	password, timestamp := stkPassword(c.cfg.ShortCode, c.cfg.Passkey, c.now())
	payload := stkPushPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            strconv.FormatInt(req.Amount, 10),
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  req.Reference,
		TransactionDesc:   req.Description,
	}

	var pr stkPushResponse
	attempt := 0
	backoff := retry.WithMaxRetries(c.retryBudget(), retry.NewExponential(time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptErr := func() error {
			resp, body, err := c.postJSON(ctx, stkPushPath, token, payload)
			if err != nil {
				c.logger.Warn("stk push attempt failed, retrying",
					"booking_id", bookingID, "attempt", attempt, "error", err)
				return retry.RetryableError(err)
			}
			if err := json.Unmarshal(body, &pr); err != nil {
				return retry.RetryableError(fmt.Errorf("decode push response: %w", err))
			}
			if resp.StatusCode == http.StatusUnauthorized {
				// token revoked mid-flight; force a refresh on next call
				c.store.Delete(tokenCacheKey)
				return internal.NewGatewayError(internal.ErrCodeAuthFailed, "gateway rejected access token")
			}
			if resp.StatusCode >= 500 {
				return retry.RetryableError(fmt.Errorf("push endpoint returned %d", resp.StatusCode))
			}
			if pr.ErrorCode != "" {
				return internal.NewGatewayError(internal.ErrCodeGatewayRejected, pr.ErrorMessage)
			}
			if pr.ResponseCode != "0" {
				return internal.NewGatewayError(internal.ErrCodeGatewayRejected, pr.ResponseDescription)
			}
			return nil
		}()
		if c.attempts != nil {
			c.attempts.RecordPushAttempt(bookingID, attempt, attemptErr)
		}
		return attemptErr
	})
	if err != nil {
		if _, ok := internal.IsAppError(err); ok {
			return nil, err
		}
		return nil, internal.NewGatewayError(internal.ErrCodeNetworkError, "payment provider unreachable")
	}

	c.store.Set(stkContextPrefix+pr.CheckoutRequestID, &mpesa.STKContext{
		MerchantRequestID: pr.MerchantRequestID,
		PhoneNumber:       phone,
		Amount:            req.Amount,
		Reference:         req.Reference,
		BookingID:         bookingID,
	}, c.cfg.RequestTimeout+10*time.Minute)

	c.logger.Info("stk push accepted",
		"booking_id", bookingID,
		"checkout_request_id", pr.CheckoutRequestID,
		"reference", req.Reference)

	return &mpesa.STKPushResult{
		CheckoutRequestID: pr.CheckoutRequestID,
		MerchantRequestID: pr.MerchantRequestID,
		PhoneNumber:       phone,
		CustomerMessage:   pr.CustomerMessage,
	}, nil
}

// QueryStatus asks the provider for the state of one push. A single
// attempt only: callers poll repeatedly and treat transport errors as
// still pending, so retrying here would just stretch the poll.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (*mpesa.QueryResult, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	password, timestamp := stkPassword(c.cfg.ShortCode, c.cfg.Passkey, c.now())
	payload := stkQueryPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	resp, body, err := c.postJSON(ctx, stkQueryPath, token, payload)
	if err != nil {
		return nil, internal.NewGatewayError(internal.ErrCodeNetworkError, "status query failed")
	}

	var qr stkQueryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, internal.NewGatewayError(internal.ErrCodeNetworkError, "malformed status query response")
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.store.Delete(tokenCacheKey)
		return nil, internal.NewGatewayError(internal.ErrCodeAuthFailed, "gateway rejected access token")
	}

	// the query endpoint reports "still processing" through the error
	// envelope rather than a result code
	if qr.ErrorCode == codeStillProcessing {
		return &mpesa.QueryResult{
			Outcome:    mpesa.OutcomePending,
			ResultCode: qr.ErrorCode,
			ResultDesc: qr.ErrorMessage,
			Raw:        json.RawMessage(body),
		}, nil
	}
	if qr.ErrorCode != "" {
		return nil, internal.NewGatewayError(internal.ErrCodeGatewayRejected, qr.ErrorMessage)
	}

	return &mpesa.QueryResult{
		Outcome:    OutcomeForResultCode(qr.ResultCode),
		ResultCode: qr.ResultCode,
		ResultDesc: qr.ResultDesc,
		Raw:        json.RawMessage(body),
	}, nil
}

// PushContext looks up the cached initiation context for a checkout
// request id, when it is still within the cache window.
func (c *Client) PushContext(checkoutRequestID string) (*mpesa.STKContext, bool) {
	v, ok := c.store.Get(stkContextPrefix + checkoutRequestID)
	if !ok {
		return nil, false
	}
	sc, ok := v.(*mpesa.STKContext)
	return sc, ok
}

func (c *Client) postJSON(ctx context.Context, path, token string, payload interface{}) (*http.Response, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}
