package providers

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/malwarebo/cashback/models"
	"github.com/malwarebo/cashback/monitoring"
	"github.com/malwarebo/cashback/resilience"
	"github.com/malwarebo/cashback/utils"
	"golang.org/x/time/rate"
)

const (
	tokenHeader     = "FNS-OpenApi-Token"
	userTokenHeader = "FNS-OpenApi-UserToken"

	registryDateLayout = "2006-01-02T15:04:05"
	maxResponseBytes   = 4 << 20
)

// RegistryClient talks to the national fiscal-data registry.
type RegistryClient interface {
	Authenticate(ctx context.Context) (string, time.Time, error)
	Submit(ctx context.Context, receipt models.ReceiptQuery, token string) (string, error)
	Poll(ctx context.Context, ticketID, token string) (*models.RegistryOutcome, error)
	WaitForResult(ctx context.Context, ticketID, token string, maxAttempts int) (*models.RegistryOutcome, error)
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type RegistryConfig struct {
	BaseURL     string
	AuthURL     string
	MasterToken string
	UserToken   string
	Timeout     time.Duration

	RequestsPerSecond float64
	Burst             int

	PendingDelay    time.Duration
	ProcessingDelay time.Duration
	RateLimitDelay  time.Duration
	ErrorDelay      time.Duration

	BreakerMaxFailures int
	BreakerTimeout     time.Duration

	HTTPClient *http.Client
	Sleep      SleepFunc
}

type SOAPRegistryClient struct {
	config     RegistryConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.CircuitBreaker
	sleep      SleepFunc
	logger     *utils.Logger
}

func CreateSOAPRegistryClient(config RegistryConfig) *SOAPRegistryClient {
	if config.AuthURL == "" {
		config.AuthURL = config.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 5
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.PendingDelay <= 0 {
		config.PendingDelay = 3 * time.Second
	}
	if config.ProcessingDelay <= 0 {
		config.ProcessingDelay = 5 * time.Second
	}
	if config.RateLimitDelay <= 0 {
		config.RateLimitDelay = 10 * time.Second
	}
	if config.ErrorDelay <= 0 {
		config.ErrorDelay = 3 * time.Second
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	sleep := config.Sleep
	if sleep == nil {
		sleep = contextSleep
	}

	logger := utils.CreateLogger("registry")
	breaker := resilience.CreateCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "fiscal-registry",
		MaxFailures: config.BreakerMaxFailures,
		Timeout:     config.BreakerTimeout,
		OnStateChange: func(name string, from, to resilience.CircuitState) {
			logger.Warn(context.Background(), "Registry circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	return &SOAPRegistryClient{
		config:     config,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		breaker:    breaker,
		sleep:      sleep,
		logger:     logger,
	}
}

// CheckAvailable fails while the circuit breaker is open.
func (c *SOAPRegistryClient) CheckAvailable(ctx context.Context) error {
	if c.breaker.State() == resilience.CircuitOpen {
		return fmt.Errorf("registry circuit breaker is %s", c.breaker.State())
	}
	return nil
}

func (c *SOAPRegistryClient) Authenticate(ctx context.Context) (string, time.Time, error) {
	req := authRequest{NS: authTypesNS}
	req.AppInfo.MasterToken = c.config.MasterToken

	resp, err := c.call(ctx, "auth", c.config.AuthURL, "", req)
	if err != nil {
		return "", time.Time{}, err
	}
	if resp.Body.Auth == nil || resp.Body.Auth.Result.Token == "" {
		return "", time.Time{}, newRegistryError(CodeTransport, "auth response carries no token", nil)
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(resp.Body.Auth.Result.ExpireTime))
	if err != nil {
		return "", time.Time{}, newRegistryError(CodeTransport, "auth response has invalid expiry", err)
	}

	return resp.Body.Auth.Result.Token, expiresAt, nil
}

func (c *SOAPRegistryClient) Submit(ctx context.Context, receipt models.ReceiptQuery, token string) (string, error) {
	if receipt.Key.IsZero() || receipt.SumMinor < 0 || receipt.Date.IsZero() {
		return "", newRegistryError(CodeMalformedRequest, "incomplete receipt query", nil)
	}

	op := receipt.OperationType
	if op == "" {
		op = "1"
	}

	req := sendMessageRequest{NS: registryTypesNS}
	req.Message.GetTicketRequest.NS = ticketTypesNS
	req.Message.GetTicketRequest.Info = ticketInfo{
		Sum:              receipt.SumMinor,
		Date:             receipt.Date.Format(registryDateLayout),
		Fn:               receipt.Key.FiscalStorageNumber,
		TypeOperation:    op,
		FiscalDocumentID: receipt.Key.FiscalDocumentNumber,
		FiscalSign:       receipt.Key.FiscalSign,
	}

	resp, err := c.call(ctx, "submit", c.config.BaseURL, token, req)
	if err != nil {
		return "", err
	}
	if resp.Body.SendMessage == nil || strings.TrimSpace(resp.Body.SendMessage.MessageID) == "" {
		return "", newRegistryError(CodeTransport, "submit response carries no message id", nil)
	}

	return strings.TrimSpace(resp.Body.SendMessage.MessageID), nil
}

func (c *SOAPRegistryClient) Poll(ctx context.Context, ticketID, token string) (*models.RegistryOutcome, error) {
	if ticketID == "" {
		return nil, newRegistryError(CodeMalformedRequest, "empty ticket id", nil)
	}

	resp, err := c.call(ctx, "poll", c.config.BaseURL, token, getMessageRequest{NS: registryTypesNS, MessageID: ticketID})
	if err != nil {
		return nil, err
	}
	msg := resp.Body.GetMessage
	if msg == nil {
		return nil, newRegistryError(CodeTransport, "poll response carries no message", nil)
	}

	switch strings.ToUpper(strings.TrimSpace(msg.ProcessingStatus)) {
	case processingStatusPending:
		return &models.RegistryOutcome{Status: models.OutcomePending}, nil
	case processingStatusProcessing:
		return &models.RegistryOutcome{Status: models.OutcomeProcessing}, nil
	case processingStatusCompleted:
		result := msg.Message.GetTicketResponse.Result
		return evaluateTicket(result.Code, result.Message, strings.TrimSpace(result.Ticket)), nil
	default:
		return nil, newRegistryError(CodeTransport, fmt.Sprintf("unknown processing status %q", msg.ProcessingStatus), nil)
	}
}

// WaitForResult polls until the ticket reaches a terminal outcome.
// Pending and processing polls and non-fatal errors consume an attempt.
// Rate-limited polls do not, but maxAttempts consecutive ones give up.
func (c *SOAPRegistryClient) WaitForResult(ctx context.Context, ticketID, token string, maxAttempts int) (*models.RegistryOutcome, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	attempts := 0
	rateLimited := 0
	var lastErr error

	for attempts < maxAttempts {
		var delay time.Duration

		outcome, err := c.Poll(ctx, ticketID, token)
		switch {
		case err == nil:
			rateLimited = 0
			switch outcome.Status {
			case models.OutcomePending:
				attempts++
				delay = c.config.PendingDelay
			case models.OutcomeProcessing:
				attempts++
				delay = c.config.ProcessingDelay
			default:
				return outcome, nil
			}
		case errors.Is(err, ErrNotFound):
			return nil, err
		case errors.Is(err, ErrRateLimited):
			rateLimited++
			if rateLimited >= maxAttempts {
				return nil, err
			}
			delay = c.config.RateLimitDelay
		default:
			rateLimited = 0
			attempts++
			lastErr = err
			delay = c.config.ErrorDelay
		}

		if attempts >= maxAttempts {
			break
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, newRegistryError(CodeTransport, "wait interrupted", err)
		}
	}

	return nil, newRegistryError(CodeTimeout, fmt.Sprintf("no result after %d polls", maxAttempts), lastErr)
}

func (c *SOAPRegistryClient) call(ctx context.Context, operation, url, token string, body interface{}) (*soapResponseEnvelope, error) {
	resp, err := c.roundTrip(ctx, url, token, body)
	code := "ok"
	if err != nil {
		code = string(ErrorCode(err))
	}
	monitoring.RegistryCalls.WithLabelValues(operation, code).Inc()

	if err != nil {
		c.logger.Warn(ctx, "Registry call failed", map[string]interface{}{
			"operation": operation,
			"code":      code,
			"error":     err.Error(),
		})
	}
	return resp, err
}

func (c *SOAPRegistryClient) roundTrip(ctx context.Context, url, token string, body interface{}) (*soapResponseEnvelope, error) {
	payload, err := xml.Marshal(wrapEnvelope(body))
	if err != nil {
		return nil, newRegistryError(CodeMalformedRequest, "encode envelope", err)
	}
	payload = append([]byte(xml.Header), payload...)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, newRegistryError(CodeTransport, "throttle wait", err)
	}

	var status int
	var respBody []byte
	err = c.breaker.Execute(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")
		if token != "" {
			httpReq.Header.Set(tokenHeader, token)
		}
		if c.config.UserToken != "" {
			httpReq.Header.Set(userTokenHeader, c.config.UserToken)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return err
		}
		status, respBody = resp.StatusCode, data

		// only server-side trouble trips the breaker
		if status >= 500 && !bytes.Contains(data, []byte("Fault")) {
			return fmt.Errorf("registry returned HTTP %d", status)
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			return nil, newRegistryError(CodeTransport, "circuit open", err)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, newRegistryError(CodeTransport, "request timed out", err)
		default:
			return nil, newRegistryError(CodeTransport, "request failed", err)
		}
	}

	switch status {
	case http.StatusTooManyRequests:
		return nil, newRegistryError(CodeRateLimited, "HTTP 429", nil)
	case http.StatusUnauthorized:
		return nil, newRegistryError(CodeAuthRejected, "HTTP 401", nil)
	case http.StatusForbidden:
		return nil, newRegistryError(CodeIPNotAllowed, "HTTP 403", nil)
	case http.StatusNotFound:
		return nil, newRegistryError(CodeNotFound, "HTTP 404", nil)
	}

	var envelope soapResponseEnvelope
	if err := xml.Unmarshal(respBody, &envelope); err != nil {
		return nil, newRegistryError(CodeTransport, fmt.Sprintf("undecodable response (HTTP %d)", status), err)
	}
	if envelope.Body.Fault != nil {
		return nil, classifyFault(envelope.Body.Fault)
	}
	if status >= 300 {
		return nil, newRegistryError(CodeTransport, fmt.Sprintf("HTTP %d", status), nil)
	}

	return &envelope, nil
}

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
