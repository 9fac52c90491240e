package gateway

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/ocecdr/cdrpush/internal/domain"
	"github.com/ocecdr/cdrpush/internal/observability"
)

const (
	defaultScheme        = "http"
	defaultApplication   = "/GateKeeper/GateKeeper.asmx"
	defaultRetryAttempts = 3
	defaultRetryDelay    = 5 * time.Second
	defaultHTTPTimeout   = 5 * time.Minute
)

// Config carries the gateway endpoint and retry knobs.
type Config struct {
	Host          string
	Scheme        string
	Application   string
	Source        string
	RetryAttempts int
	RetryDelay    time.Duration
}

func (c *Config) applyDefaults() {
	if c.Scheme == "" {
		c.Scheme = defaultScheme
	}
	if c.Application == "" {
		c.Application = defaultApplication
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = defaultRetryAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
}

// Client speaks the gateway's SOAP dialect. Connection failures are retried
// with a fixed delay; faults and rejections are returned to the caller
// untouched.
type Client struct {
	http    *resty.Client
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics

	sleep func(time.Duration)
}

// NewClient builds a Client with its own HTTP stack.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	return NewClientWithHTTP(cfg, resty.New(), logger)
}

// NewClientWithHTTP builds a Client on a caller-supplied resty client, which
// tests use to inject transports.
func NewClientWithHTTP(cfg Config, httpClient *resty.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("gateway host is required")
	}
	if strings.TrimSpace(cfg.Source) == "" {
		return nil, fmt.Errorf("gateway source is required")
	}
	if httpClient == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	if httpClient.GetClient().Timeout == 0 {
		httpClient.SetTimeout(defaultHTTPTimeout)
	}
	// Retries are driven here so the fixed-delay policy stays observable.
	httpClient.SetRetryCount(0)

	return &Client{
		http:   httpClient,
		cfg:    cfg,
		logger: logger,
		sleep:  time.Sleep,
	}, nil
}

// SetMetrics attaches publishing metrics. Safe to leave unset.
func (c *Client) SetMetrics(m *observability.Metrics) { c.metrics = m }

func (c *Client) url() string {
	return fmt.Sprintf("%s://%s%s", c.cfg.Scheme, c.cfg.Host, c.cfg.Application)
}

// Initiate asks whether the gateway is ready to accept a job of the given
// type. The reply carries the job ID of the last push the gateway has seen.
func (c *Client) Initiate(ctx context.Context, pubType domain.PubType, target domain.Target) (*PubEventResult, error) {
	req := publishingRequest{
		XMLNS:     gatekeeperNS,
		Source:    c.cfg.Source,
		RequestID: statusCheckToken,
		Message: requestMessage{PubEvent: &pubEvent{
			PubType:   pubType.Wire(),
			PubTarget: string(target),
		}},
	}
	return c.sendPubEvent(ctx, req)
}

// SendDataProlog announces a job before any documents flow. lastJobID must
// match what Initiate reported or the gateway refuses the job.
func (c *Client) SendDataProlog(ctx context.Context, jobID int64, pubType domain.PubType, target domain.Target, description string, lastJobID int64) (*PubEventResult, error) {
	req := publishingRequest{
		XMLNS:     gatekeeperNS,
		Source:    c.cfg.Source,
		RequestID: strconv.FormatInt(jobID, 10),
		Message: requestMessage{PubEvent: &pubEvent{
			PubType:     pubType.Wire(),
			PubTarget:   string(target),
			Description: description,
			LastJobID:   strconv.FormatInt(lastJobID, 10),
		}},
	}
	return c.sendPubEvent(ctx, req)
}

// SendDocumentRequest describes one document transaction within a job.
type SendDocumentRequest struct {
	JobID       int64
	DocNum      int
	Transaction domain.TransactionType
	DocType     string
	DocID       int
	Version     int
	Group       int
	Body        string
}

// SendDocument pushes one export or removal. Document numbers must be
// issued consecutively from 1 within a job.
func (c *Client) SendDocument(ctx context.Context, doc SendDocumentRequest) (*PubDataResult, error) {
	req := publishingRequest{
		XMLNS:     gatekeeperNS,
		Source:    c.cfg.Source,
		RequestID: strconv.FormatInt(doc.JobID, 10),
		Message: requestMessage{PubData: &pubData{
			DocNum:          doc.DocNum,
			TransactionType: string(doc.Transaction),
			CDRDoc: cdrDoc{
				Type:    doc.DocType,
				ID:      domain.NormalizeDocID(doc.DocID),
				Version: strconv.Itoa(doc.Version),
				Group:   strconv.Itoa(doc.Group),
				Body:    doc.Body,
			},
		}},
	}

	start := time.Now()
	body, err := c.post(ctx, publishingAction, req)
	if c.metrics != nil {
		c.metrics.ObserveSendDuration(string(doc.Transaction), time.Since(start))
	}
	if err != nil {
		return nil, err
	}

	response, err := parsePublishingResponse(body)
	if err != nil {
		return nil, err
	}

	result := &PubDataResult{Type: response.Type, Message: response.Message}
	if response.PubData != nil {
		result.DocNum = response.PubData.DocNum
	}
	return result, nil
}

// SendJobComplete closes a job with status "complete" or "abort".
func (c *Client) SendJobComplete(ctx context.Context, jobID int64, pubType domain.PubType, docCount int, status string) (*PubEventResult, error) {
	req := publishingRequest{
		XMLNS:     gatekeeperNS,
		Source:    c.cfg.Source,
		RequestID: strconv.FormatInt(jobID, 10),
		Message: requestMessage{PubEvent: &pubEvent{
			PubType:  pubType.Wire(),
			DocCount: strconv.Itoa(docCount),
			Status:   status,
		}},
	}
	return c.sendPubEvent(ctx, req)
}

// StatusType selects what RequestStatus reports on.
type StatusType string

const (
	StatusSingleDocument StatusType = "SingleDocument"
	StatusSummaryType    StatusType = "Summary"
	StatusRequestDetail  StatusType = "RequestDetail"
	StatusDocumentLoc    StatusType = "DocumentLocation"
)

// RequestStatus queries job or document state on the gateway. requestID is a
// job ID for summary queries and a document ID for location queries.
func (c *Client) RequestStatus(ctx context.Context, statusType StatusType, requestID string) (*StatusResult, error) {
	req := statusRequest{
		XMLNS:      gatekeeperNS,
		Source:     c.cfg.Source,
		RequestID:  requestID,
		StatusType: string(statusType),
	}

	body, err := c.post(ctx, statusAction, req)
	if err != nil {
		return nil, err
	}

	var parsed responseEnvelope
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, protocolErr("unparseable status reply: %v", err)
	}
	if parsed.Body.Fault != nil {
		return nil, parsed.Body.Fault
	}
	if parsed.Body.StatusResponse == nil {
		return nil, protocolErr("status reply missing RequestStatusResponse")
	}
	detail := parsed.Body.StatusResponse.Result.Response.Detail
	if detail == nil {
		return nil, protocolErr("status reply missing detailedMessage")
	}

	result := &StatusResult{}
	switch {
	case detail.Request != nil:
		result.Summary = summaryFromXML(detail.Request)
	case detail.DocumentList != nil:
		result.Locations = locationsFromXML(detail.DocumentList)
	default:
		return nil, protocolErr("status reply carries neither request nor documentList")
	}
	return result, nil
}

func (c *Client) sendPubEvent(ctx context.Context, req publishingRequest) (*PubEventResult, error) {
	body, err := c.post(ctx, publishingAction, req)
	if err != nil {
		return nil, err
	}

	response, err := parsePublishingResponse(body)
	if err != nil {
		return nil, err
	}

	result := &PubEventResult{Type: response.Type, Message: response.Message}
	if response.PubEvent != nil {
		result.PubType = response.PubEvent.PubType
		result.LastJobID = atoi64Loose(response.PubEvent.LastJobID)
		result.NextJobID = atoi64Loose(response.PubEvent.NextJobID)
		result.DocCount = atoiLoose(response.PubEvent.DocCount)
	}
	return result, nil
}

// post runs one SOAP exchange. Only the request phase is retried; once the
// gateway answers, the answer stands. The underlying HTTP client skips
// 100 Continue interim responses on its own.
func (c *Client) post(ctx context.Context, action string, payload any) ([]byte, error) {
	requestBody, err := xml.Marshal(wrap(payload))
	if err != nil {
		return nil, fmt.Errorf("marshal gateway request: %w", err)
	}
	requestBody = append([]byte(xml.Header), requestBody...)

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 1 {
			if c.metrics != nil {
				c.metrics.IncTransportRetry()
			}
			c.logger.Warn("retrying gateway request",
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			c.sleep(c.cfg.RetryDelay)
		}

		attempts = attempt
		response, err := c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", contentType).
			SetHeader("SOAPAction", action).
			SetBody(requestBody).
			Post(c.url())
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if response.StatusCode() != 200 {
			return nil, &TransportError{
				Attempts: attempt,
				Cause:    fmt.Errorf("gateway returned status %d", response.StatusCode()),
			}
		}
		return response.Body(), nil
	}

	return nil, &TransportError{Attempts: attempts, Cause: lastErr}
}

func parsePublishingResponse(body []byte) (*publishingResponse, error) {
	var parsed responseEnvelope
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, protocolErr("unparseable reply: %v", err)
	}
	if parsed.Body.Fault != nil {
		return nil, parsed.Body.Fault
	}
	if parsed.Body.RequestResponse == nil {
		return nil, protocolErr("reply missing RequestResponse")
	}
	response := parsed.Body.RequestResponse.Result.Response
	if response.Type == "" {
		return nil, protocolErr("reply missing ResponseType")
	}
	return &response, nil
}
