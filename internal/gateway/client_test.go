package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ocecdr/cdrpush/internal/domain"
)

func eventReply(respType, message string, lastJobID, nextJobID int64, docCount int) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="%s">
 <soap:Body>
  <RequestResponse xmlns="%s">
   <RequestResult>
    <Response>
     <ResponseType>%s</ResponseType>
     <ResponseMessage>%s</ResponseMessage>
     <PubEventResponse>
      <pubType>Export</pubType>
      <lastJobID>%d</lastJobID>
      <nextJobID>%d</nextJobID>
      <docCount>%d</docCount>
     </PubEventResponse>
    </Response>
   </RequestResult>
  </RequestResponse>
 </soap:Body>
</soap:Envelope>`, soapNS, gatekeeperNS, respType, message, lastJobID, nextJobID, docCount)
}

func dataReply(respType string, docNum int) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="%s">
 <soap:Body>
  <RequestResponse xmlns="%s">
   <RequestResult>
    <Response>
     <ResponseType>%s</ResponseType>
     <ResponseMessage>received</ResponseMessage>
     <PubDataResponse><docNum>%d</docNum></PubDataResponse>
    </Response>
   </RequestResult>
  </RequestResponse>
 </soap:Body>
</soap:Envelope>`, soapNS, gatekeeperNS, respType, docNum)
}

func faultReply(code, message string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="%s">
 <soap:Body>
  <soap:Fault>
   <faultcode>%s</faultcode>
   <faultstring>%s</faultstring>
  </soap:Fault>
 </soap:Body>
</soap:Envelope>`, soapNS, code, message)
}

// scriptedTransport fails the first failFirst calls at the connection level
// and then serves a canned body.
type scriptedTransport struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	body      string
}

func (t *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls++
	if t.calls <= t.failFirst {
		return nil, errors.New("connection refused")
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(t.body)),
		Request:    req,
	}, nil
}

func (t *scriptedTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func newTestClient(t *testing.T, transport http.RoundTripper) (*Client, *[]time.Duration) {
	t.Helper()

	httpClient := resty.NewWithClient(&http.Client{Transport: transport})
	client, err := NewClientWithHTTP(Config{
		Host:       "gk.test",
		Source:     "CDR-TEST",
		RetryDelay: time.Second,
	}, httpClient, nil)
	if err != nil {
		t.Fatalf("NewClientWithHTTP() error = %v", err)
	}

	slept := &[]time.Duration{}
	client.sleep = func(d time.Duration) { *slept = append(*slept, d) }
	return client, slept
}

func TestClientInitiate(t *testing.T) {
	t.Parallel()

	var gotBody string
	var gotAction string
	var gotContentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read request body: %v", err)
		}
		gotBody = string(raw)
		gotAction = r.Header.Get("SOAPAction")
		gotContentType = r.Header.Get("Content-Type")

		_, _ = io.WriteString(w, eventReply("OK", "Ready to Accept Data", 55, 56, 0))
	}))
	defer server.Close()

	client, err := NewClientWithHTTP(Config{
		Host:        strings.TrimPrefix(server.URL, "http://"),
		Application: "/",
		Source:      "CDR-TEST",
	}, resty.New(), nil)
	if err != nil {
		t.Fatalf("NewClientWithHTTP() error = %v", err)
	}

	result, err := client.Initiate(context.Background(), domain.PubTypeExport, domain.TargetGateKeeper)
	if err != nil {
		t.Fatalf("Initiate() unexpected error: %v", err)
	}

	if !result.OK() {
		t.Fatalf("result.Type = %q, want OK", result.Type)
	}
	if result.LastJobID != 55 {
		t.Fatalf("LastJobID = %d, want 55", result.LastJobID)
	}

	if gotAction != publishingAction {
		t.Errorf("SOAPAction = %q, want %q", gotAction, publishingAction)
	}
	if gotContentType != contentType {
		t.Errorf("Content-Type = %q, want %q", gotContentType, contentType)
	}
	for _, fragment := range []string{
		"<source>CDR-TEST</source>",
		"<requestID>Status Check</requestID>",
		"<pubType>Export</pubType>",
		"<pubTarget>GateKeeper</pubTarget>",
	} {
		if !strings.Contains(gotBody, fragment) {
			t.Errorf("request body missing %q:\n%s", fragment, gotBody)
		}
	}
}

func TestClientRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{failFirst: 2, body: eventReply("OK", "ready", 10, 11, 0)}
	client, slept := newTestClient(t, transport)

	result, err := client.Initiate(context.Background(), domain.PubTypeExport, domain.TargetGateKeeper)
	if err != nil {
		t.Fatalf("Initiate() unexpected error: %v", err)
	}
	if !result.OK() {
		t.Fatalf("result.Type = %q, want OK", result.Type)
	}

	if got := transport.callCount(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	if len(*slept) != 2 {
		t.Fatalf("sleeps = %d, want 2", len(*slept))
	}
	for _, d := range *slept {
		if d != time.Second {
			t.Fatalf("sleep duration = %v, want %v", d, time.Second)
		}
	}
}

func TestClientExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{failFirst: 100}
	client, _ := newTestClient(t, transport)

	_, err := client.Initiate(context.Background(), domain.PubTypeExport, domain.TargetGateKeeper)
	if err == nil {
		t.Fatal("Initiate() expected error, got nil")
	}

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("error %v does not wrap ErrTransport", err)
	}
	if transportErr.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", transportErr.Attempts)
	}
	if got := transport.callCount(); got != 3 {
		t.Fatalf("attempts = %d, want exactly 3", got)
	}
}

func TestClientFaultNotRetried(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{body: faultReply("soap:Server", "job 42 already closed")}
	client, slept := newTestClient(t, transport)

	_, err := client.SendJobComplete(context.Background(), 42, domain.PubTypeExport, 3, "complete")
	if err == nil {
		t.Fatal("SendJobComplete() expected error, got nil")
	}

	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("error = %v, want *Fault", err)
	}
	if fault.Code != "soap:Server" {
		t.Fatalf("fault.Code = %q, want %q", fault.Code, "soap:Server")
	}

	if got := transport.callCount(); got != 1 {
		t.Fatalf("attempts = %d, want 1: faults must not be retried", got)
	}
	if len(*slept) != 0 {
		t.Fatalf("sleeps = %d, want 0", len(*slept))
	}
}

func TestClientSendDocument(t *testing.T) {
	t.Parallel()

	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		_, _ = io.WriteString(w, dataReply("OK", 7))
	}))
	defer server.Close()

	client, err := NewClientWithHTTP(Config{
		Host:        strings.TrimPrefix(server.URL, "http://"),
		Application: "/",
		Source:      "CDR-TEST",
	}, resty.New(), nil)
	if err != nil {
		t.Fatalf("NewClientWithHTTP() error = %v", err)
	}

	result, err := client.SendDocument(context.Background(), SendDocumentRequest{
		JobID:       42,
		DocNum:      7,
		Transaction: domain.TransactionExport,
		DocType:     "GlossaryTerm",
		DocID:       45678,
		Version:     3,
		Group:       2,
		Body:        "<GlossaryTerm><TermName>adjuvant</TermName></GlossaryTerm>",
	})
	if err != nil {
		t.Fatalf("SendDocument() unexpected error: %v", err)
	}

	if result.DocNum != 7 {
		t.Fatalf("DocNum = %d, want 7", result.DocNum)
	}
	for _, fragment := range []string{
		"<requestID>42</requestID>",
		"<docNum>7</docNum>",
		"<transactionType>Export</transactionType>",
		`Type="GlossaryTerm"`,
		`ID="CDR0000045678"`,
		`Version="3"`,
		`Group="2"`,
		"<TermName>adjuvant</TermName>",
	} {
		if !strings.Contains(gotBody, fragment) {
			t.Errorf("request body missing %q:\n%s", fragment, gotBody)
		}
	}
}

func TestClientRequestStatusSummary(t *testing.T) {
	t.Parallel()

	reply := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="%s">
 <soap:Body>
  <RequestStatusResponse xmlns="%s">
   <RequestStatusResult>
    <Response>
     <detailedMessage>
      <request job="88" type="Export" description="weekly export" status="Done"
               source="CDR-TEST" initiated="2026-08-20" completion="2026-08-21"
               target="Live" expectedDocCount="2" actualDocCount="2">
       <document packet="1" group="1" cdrid="45678" pubType="Export"
                 type="GlossaryTerm" status="OK" dependentStatus="OK" location="Live"/>
       <document packet="2" group="2" cdrid="45690" pubType="Export"
                 type="Summary" status="OK" dependentStatus="OK" location="Live"/>
      </request>
     </detailedMessage>
    </Response>
   </RequestStatusResult>
  </RequestStatusResponse>
 </soap:Body>
</soap:Envelope>`, soapNS, gatekeeperNS)

	transport := &scriptedTransport{body: reply}
	client, _ := newTestClient(t, transport)

	result, err := client.RequestStatus(context.Background(), StatusSummaryType, "88")
	if err != nil {
		t.Fatalf("RequestStatus() unexpected error: %v", err)
	}

	if result.Summary == nil {
		t.Fatal("Summary = nil, want populated")
	}
	if result.Summary.JobID != 88 {
		t.Fatalf("JobID = %d, want 88", result.Summary.JobID)
	}
	if result.Summary.ActualCount != 2 {
		t.Fatalf("ActualCount = %d, want 2", result.Summary.ActualCount)
	}
	if len(result.Summary.Documents) != 2 {
		t.Fatalf("documents = %d, want 2", len(result.Summary.Documents))
	}
	if result.Summary.Documents[0].DocID != 45678 {
		t.Fatalf("document[0].DocID = %d, want 45678", result.Summary.Documents[0].DocID)
	}
}

func TestClientProtocolViolation(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{body: `<?xml version="1.0"?><soap:Envelope xmlns:soap="` + soapNS + `"><soap:Body></soap:Body></soap:Envelope>`}
	client, _ := newTestClient(t, transport)

	_, err := client.Initiate(context.Background(), domain.PubTypeExport, domain.TargetGateKeeper)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("error = %v, want ErrProtocol", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{Source: "CDR-TEST"}, nil); err == nil {
		t.Fatal("expected error for missing host")
	}
	if _, err := NewClient(Config{Host: "gk.test"}, nil); err == nil {
		t.Fatal("expected error for missing source")
	}

	client, err := NewClient(Config{Host: "gk.test", Source: "CDR-TEST"}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client.cfg.RetryAttempts != 3 {
		t.Fatalf("RetryAttempts = %d, want 3", client.cfg.RetryAttempts)
	}
	if client.cfg.RetryDelay != 5*time.Second {
		t.Fatalf("RetryDelay = %v, want 5s", client.cfg.RetryDelay)
	}
	if client.cfg.Application != defaultApplication {
		t.Fatalf("Application = %q, want %q", client.cfg.Application, defaultApplication)
	}
}
