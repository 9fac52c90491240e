package gateway

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Namespaces and header values fixed by the gateway's service contract.
const (
	soapNS       = "http://schemas.xmlsoap.org/soap/envelope/"
	gatekeeperNS = "http://www.cancer.gov/webservices/"

	publishingAction = "http://www.cancer.gov/webservices/Request"
	statusAction     = "http://www.cancer.gov/webservices/RequestStatus"

	contentType = `text/xml; charset="utf-8"`

	// statusCheckToken is the literal requestID used when no job is being
	// negotiated yet.
	statusCheckToken = "Status Check"
)

// envelope is the outbound SOAP wrapper.
type envelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	SoapNS  string   `xml:"xmlns:soap,attr"`
	Body    envelopeBody
}

type envelopeBody struct {
	XMLName xml.Name `xml:"soap:Body"`
	Payload any
}

func wrap(payload any) envelope {
	return envelope{SoapNS: soapNS, Body: envelopeBody{Payload: payload}}
}

// publishingRequest is the Request element for PubEvent and PubData
// exchanges. The gateway expects its children in the service's default
// namespace.
type publishingRequest struct {
	XMLName   xml.Name       `xml:"Request"`
	XMLNS     string         `xml:"xmlns,attr"`
	Source    string         `xml:"source"`
	RequestID string         `xml:"requestID"`
	Message   requestMessage `xml:"message"`
}

type requestMessage struct {
	PubEvent *pubEvent `xml:"PubEvent,omitempty"`
	PubData  *pubData  `xml:"PubData,omitempty"`
}

type pubEvent struct {
	PubType     string `xml:"pubType"`
	PubTarget   string `xml:"pubTarget,omitempty"`
	Description string `xml:"description,omitempty"`
	LastJobID   string `xml:"lastJobID,omitempty"`
	DocCount    string `xml:"docCount,omitempty"`
	Status      string `xml:"status,omitempty"`
}

type pubData struct {
	DocNum          int    `xml:"docNum"`
	TransactionType string `xml:"transactionType"`
	CDRDoc          cdrDoc `xml:"CDRDoc"`
}

type cdrDoc struct {
	Type    string `xml:"Type,attr"`
	ID      string `xml:"ID,attr"`
	Version string `xml:"Version,attr"`
	Group   string `xml:"Group,attr"`
	Body    string `xml:",innerxml"`
}

// statusRequest is the RequestStatus element for job/document status queries.
type statusRequest struct {
	XMLName    xml.Name `xml:"RequestStatus"`
	XMLNS      string   `xml:"xmlns,attr"`
	Source     string   `xml:"source"`
	RequestID  string   `xml:"requestID,omitempty"`
	StatusType string   `xml:"statusType"`
}

// Fault carries the SOAP failure detail. Faults are terminal for a push job
// and are never retried.
type Fault struct {
	Code    string `xml:"faultcode"`
	Message string `xml:"faultstring"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("gateway fault %s: %s", f.Code, f.Message)
}

// responseEnvelope parses every inbound message shape; which branch is
// populated depends on the request kind.
type responseEnvelope struct {
	XMLName xml.Name     `xml:"Envelope"`
	Body    responseBody `xml:"Body"`
}

type responseBody struct {
	Fault           *Fault                 `xml:"Fault"`
	RequestResponse *requestResponseResult `xml:"RequestResponse"`
	StatusResponse  *statusResponseResult  `xml:"RequestStatusResponse"`
}

type requestResponseResult struct {
	Result struct {
		Response publishingResponse `xml:"Response"`
	} `xml:"RequestResult"`
}

type publishingResponse struct {
	Type     string            `xml:"ResponseType"`
	Message  string            `xml:"ResponseMessage"`
	PubEvent *pubEventResponse `xml:"PubEventResponse"`
	PubData  *pubDataResponse  `xml:"PubDataResponse"`
}

type pubEventResponse struct {
	PubType   string `xml:"pubType"`
	LastJobID string `xml:"lastJobID"`
	NextJobID string `xml:"nextJobID"`
	DocCount  string `xml:"docCount"`
}

type pubDataResponse struct {
	DocNum int `xml:"docNum"`
}

type statusResponseResult struct {
	Result struct {
		Response struct {
			Detail *statusDetail `xml:"detailedMessage"`
		} `xml:"Response"`
	} `xml:"RequestStatusResult"`
}

type statusDetail struct {
	Request      *statusSummaryXML `xml:"request"`
	DocumentList *documentListXML  `xml:"documentList"`
}

type statusSummaryXML struct {
	JobID            string              `xml:"job,attr"`
	RequestType      string              `xml:"type,attr"`
	Description      string              `xml:"description,attr"`
	Status           string              `xml:"status,attr"`
	Source           string              `xml:"source,attr"`
	Initiated        string              `xml:"initiated,attr"`
	Completion       string              `xml:"completion,attr"`
	Target           string              `xml:"target,attr"`
	ExpectedDocCount string              `xml:"expectedDocCount,attr"`
	ActualDocCount   string              `xml:"actualDocCount,attr"`
	Documents        []statusDocumentXML `xml:"document"`
}

type statusDocumentXML struct {
	Packet          string `xml:"packet,attr"`
	Group           string `xml:"group,attr"`
	CdrID           string `xml:"cdrid,attr"`
	PubType         string `xml:"pubType,attr"`
	DocType         string `xml:"type,attr"`
	Status          string `xml:"status,attr"`
	DependentStatus string `xml:"dependentStatus,attr"`
	Location        string `xml:"location,attr"`
}

type documentListXML struct {
	Documents []documentLocationXML `xml:"document"`
}

type documentLocationXML struct {
	CdrID              string `xml:"cdrid,attr"`
	GatekeeperJobID    string `xml:"gatekeeper,attr"`
	GatekeeperDateTime string `xml:"gatekeeperDateTime,attr"`
	PreviewJobID       string `xml:"preview,attr"`
	PreviewDateTime    string `xml:"previewDateTime,attr"`
	LiveJobID          string `xml:"live,attr"`
	LiveDateTime       string `xml:"liveDateTime,attr"`
}

// PubEventResult is the strongly typed reply to Initiate, SendDataProlog,
// and SendJobComplete.
type PubEventResult struct {
	Type      string
	Message   string
	PubType   string
	LastJobID int64
	NextJobID int64
	DocCount  int
}

// OK reports whether the gateway accepted the event.
func (r *PubEventResult) OK() bool { return r.Type == "OK" }

// PubDataResult is the strongly typed reply to SendDocument.
type PubDataResult struct {
	Type    string
	Message string
	DocNum  int
}

func (r *PubDataResult) OK() bool { return r.Type == "OK" }

// StatusSummary reports the gateway's view of one push job.
type StatusSummary struct {
	JobID         int64
	RequestType   string
	Description   string
	Status        string
	Initiated     string
	Completion    string
	Target        string
	ExpectedCount int
	ActualCount   int
	Documents     []StatusDocument
}

// StatusDocument is one document row inside a StatusSummary.
type StatusDocument struct {
	Packet          int
	Group           int
	DocID           int
	PubType         string
	DocType         string
	Status          string
	DependentStatus string
	Location        string
}

// DocumentLocation reports which stages one document currently occupies.
type DocumentLocation struct {
	DocID              int
	GatekeeperJobID    string
	GatekeeperDateTime string
	PreviewJobID       string
	PreviewDateTime    string
	LiveJobID          string
	LiveDateTime       string
}

// StatusResult is the reply to RequestStatus; exactly one field is set.
type StatusResult struct {
	Summary   *StatusSummary
	Locations []DocumentLocation
}

func atoiLoose(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func atoi64Loose(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func summaryFromXML(s *statusSummaryXML) *StatusSummary {
	summary := &StatusSummary{
		JobID:         atoi64Loose(s.JobID),
		RequestType:   s.RequestType,
		Description:   s.Description,
		Status:        s.Status,
		Initiated:     s.Initiated,
		Completion:    s.Completion,
		Target:        s.Target,
		ExpectedCount: atoiLoose(s.ExpectedDocCount),
		ActualCount:   atoiLoose(s.ActualDocCount),
	}
	for _, doc := range s.Documents {
		summary.Documents = append(summary.Documents, StatusDocument{
			Packet:          atoiLoose(doc.Packet),
			Group:           atoiLoose(doc.Group),
			DocID:           atoiLoose(doc.CdrID),
			PubType:         doc.PubType,
			DocType:         doc.DocType,
			Status:          doc.Status,
			DependentStatus: doc.DependentStatus,
			Location:        doc.Location,
		})
	}
	return summary
}

func locationsFromXML(list *documentListXML) []DocumentLocation {
	locations := make([]DocumentLocation, 0, len(list.Documents))
	for _, doc := range list.Documents {
		locations = append(locations, DocumentLocation{
			DocID:              atoiLoose(doc.CdrID),
			GatekeeperJobID:    doc.GatekeeperJobID,
			GatekeeperDateTime: doc.GatekeeperDateTime,
			PreviewJobID:       doc.PreviewJobID,
			PreviewDateTime:    doc.PreviewDateTime,
			LiveJobID:          doc.LiveJobID,
			LiveDateTime:       doc.LiveDateTime,
		})
	}
	return locations
}
