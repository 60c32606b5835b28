package providers

import (
	"encoding/xml"
	"strings"
)

const (
	soapEnvelopeNS  = "http://schemas.xmlsoap.org/soap/envelope/"
	registryTypesNS = "urn://x-artefacts-gnivc-ru/inplat/servin/OpenApiMessageConsumerService/types/1.0"
	authTypesNS     = "urn://x-artefacts-gnivc-ru/ais3/kkt/AuthService/types/1.0"
	ticketTypesNS   = "urn://x-artefacts-gnivc-ru/ais3/kkt/KktTicketService/types/1.0"

	processingStatusPending    = "PENDING"
	processingStatusProcessing = "PROCESSING"
	processingStatusCompleted  = "COMPLETED"
)

type soapRequestEnvelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	SoapNS  string   `xml:"xmlns:soap,attr"`
	Header  struct{} `xml:"soap:Header"`
	Body    soapRequestBody
}

type soapRequestBody struct {
	XMLName xml.Name `xml:"soap:Body"`
	Content interface{}
}

func wrapEnvelope(content interface{}) soapRequestEnvelope {
	return soapRequestEnvelope{
		SoapNS: soapEnvelopeNS,
		Body:   soapRequestBody{Content: content},
	}
}

type authRequest struct {
	XMLName xml.Name `xml:"tns:AuthRequest"`
	NS      string   `xml:"xmlns:tns,attr"`
	AppInfo struct {
		MasterToken string `xml:"tns:MasterToken"`
	} `xml:"tns:AuthAppInfo"`
}

type ticketInfo struct {
	Sum              int64  `xml:"tck:Sum"`
	Date             string `xml:"tck:Date"`
	Fn               string `xml:"tck:Fn"`
	TypeOperation    string `xml:"tck:TypeOperation"`
	FiscalDocumentID string `xml:"tck:FiscalDocumentId"`
	FiscalSign       string `xml:"tck:FiscalSign"`
}

type sendMessageRequest struct {
	XMLName xml.Name `xml:"tns:SendMessageRequest"`
	NS      string   `xml:"xmlns:tns,attr"`
	Message struct {
		GetTicketRequest struct {
			NS   string     `xml:"xmlns:tck,attr"`
			Info ticketInfo `xml:"tck:GetTicketInfo"`
		} `xml:"tck:GetTicketRequest"`
	} `xml:"tns:Message"`
}

type getMessageRequest struct {
	XMLName   xml.Name `xml:"tns:GetMessageRequest"`
	NS        string   `xml:"xmlns:tns,attr"`
	MessageID string   `xml:"tns:MessageId"`
}

// Response side matches on local names only.

type soapResponseEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Fault       *soapFault           `xml:"Fault"`
		Auth        *authResponse        `xml:"AuthResponse"`
		SendMessage *sendMessageResponse `xml:"SendMessageResponse"`
		GetMessage  *getMessageResponse  `xml:"GetMessageResponse"`
	} `xml:"Body"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail struct {
		Entries []faultDetailEntry `xml:",any"`
	} `xml:"detail"`
}

type faultDetailEntry struct {
	XMLName xml.Name
	Message string `xml:",chardata"`
}

type authResponse struct {
	Result struct {
		Token      string `xml:"Token"`
		ExpireTime string `xml:"ExpireTime"`
	} `xml:"Result"`
}

type sendMessageResponse struct {
	MessageID string `xml:"MessageId"`
}

type getMessageResponse struct {
	ProcessingStatus string `xml:"ProcessingStatus"`
	Message          struct {
		GetTicketResponse struct {
			Result struct {
				Code    int    `xml:"Code"`
				Message string `xml:"Message"`
				Ticket  string `xml:"Ticket"`
			} `xml:"Result"`
		} `xml:"GetTicketResponse"`
	} `xml:"Message"`
}

// faultDetailCodes maps documented fault detail element names to error codes.
var faultDetailCodes = map[string]RegistryErrorCode{
	"AuthenticationFault":  CodeAuthRejected,
	"InvalidTokenFault":    CodeAuthRejected,
	"AccessDeniedFault":    CodeIPNotAllowed,
	"RateLimitFault":       CodeRateLimited,
	"TooManyRequestsFault": CodeRateLimited,
	"MessageNotFoundFault": CodeNotFound,
	"ValidationFault":      CodeMalformedRequest,
}

// faultStringCodes maps documented fault strings, compared exactly after trimming.
var faultStringCodes = map[string]RegistryErrorCode{
	"Превышено максимальное количество запросов": CodeRateLimited,
	"Too many requests":                          CodeRateLimited,
	"Доступ запрещен":                            CodeIPNotAllowed,
	"Access denied":                              CodeIPNotAllowed,
	"Токен недействителен":                       CodeAuthRejected,
	"Invalid token":                              CodeAuthRejected,
	"Сообщение не найдено":                       CodeNotFound,
	"Message not found":                          CodeNotFound,
}

func classifyFault(f *soapFault) *RegistryError {
	for _, entry := range f.Detail.Entries {
		if code, ok := faultDetailCodes[entry.XMLName.Local]; ok {
			return newRegistryError(code, faultMessage(f, entry.Message), nil)
		}
	}
	if code, ok := faultStringCodes[strings.TrimSpace(f.String)]; ok {
		return newRegistryError(code, f.String, nil)
	}
	if strings.HasSuffix(f.Code, "Client") {
		return newRegistryError(CodeMalformedRequest, f.String, nil)
	}
	return newRegistryError(CodeTransport, f.String, nil)
}

func faultMessage(f *soapFault, detail string) string {
	if d := strings.TrimSpace(detail); d != "" {
		return d
	}
	return f.String
}
