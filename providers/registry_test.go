package providers

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/malwarebo/cashback/models"
)

type fakeResponse struct {
	status int
	body   string
}

type fakeRegistry struct {
	mu        sync.Mutex
	scripts   map[string][]fakeResponse
	calls     map[string]int
	lastBody  string
	lastToken string
}

func createFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		scripts: make(map[string][]fakeResponse),
		calls:   make(map[string]int),
	}
}

// script queues responses for an operation; the last one repeats.
func (f *fakeRegistry) script(op string, responses ...fakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[op] = responses
}

func (f *fakeRegistry) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeRegistry) last() (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBody, f.lastToken
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	op := "unknown"
	switch {
	case bytes.Contains(body, []byte("AuthRequest")):
		op = "auth"
	case bytes.Contains(body, []byte("SendMessageRequest")):
		op = "submit"
	case bytes.Contains(body, []byte("GetMessageRequest")):
		op = "poll"
	}

	f.mu.Lock()
	f.calls[op]++
	f.lastBody = string(body)
	f.lastToken = r.Header.Get(tokenHeader)
	script := f.scripts[op]
	var resp fakeResponse
	switch len(script) {
	case 0:
		resp = fakeResponse{status: http.StatusInternalServerError, body: "no script"}
	case 1:
		resp = script[0]
	default:
		resp = script[0]
		f.scripts[op] = script[1:]
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(resp.status)
	w.Write([]byte(resp.body))
}

func soapOK(inner string) fakeResponse {
	return fakeResponse{status: http.StatusOK, body: envelopeXML(inner)}
}

func envelopeXML(inner string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>` +
		inner + `</soap:Body></soap:Envelope>`
}

func soapFaultResponse(code, message, detail string) fakeResponse {
	inner := fmt.Sprintf(`<soap:Fault><faultcode>%s</faultcode><faultstring>%s</faultstring><detail>%s</detail></soap:Fault>`, code, message, detail)
	return fakeResponse{status: http.StatusInternalServerError, body: envelopeXML(inner)}
}

func pollStatus(status string) fakeResponse {
	return soapOK(`<GetMessageResponse xmlns="urn:test"><ProcessingStatus>` + status + `</ProcessingStatus></GetMessageResponse>`)
}

func pollCompleted(code int, ticket string) fakeResponse {
	var escaped bytes.Buffer
	xml.EscapeText(&escaped, []byte(ticket))
	return soapOK(fmt.Sprintf(`<GetMessageResponse><ProcessingStatus>COMPLETED</ProcessingStatus><Message><GetTicketResponse><Result><Code>%d</Code><Ticket>%s</Ticket></Result></GetTicketResponse></Message></GetMessageResponse>`, code, escaped.String()))
}

const purchaseTicket = `{"content":{"operationType":1,"totalSum":240000,"items":[{"name":"Нурофен 200мг","price":120000,"quantity":2,"sum":240000,"productCode":"4601234567890"}]}}`

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func createTestClient(t *testing.T, fake *fakeRegistry) (*SOAPRegistryClient, *sleepRecorder) {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	recorder := &sleepRecorder{}
	client := CreateSOAPRegistryClient(RegistryConfig{
		BaseURL:           server.URL,
		MasterToken:       "master",
		UserToken:         "pharmacy",
		RequestsPerSecond: 1000,
		Burst:             100,
		Sleep:             recorder.sleep,
	})
	return client, recorder
}

func TestRegistryClient_Authenticate(t *testing.T) {
	fake := createFakeRegistry()
	fake.script("auth", soapOK(`<AuthResponse><Result><Token>session-1</Token><ExpireTime>2030-04-22T13:34:09.123+03:00</ExpireTime></Result></AuthResponse>`))
	client, _ := createTestClient(t, fake)

	token, expiresAt, err := client.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if token != "session-1" {
		t.Errorf("Authenticate() token = %q, want session-1", token)
	}
	if expiresAt.Year() != 2030 {
		t.Errorf("Authenticate() expiresAt = %v, want year 2030", expiresAt)
	}
	if body, _ := fake.last(); !strings.Contains(body, "<tns:MasterToken>master</tns:MasterToken>") {
		t.Errorf("Authenticate() body = %s, want master token", body)
	}
}

func TestRegistryClient_SubmitSendsReceipt(t *testing.T) {
	fake := createFakeRegistry()
	fake.script("submit", soapOK(`<SendMessageResponse><MessageId>msg-42</MessageId></SendMessageResponse>`))
	client, _ := createTestClient(t, fake)

	query := models.ReceiptQuery{
		Key: models.ReceiptKey{
			FiscalStorageNumber:  "9287440300090728",
			FiscalDocumentNumber: "77133",
			FiscalSign:           "1482926127",
		},
		SumMinor:      240000,
		Date:          time.Date(2019, 4, 9, 16, 38, 0, 0, time.UTC),
		OperationType: "1",
	}

	ticketID, err := client.Submit(context.Background(), query, "session-1")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if ticketID != "msg-42" {
		t.Errorf("Submit() = %q, want msg-42", ticketID)
	}
	body, token := fake.last()
	if token != "session-1" {
		t.Errorf("Submit() token header = %q, want session-1", token)
	}
	for _, want := range []string{"<tck:Fn>9287440300090728</tck:Fn>", "<tck:Sum>240000</tck:Sum>", "<tck:Date>2019-04-09T16:38:00</tck:Date>"} {
		if !strings.Contains(body, want) {
			t.Errorf("Submit() body missing %s", want)
		}
	}
}

func TestRegistryClient_SubmitRejectsIncompleteQuery(t *testing.T) {
	fake := createFakeRegistry()
	client, _ := createTestClient(t, fake)

	_, err := client.Submit(context.Background(), models.ReceiptQuery{}, "session-1")
	if !errors.Is(err, ErrMalformedRequest) {
		t.Errorf("Submit() error = %v, want ErrMalformedRequest", err)
	}
	if fake.count("submit") != 0 {
		t.Errorf("Submit() reached the registry with an incomplete query")
	}
}

func TestRegistryClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		response fakeResponse
		want     error
	}{
		{"http 429", fakeResponse{status: http.StatusTooManyRequests}, ErrRateLimited},
		{"http 401", fakeResponse{status: http.StatusUnauthorized}, ErrAuthRejected},
		{"http 403", fakeResponse{status: http.StatusForbidden}, ErrIPNotAllowed},
		{"detail access denied", soapFaultResponse("soap:Client", "whatever", "<AccessDeniedFault>ip 10.0.0.1</AccessDeniedFault>"), ErrIPNotAllowed},
		{"detail rate limit", soapFaultResponse("soap:Server", "", "<RateLimitFault/>"), ErrRateLimited},
		{"detail auth", soapFaultResponse("soap:Client", "", "<AuthenticationFault>expired</AuthenticationFault>"), ErrAuthRejected},
		{"documented fault string", soapFaultResponse("soap:Server", "Превышено максимальное количество запросов", ""), ErrRateLimited},
		{"prose is not matched", soapFaultResponse("soap:Server", "you hit the rate limit, too many requests sent", ""), ErrTransport},
		{"client fault", soapFaultResponse("soap:Client", "Schema violation", ""), ErrMalformedRequest},
		{"bad gateway", fakeResponse{status: http.StatusBadGateway, body: "upstream down"}, ErrTransport},
		{"garbage", fakeResponse{status: http.StatusOK, body: "not xml"}, ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := createFakeRegistry()
			fake.script("submit", tt.response)
			client, _ := createTestClient(t, fake)

			query := models.ReceiptQuery{
				Key:      models.ReceiptKey{FiscalStorageNumber: "9287440300090728", FiscalDocumentNumber: "1", FiscalSign: "2"},
				SumMinor: 100,
				Date:     time.Now(),
			}
			_, err := client.Submit(context.Background(), query, "tok")
			if !errors.Is(err, tt.want) {
				t.Errorf("Submit() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRegistryClient_BreakerOpensOnServerErrors(t *testing.T) {
	fake := createFakeRegistry()
	fake.script("submit", fakeResponse{status: http.StatusBadGateway, body: "upstream down"})
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client := CreateSOAPRegistryClient(RegistryConfig{
		BaseURL:            server.URL,
		MasterToken:        "master",
		RequestsPerSecond:  1000,
		Burst:              100,
		BreakerMaxFailures: 2,
		BreakerTimeout:     time.Hour,
	})
	query := models.ReceiptQuery{
		Key:      models.ReceiptKey{FiscalStorageNumber: "9287440300090728", FiscalDocumentNumber: "1", FiscalSign: "2"},
		SumMinor: 100,
		Date:     time.Now(),
	}

	if err := client.CheckAvailable(context.Background()); err != nil {
		t.Fatalf("CheckAvailable() error = %v, want nil", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := client.Submit(context.Background(), query, "tok"); !errors.Is(err, ErrTransport) {
			t.Errorf("Submit() error = %v, want %v", err, ErrTransport)
		}
	}
	if got := fake.count("submit"); got != 2 {
		t.Errorf("submit calls = %d, want 2", got)
	}
	if err := client.CheckAvailable(context.Background()); err == nil {
		t.Error("CheckAvailable() error = nil, want open breaker")
	}
}

func TestRegistryClient_PollOutcomes(t *testing.T) {
	tests := []struct {
		name             string
		response         fakeResponse
		wantStatus       models.OutcomeStatus
		wantReturn       bool
		wantFake         bool
		wantInconclusive bool
		wantItems        int
	}{
		{"pending", pollStatus("PENDING"), models.OutcomePending, false, false, false, 0},
		{"processing", pollStatus("PROCESSING"), models.OutcomeProcessing, false, false, false, 0},
		{"purchase", pollCompleted(200, purchaseTicket), models.OutcomeSuccess, false, false, false, 1},
		{"document shape", pollCompleted(200, `{"document":{"receipt":{"operationType":1,"totalSum":500,"items":[{"name":"a","price":500,"quantity":1,"sum":500}]}}}`), models.OutcomeSuccess, false, false, false, 1},
		{"return operation", pollCompleted(200, `{"content":{"operationType":2,"totalSum":240000,"items":[{"name":"x","price":240000,"quantity":1,"sum":240000}]}}`), models.OutcomeRejected, true, false, false, 1},
		{"negative sum", pollCompleted(200, `{"content":{"operationType":1,"totalSum":100,"items":[{"name":"x","price":100,"quantity":1,"sum":-100}]}}`), models.OutcomeRejected, true, false, false, 1},
		{"not found code", pollCompleted(404, ""), models.OutcomeRejected, false, true, true, 0},
		{"other code", pollCompleted(500, ""), models.OutcomeRejected, false, false, true, 0},
		{"missing items", pollCompleted(200, `{"content":{"operationType":1,"totalSum":100}}`), models.OutcomeRejected, false, false, true, 0},
		{"incomplete item", pollCompleted(200, `{"content":{"operationType":1,"totalSum":100,"items":[{"name":"x"}]}}`), models.OutcomeRejected, false, false, true, 0},
		{"not json", pollCompleted(200, `<html/>`), models.OutcomeRejected, false, false, true, 0},
		{"incomplete return", pollCompleted(200, `{"content":{"operationType":2,"totalSum":-5000,"items":[{"name":"Аспирин","sum":-5000}]}}`), models.OutcomeRejected, true, false, false, 0},
		{"negative total without items", pollCompleted(200, `{"content":{"operationType":1,"totalSum":-100}}`), models.OutcomeRejected, true, false, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := createFakeRegistry()
			fake.script("poll", tt.response)
			client, _ := createTestClient(t, fake)

			got, err := client.Poll(context.Background(), "msg-1", "tok")
			if err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("Poll() status = %v, want %v", got.Status, tt.wantStatus)
			}
			if got.IsReturn != tt.wantReturn {
				t.Errorf("Poll() IsReturn = %v, want %v", got.IsReturn, tt.wantReturn)
			}
			if got.IsFake != tt.wantFake {
				t.Errorf("Poll() IsFake = %v, want %v", got.IsFake, tt.wantFake)
			}
			if got.Inconclusive != tt.wantInconclusive {
				t.Errorf("Poll() Inconclusive = %v, want %v", got.Inconclusive, tt.wantInconclusive)
			}
			if len(got.Items) != tt.wantItems {
				t.Errorf("Poll() items = %d, want %d", len(got.Items), tt.wantItems)
			}
		})
	}
}

func TestRegistryClient_PollParsesItems(t *testing.T) {
	fake := createFakeRegistry()
	fake.script("poll", pollCompleted(200, purchaseTicket))
	client, _ := createTestClient(t, fake)

	got, err := client.Poll(context.Background(), "msg-1", "tok")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	item := got.Items[0]
	want := models.ReceiptItem{Name: "Нурофен 200мг", ProductCode: "4601234567890", Price: 120000, Quantity: 2, Sum: 240000}
	if item != want {
		t.Errorf("Poll() item = %+v, want %+v", item, want)
	}
	if got.TotalSum != 240000 {
		t.Errorf("Poll() TotalSum = %d, want 240000", got.TotalSum)
	}
}

func TestWaitForResult_PollsUntilTerminal(t *testing.T) {
	fake := createFakeRegistry()
	fake.script("poll", pollStatus("PENDING"), pollStatus("PROCESSING"), pollCompleted(200, purchaseTicket))
	client, recorder := createTestClient(t, fake)

	got, err := client.WaitForResult(context.Background(), "msg-1", "tok", 5)
	if err != nil {
		t.Fatalf("WaitForResult() error = %v", err)
	}
	if got.Status != models.OutcomeSuccess {
		t.Errorf("WaitForResult() status = %v, want success", got.Status)
	}

	want := []time.Duration{3 * time.Second, 5 * time.Second}
	if fmt.Sprint(recorder.delays) != fmt.Sprint(want) {
		t.Errorf("WaitForResult() delays = %v, want %v", recorder.delays, want)
	}
}

func TestWaitForResult_RateLimitedDoesNotConsumeAttempts(t *testing.T) {
	fake := createFakeRegistry()
	fake.script("poll",
		fakeResponse{status: http.StatusTooManyRequests},
		fakeResponse{status: http.StatusTooManyRequests},
		pollStatus("PENDING"),
		pollStatus("PENDING"),
		pollCompleted(200, purchaseTicket),
	)
	client, recorder := createTestClient(t, fake)

	got, err := client.WaitForResult(context.Background(), "msg-1", "tok", 3)
	if err != nil {
		t.Fatalf("WaitForResult() error = %v", err)
	}
	if got.Status != models.OutcomeSuccess {
		t.Errorf("WaitForResult() status = %v, want success", got.Status)
	}
	if fake.count("poll") != 5 {
		t.Errorf("WaitForResult() polls = %d, want 5", fake.count("poll"))
	}
	want := []time.Duration{10 * time.Second, 10 * time.Second, 3 * time.Second, 3 * time.Second}
	if fmt.Sprint(recorder.delays) != fmt.Sprint(want) {
		t.Errorf("WaitForResult() delays = %v, want %v", recorder.delays, want)
	}
}

func TestWaitForResult_PersistentRateLimitGivesUp(t *testing.T) {
	fake := createFakeRegistry()
	fake.script("poll", fakeResponse{status: http.StatusTooManyRequests})
	client, _ := createTestClient(t, fake)

	_, err := client.WaitForResult(context.Background(), "msg-1", "tok", 3)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("WaitForResult() error = %v, want ErrRateLimited", err)
	}
	if fake.count("poll") != 3 {
		t.Errorf("WaitForResult() polls = %d, want 3", fake.count("poll"))
	}
}

func TestWaitForResult_Exhaustion(t *testing.T) {
	fake := createFakeRegistry()
	fake.script("poll", pollStatus("PENDING"))
	client, recorder := createTestClient(t, fake)

	_, err := client.WaitForResult(context.Background(), "msg-1", "tok", 3)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("WaitForResult() error = %v, want ErrTimeout", err)
	}
	if fake.count("poll") != 3 {
		t.Errorf("WaitForResult() polls = %d, want 3", fake.count("poll"))
	}
	if len(recorder.delays) != 2 {
		t.Errorf("WaitForResult() slept %d times, want 2", len(recorder.delays))
	}
}

func TestWaitForResult_NotFoundIsFatal(t *testing.T) {
	fake := createFakeRegistry()
	fake.script("poll", soapFaultResponse("soap:Client", "", "<MessageNotFoundFault>gone</MessageNotFoundFault>"))
	client, _ := createTestClient(t, fake)

	_, err := client.WaitForResult(context.Background(), "msg-1", "tok", 5)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("WaitForResult() error = %v, want ErrNotFound", err)
	}
	if fake.count("poll") != 1 {
		t.Errorf("WaitForResult() polls = %d, want 1", fake.count("poll"))
	}
}

func TestWaitForResult_ContextCanceled(t *testing.T) {
	fake := createFakeRegistry()
	fake.script("poll", pollStatus("PENDING"))
	server := httptest.NewServer(fake)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := CreateSOAPRegistryClient(RegistryConfig{
		BaseURL:           server.URL,
		RequestsPerSecond: 1000,
		Burst:             100,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})

	_, err := client.WaitForResult(ctx, "msg-1", "tok", 5)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("WaitForResult() error = %v, want ErrTransport", err)
	}
}

func TestRegistryError_Is(t *testing.T) {
	err := fmt.Errorf("submit: %w", newRegistryError(CodeRateLimited, "slow down", nil))
	if !errors.Is(err, ErrRateLimited) {
		t.Error("errors.Is(wrapped, ErrRateLimited) = false, want true")
	}
	if errors.Is(err, ErrTransport) {
		t.Error("errors.Is(wrapped, ErrTransport) = true, want false")
	}
	if ErrorCode(err) != CodeRateLimited {
		t.Errorf("ErrorCode() = %v, want %v", ErrorCode(err), CodeRateLimited)
	}
	if ErrorCode(errors.New("plain")) != CodeUnknown {
		t.Errorf("ErrorCode(plain) = %v, want %v", ErrorCode(errors.New("plain")), CodeUnknown)
	}
}
