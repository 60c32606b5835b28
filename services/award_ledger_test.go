package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/malwarebo/cashback/events"
	"github.com/malwarebo/cashback/models"
	"github.com/malwarebo/cashback/utils"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) count(eventType events.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func createTestLedger(db *memoryDB, publisher events.Publisher) *AwardLedger {
	ledger := CreateAwardLedger(fakeTx{db}, fakeAwards{db}, fakeCustomers{db}, fakeRequests{db}, fakeAudit{db}, publisher)
	ledger.now = db.clock.Now
	return ledger
}

func newLedgerFixture(t *testing.T) (*memoryDB, *AwardLedger, *recordingPublisher, *models.VerificationRequest) {
	t.Helper()
	db := newMemoryDB(newTestClock())
	db.addTenant(&models.Tenant{ID: "tenant-1"})
	db.addCustomer(&models.Customer{ID: "cust-1", TenantID: "tenant-1", Balance: 100})
	req := seedRequest(t, db, "9999078900000001", models.VerificationStatusProcessing, "cust-1")
	publisher := &recordingPublisher{}
	return db, createTestLedger(db, publisher), publisher, req
}

func awardRequest(req *models.VerificationRequest, amount int64) AwardRequest {
	return AwardRequest{
		RequestID:  req.ID,
		CustomerID: "cust-1",
		TenantID:   "tenant-1",
		Amount:     amount,
		Items:      []AwardItem{{ProductID: "p-1", OfferID: "o-1", ItemName: "Аспирин", MatchedAmount: amount}},
	}
}

func TestAwardLedger_AwardCreditsCustomer(t *testing.T) {
	db, ledger, publisher, req := newLedgerFixture(t)

	awardID, err := ledger.Award(context.Background(), awardRequest(req, 50))
	if err != nil {
		t.Fatalf("Award() error = %v", err)
	}
	if awardID == "" {
		t.Fatal("Award() returned empty id")
	}

	if got := db.balance("cust-1"); got != 150 {
		t.Errorf("balance = %d, want 150", got)
	}
	stored := db.request(req.ID)
	if stored.Status != models.VerificationStatusSuccess || !stored.CashbackAwarded || stored.CashbackAmount != 50 {
		t.Errorf("request = %s awarded=%v amount=%d, want success/true/50", stored.Status, stored.CashbackAwarded, stored.CashbackAmount)
	}
	if got := db.auditCount(models.AuditActionAward); got != 1 {
		t.Errorf("audit award entries = %d, want 1", got)
	}
	if got := publisher.count(events.TypeCashbackAwarded); got != 1 {
		t.Errorf("awarded events = %d, want 1", got)
	}
}

func TestAwardLedger_AwardIsIdempotent(t *testing.T) {
	db, ledger, publisher, req := newLedgerFixture(t)

	first, err := ledger.Award(context.Background(), awardRequest(req, 50))
	if err != nil {
		t.Fatalf("Award() error = %v", err)
	}
	second, err := ledger.Award(context.Background(), awardRequest(req, 50))
	if err != nil {
		t.Fatalf("second Award() error = %v", err)
	}

	if first != second {
		t.Errorf("second Award() id = %s, want %s", second, first)
	}
	if got := db.balance("cust-1"); got != 150 {
		t.Errorf("balance = %d, want 150", got)
	}
	if got := db.awardCount(); got != 1 {
		t.Errorf("awards = %d, want 1", got)
	}
	if got := publisher.count(events.TypeCashbackAwarded); got != 1 {
		t.Errorf("awarded events = %d, want 1", got)
	}
}

func TestAwardLedger_AwardValidation(t *testing.T) {
	_, ledger, _, req := newLedgerFixture(t)

	tests := []struct {
		name    string
		modify  func(*AwardRequest)
		wantErr error
	}{
		{"zero amount", func(r *AwardRequest) { r.Amount = 0 }, ErrInvalidAward},
		{"no items", func(r *AwardRequest) { r.Items = nil }, ErrInvalidAward},
		{"no customer", func(r *AwardRequest) { r.CustomerID = "" }, ErrInvalidAward},
		{"items do not add up", func(r *AwardRequest) { r.Amount = 60 }, ErrAwardMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ar := awardRequest(req, 50)
			tt.modify(&ar)
			if _, err := ledger.Award(context.Background(), ar); !errors.Is(err, tt.wantErr) {
				t.Errorf("Award() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAwardLedger_AwardRollsBackOnFailure(t *testing.T) {
	db, ledger, publisher, req := newLedgerFixture(t)
	db.failOn("audit.Create", errStorageDown)

	if _, err := ledger.Award(context.Background(), awardRequest(req, 50)); !errors.Is(err, errStorageDown) {
		t.Fatalf("Award() error = %v, want %v", err, errStorageDown)
	}

	if got := db.balance("cust-1"); got != 100 {
		t.Errorf("balance = %d, want 100 after rollback", got)
	}
	if got := db.awardCount(); got != 0 {
		t.Errorf("awards = %d, want 0 after rollback", got)
	}
	if stored := db.request(req.ID); stored.CashbackAwarded {
		t.Error("request marked awarded after rollback")
	}
	if got := publisher.count(events.TypeCashbackAwarded); got != 0 {
		t.Errorf("awarded events = %d, want 0", got)
	}
}

func TestAwardLedger_CancelRestoresBalance(t *testing.T) {
	db, ledger, publisher, req := newLedgerFixture(t)

	awardID, err := ledger.Award(context.Background(), awardRequest(req, 50))
	if err != nil {
		t.Fatalf("Award() error = %v", err)
	}

	refunded, err := ledger.Cancel(context.Background(), awardID, "admin-1", "fraudulent receipt")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if refunded != 50 {
		t.Errorf("Cancel() = %d, want 50", refunded)
	}
	if got := db.balance("cust-1"); got != 100 {
		t.Errorf("balance = %d, want 100", got)
	}

	award, err := ledger.GetAward(context.Background(), awardID)
	if err != nil {
		t.Fatalf("GetAward() error = %v", err)
	}
	if award.Status != models.AwardStatusCanceled {
		t.Errorf("award status = %s, want canceled", award.Status)
	}
	if award.CanceledBy == nil || *award.CanceledBy != "admin-1" {
		t.Errorf("award canceled_by = %v, want admin-1", award.CanceledBy)
	}
	if got := db.auditCount(models.AuditActionAwardCancel); got != 1 {
		t.Errorf("audit cancel entries = %d, want 1", got)
	}
	if got := publisher.count(events.TypeCashbackCanceled); got != 1 {
		t.Errorf("canceled events = %d, want 1", got)
	}
}

func TestAwardLedger_CancelTwice(t *testing.T) {
	db, ledger, _, req := newLedgerFixture(t)

	awardID, _ := ledger.Award(context.Background(), awardRequest(req, 50))
	if _, err := ledger.Cancel(context.Background(), awardID, "admin-1", "first"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	if _, err := ledger.Cancel(context.Background(), awardID, "admin-1", "second"); !errors.Is(err, ErrAlreadyCanceled) {
		t.Errorf("second Cancel() error = %v, want %v", err, ErrAlreadyCanceled)
	}
	if got := db.balance("cust-1"); got != 100 {
		t.Errorf("balance = %d, want 100", got)
	}
	if got := db.auditCount(models.AuditActionAwardCancel); got != 1 {
		t.Errorf("audit cancel entries = %d, want 1", got)
	}
}

func TestAwardLedger_CancelInsufficientBalance(t *testing.T) {
	db, ledger, _, req := newLedgerFixture(t)

	awardID, _ := ledger.Award(context.Background(), awardRequest(req, 50))
	if err := (fakeCustomers{db}).AdjustBalance(context.Background(), "cust-1", -120); err != nil {
		t.Fatalf("spend balance: %v", err)
	}

	if _, err := ledger.Cancel(context.Background(), awardID, "admin-1", "late"); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("Cancel() error = %v, want %v", err, ErrInsufficientBalance)
	}
	if got := db.balance("cust-1"); got != 30 {
		t.Errorf("balance = %d, want 30", got)
	}

	award, _ := ledger.GetAward(context.Background(), awardID)
	if award.Status != models.AwardStatusAwarded {
		t.Errorf("award status = %s, want awarded", award.Status)
	}
}

func TestAwardLedger_CancelUnknownAward(t *testing.T) {
	_, ledger, _, _ := newLedgerFixture(t)

	if _, err := ledger.Cancel(context.Background(), "missing", "admin-1", "x"); !errors.Is(err, ErrAwardNotFound) {
		t.Errorf("Cancel() error = %v, want %v", err, ErrAwardNotFound)
	}
}

func TestAwardLedger_CancelOtherTenant(t *testing.T) {
	db, ledger, _, req := newLedgerFixture(t)

	awardID, _ := ledger.Award(context.Background(), awardRequest(req, 50))

	ctx := utils.WithTenantID(context.Background(), "tenant-2")
	if _, err := ledger.Cancel(ctx, awardID, "admin-2", "x"); !errors.Is(err, ErrAwardNotFound) {
		t.Errorf("Cancel() error = %v, want %v", err, ErrAwardNotFound)
	}
	if _, err := ledger.GetAward(ctx, awardID); !errors.Is(err, ErrAwardNotFound) {
		t.Errorf("GetAward() error = %v, want %v", err, ErrAwardNotFound)
	}
	if got := db.balance("cust-1"); got != 150 {
		t.Errorf("balance = %d, want 150", got)
	}
}

func TestAwardLedger_BalanceConservation(t *testing.T) {
	db := newMemoryDB(newTestClock())
	db.addTenant(&models.Tenant{ID: "tenant-1"})
	db.addCustomer(&models.Customer{ID: "cust-1", TenantID: "tenant-1"})
	ledger := createTestLedger(db, nil)

	amounts := []int64{10, 25, 40, 5}
	var ids []string
	for i, amount := range amounts {
		req := seedRequest(t, db, "999907890000020"+string(rune('0'+i)), models.VerificationStatusProcessing, "cust-1")
		id, err := ledger.Award(context.Background(), awardRequest(req, amount))
		if err != nil {
			t.Fatalf("Award() error = %v", err)
		}
		ids = append(ids, id)
	}

	for _, i := range []int{1, 3} {
		if _, err := ledger.Cancel(context.Background(), ids[i], "admin-1", "audit"); err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
	}

	// balance equals awarded minus canceled
	if got, want := db.balance("cust-1"), int64(10+40); got != want {
		t.Errorf("balance = %d, want %d", got, want)
	}
}
