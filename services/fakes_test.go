package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/malwarebo/cashback/models"
	"github.com/malwarebo/cashback/stores"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memoryDB is an in-memory stand-in for the stores package. Transactions are
// serialized and roll back by restoring a snapshot.
type memoryDB struct {
	mu        sync.Mutex
	txMu      sync.Mutex
	clock     *testClock
	requests  map[string]*models.VerificationRequest
	awards    map[string]*models.CashbackAward
	customers map[string]*models.Customer
	tenants   map[string]*models.Tenant
	offers    []*models.Offer
	audit     []*models.AuditLog
	fail      map[string]error
}

func newMemoryDB(clock *testClock) *memoryDB {
	return &memoryDB{
		clock:     clock,
		requests:  make(map[string]*models.VerificationRequest),
		awards:    make(map[string]*models.CashbackAward),
		customers: make(map[string]*models.Customer),
		tenants:   make(map[string]*models.Tenant),
		fail:      make(map[string]error),
	}
}

type memorySnapshot struct {
	requests  map[string]*models.VerificationRequest
	awards    map[string]*models.CashbackAward
	customers map[string]*models.Customer
	audit     []*models.AuditLog
}

func (db *memoryDB) snapshot() memorySnapshot {
	db.mu.Lock()
	defer db.mu.Unlock()

	snap := memorySnapshot{
		requests:  make(map[string]*models.VerificationRequest, len(db.requests)),
		awards:    make(map[string]*models.CashbackAward, len(db.awards)),
		customers: make(map[string]*models.Customer, len(db.customers)),
		audit:     append([]*models.AuditLog(nil), db.audit...),
	}
	for id, r := range db.requests {
		snap.requests[id] = copyRequest(r)
	}
	for id, a := range db.awards {
		snap.awards[id] = copyAward(a)
	}
	for id, c := range db.customers {
		cp := *c
		snap.customers[id] = &cp
	}
	return snap
}

func (db *memoryDB) restore(snap memorySnapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.requests = snap.requests
	db.awards = snap.awards
	db.customers = snap.customers
	db.audit = snap.audit
}

func (db *memoryDB) failOn(op string, err error) {
	db.mu.Lock()
	db.fail[op] = err
	db.mu.Unlock()
}

// injected must be called with db.mu held.
func (db *memoryDB) injected(op string) error {
	return db.fail[op]
}

func (db *memoryDB) addTenant(t *models.Tenant) {
	db.mu.Lock()
	db.tenants[t.ID] = t
	db.mu.Unlock()
}

func (db *memoryDB) addCustomer(c *models.Customer) {
	db.mu.Lock()
	db.customers[c.ID] = c
	db.mu.Unlock()
}

func (db *memoryDB) addOffer(o *models.Offer) {
	db.mu.Lock()
	db.offers = append(db.offers, o)
	db.mu.Unlock()
}

func (db *memoryDB) balance(customerID string) int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.customers[customerID].Balance
}

func (db *memoryDB) request(id string) *models.VerificationRequest {
	db.mu.Lock()
	defer db.mu.Unlock()
	if r, ok := db.requests[id]; ok {
		return copyRequest(r)
	}
	return nil
}

func (db *memoryDB) awardCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.awards)
}

func (db *memoryDB) auditCount(action models.AuditAction) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, entry := range db.audit {
		if entry.Action == action {
			n++
		}
	}
	return n
}

func copyRequest(r *models.VerificationRequest) *models.VerificationRequest {
	cp := *r
	return &cp
}

func copyAward(a *models.CashbackAward) *models.CashbackAward {
	cp := *a
	cp.Items = append([]models.CashbackAwardItem(nil), a.Items...)
	return &cp
}

type fakeTx struct{ db *memoryDB }

func (t fakeTx) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	t.db.txMu.Lock()
	defer t.db.txMu.Unlock()

	snap := t.db.snapshot()
	if err := fn(ctx); err != nil {
		t.db.restore(snap)
		return err
	}
	return nil
}

type fakeRequests struct{ db *memoryDB }

func (f fakeRequests) Create(ctx context.Context, req *models.VerificationRequest) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.injected("requests.Create"); err != nil {
		return err
	}
	for _, existing := range f.db.requests {
		if existing.Key() == req.Key() {
			return stores.ErrDuplicate
		}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.VerificationStatusPending
	}
	req.CreatedAt = f.db.clock.Now()
	req.UpdatedAt = req.CreatedAt
	f.db.requests[req.ID] = copyRequest(req)
	return nil
}

func (f fakeRequests) Update(ctx context.Context, req *models.VerificationRequest) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.injected("requests.Update"); err != nil {
		return err
	}
	req.UpdatedAt = f.db.clock.Now()
	f.db.requests[req.ID] = copyRequest(req)
	return nil
}

func (f fakeRequests) GetByID(ctx context.Context, id string) (*models.VerificationRequest, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	r, ok := f.db.requests[id]
	if !ok {
		return nil, stores.ErrNotFound
	}
	return copyRequest(r), nil
}

func (f fakeRequests) List(ctx context.Context, filter models.VerificationFilter) ([]*models.VerificationRequest, int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*models.VerificationRequest
	for _, r := range f.db.requests {
		if filter.TenantID != "" && r.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, copyRequest(r))
	}
	return out, int64(len(out)), nil
}

func (f fakeRequests) HasBlockingRequest(ctx context.Context, key models.ReceiptKey) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.injected("requests.HasBlockingRequest"); err != nil {
		return false, err
	}
	for _, r := range f.db.requests {
		if r.Key() != key {
			continue
		}
		switch r.Status {
		case models.VerificationStatusPending, models.VerificationStatusProcessing, models.VerificationStatusSuccess:
			return true, nil
		}
	}
	return false, nil
}

func (f fakeRequests) CountSuccessfulSince(ctx context.Context, customerID string, since time.Time) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.injected("requests.CountSuccessfulSince"); err != nil {
		return 0, err
	}
	var n int64
	for _, r := range f.db.requests {
		if r.CustomerID != nil && *r.CustomerID == customerID &&
			r.Status == models.VerificationStatusSuccess && !r.UpdatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f fakeRequests) HasSameDeclaration(ctx context.Context, customerID string, sumMinor int64, receiptDate, since time.Time) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, r := range f.db.requests {
		if r.CustomerID != nil && *r.CustomerID == customerID && r.SumMinor == sumMinor &&
			r.ReceiptDate.Equal(receiptDate) && !r.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeRequests) CountCreatedSince(ctx context.Context, since time.Time) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var n int64
	for _, r := range f.db.requests {
		if !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f fakeRequests) LockAdvisory(ctx context.Context, key string) error {
	return nil
}

func (f fakeRequests) ClaimPending(ctx context.Context, maxAttempts, limit int, retryAfter time.Duration, now time.Time) ([]*models.VerificationRequest, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()

	var eligible []*models.VerificationRequest
	for _, r := range f.db.requests {
		if r.Status != models.VerificationStatusPending || r.Attempts >= maxAttempts {
			continue
		}
		if r.LastAttemptAt != nil && !r.LastAttemptAt.Before(now.Add(-retryAfter)) {
			continue
		}
		eligible = append(eligible, r)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].CreatedAt.Before(eligible[j].CreatedAt) })
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	claimed := make([]*models.VerificationRequest, 0, len(eligible))
	for _, r := range eligible {
		at := now
		r.Status = models.VerificationStatusProcessing
		r.Attempts++
		r.LastAttemptAt = &at
		claimed = append(claimed, copyRequest(r))
	}
	return claimed, nil
}

func (f fakeRequests) RequeueStale(ctx context.Context, maxAttempts int, olderThan time.Time) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var n int64
	for _, r := range f.db.requests {
		if r.Status != models.VerificationStatusProcessing || r.LastAttemptAt == nil || !r.LastAttemptAt.Before(olderThan) {
			continue
		}
		if r.Attempts >= maxAttempts {
			r.Status = models.VerificationStatusFailed
			r.ErrorCode = "stale"
		} else {
			r.Status = models.VerificationStatusPending
		}
		n++
	}
	return n, nil
}

func (f fakeRequests) MarkAwarded(ctx context.Context, id string, amount int64) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	r, ok := f.db.requests[id]
	if !ok {
		return stores.ErrNotFound
	}
	valid := true
	r.Status = models.VerificationStatusSuccess
	r.CashbackAmount = amount
	r.CashbackAwarded = true
	r.IsValid = &valid
	r.UpdatedAt = f.db.clock.Now()
	return nil
}

type fakeAwards struct{ db *memoryDB }

func (f fakeAwards) Create(ctx context.Context, award *models.CashbackAward) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.injected("awards.Create"); err != nil {
		return err
	}
	for _, existing := range f.db.awards {
		if existing.RequestID == award.RequestID {
			return stores.ErrDuplicate
		}
	}
	award.ID = uuid.NewString()
	award.CreatedAt = f.db.clock.Now()
	for i := range award.Items {
		award.Items[i].ID = uuid.NewString()
		award.Items[i].AwardID = award.ID
	}
	f.db.awards[award.ID] = copyAward(award)
	return nil
}

func (f fakeAwards) GetByID(ctx context.Context, id string) (*models.CashbackAward, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	a, ok := f.db.awards[id]
	if !ok {
		return nil, stores.ErrNotFound
	}
	return copyAward(a), nil
}

func (f fakeAwards) GetByRequestID(ctx context.Context, requestID string) (*models.CashbackAward, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, a := range f.db.awards {
		if a.RequestID == requestID {
			return copyAward(a), nil
		}
	}
	return nil, stores.ErrNotFound
}

func (f fakeAwards) GetForUpdate(ctx context.Context, id string) (*models.CashbackAward, error) {
	return f.GetByID(ctx, id)
}

func (f fakeAwards) MarkCanceled(ctx context.Context, id, adminID, reason string, at time.Time) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	a, ok := f.db.awards[id]
	if !ok || a.Status != models.AwardStatusAwarded {
		return stores.ErrNotFound
	}
	a.Status = models.AwardStatusCanceled
	a.CanceledBy = &adminID
	a.CancelReason = &reason
	a.CanceledAt = &at
	return nil
}

func (f fakeAwards) CountForCustomerSince(ctx context.Context, tenantID, customerID string, since time.Time) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var n int64
	for _, a := range f.db.awards {
		if a.TenantID == tenantID && a.CustomerID == customerID && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type fakeCustomers struct{ db *memoryDB }

func (f fakeCustomers) GetByID(ctx context.Context, id string) (*models.Customer, error) {
	return f.GetForUpdate(ctx, id)
}

func (f fakeCustomers) GetForUpdate(ctx context.Context, id string) (*models.Customer, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c, ok := f.db.customers[id]
	if !ok {
		return nil, stores.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f fakeCustomers) AdjustBalance(ctx context.Context, id string, delta int64) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.injected("customers.AdjustBalance"); err != nil {
		return err
	}
	c, ok := f.db.customers[id]
	if !ok {
		return stores.ErrNotFound
	}
	c.Balance += delta
	return nil
}

type fakeOffers struct{ db *memoryDB }

func (f fakeOffers) ActiveAt(ctx context.Context, tenantID string, at time.Time) ([]*models.Offer, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*models.Offer
	for _, o := range f.db.offers {
		if o.TenantID == tenantID && o.IsActiveAt(at) {
			out = append(out, o)
		}
	}
	return out, nil
}

type fakeTenants struct{ db *memoryDB }

func (f fakeTenants) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.injected("tenants.GetByID"); err != nil {
		return nil, err
	}
	t, ok := f.db.tenants[id]
	if !ok {
		return nil, stores.ErrNotFound
	}
	return t, nil
}

type fakeAudit struct{ db *memoryDB }

func (f fakeAudit) Create(ctx context.Context, log *models.AuditLog) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.injected("audit.Create"); err != nil {
		return err
	}
	log.ID = uuid.NewString()
	f.db.audit = append(f.db.audit, log)
	return nil
}

// fakeRegistry answers by fiscal storage number. Receipts without a script verify
// successfully with no items.
type fakeRegistry struct {
	mu       sync.Mutex
	results  map[string]func() (*models.RegistryOutcome, error)
	submits  map[string]int
	submitFn func(models.ReceiptQuery) error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		results: make(map[string]func() (*models.RegistryOutcome, error)),
		submits: make(map[string]int),
	}
}

func (r *fakeRegistry) script(fn string, result func() (*models.RegistryOutcome, error)) {
	r.mu.Lock()
	r.results[fn] = result
	r.mu.Unlock()
}

func (r *fakeRegistry) submitCount(fn string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.submits[fn]
}

func (r *fakeRegistry) Authenticate(ctx context.Context) (string, time.Time, error) {
	return "token", time.Now().Add(time.Hour), nil
}

func (r *fakeRegistry) Submit(ctx context.Context, query models.ReceiptQuery, token string) (string, error) {
	r.mu.Lock()
	r.submits[query.Key.FiscalStorageNumber]++
	submitFn := r.submitFn
	r.mu.Unlock()
	if submitFn != nil {
		if err := submitFn(query); err != nil {
			return "", err
		}
	}
	return query.Key.FiscalStorageNumber, nil
}

func (r *fakeRegistry) Poll(ctx context.Context, ticketID, token string) (*models.RegistryOutcome, error) {
	return r.WaitForResult(ctx, ticketID, token, 1)
}

func (r *fakeRegistry) WaitForResult(ctx context.Context, ticketID, token string, maxAttempts int) (*models.RegistryOutcome, error) {
	r.mu.Lock()
	result, ok := r.results[ticketID]
	r.mu.Unlock()
	if !ok {
		return &models.RegistryOutcome{Status: models.OutcomeSuccess, ResultCode: 200}, nil
	}
	return result()
}

type fakeTokens struct {
	err         error
	calls       atomic.Int32
	invalidated atomic.Int32
}

func (t *fakeTokens) GetValid(ctx context.Context) (string, error) {
	t.calls.Add(1)
	if t.err != nil {
		return "", t.err
	}
	return "session-token", nil
}

func (t *fakeTokens) Invalidate() {
	t.invalidated.Add(1)
}

var errStorageDown = errors.New("storage unavailable")
