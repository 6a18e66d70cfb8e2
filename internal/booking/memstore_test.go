package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/rail-ticketing/internal/model"
	"github.com/iliyamo/rail-ticketing/internal/repository"
)

// memDB is an in-memory stand-in for the MySQL schema.  Every operation
// runs under one mutex and applies the same conditional rules as the SQL
// statements, so it serializes exactly the conflicts the database does.
type memDB struct {
	mu sync.Mutex

	schedules     map[uint64]*model.Schedule
	holds         []*model.SeatHold
	wallets       map[uint64]*model.Wallet
	txs           []model.Transaction
	tickets       map[string]*model.Ticket
	bookings      map[string]*model.Booking
	verifications []model.TicketVerification
	nextID        uint64

	// before runs ahead of an operation, outside the lock; a non-nil
	// error is returned instead of running it.
	before func(ctx context.Context, op string) error
	// after runs once an operation committed; a non-nil error is returned
	// although the change is kept.
	after func(ctx context.Context, op string) error
}

func newMemDB() *memDB {
	return &memDB{
		schedules: map[uint64]*model.Schedule{},
		wallets:   map[uint64]*model.Wallet{},
		tickets:   map[string]*model.Ticket{},
		bookings:  map[string]*model.Booking{},
	}
}

func (db *memDB) enter(ctx context.Context, op string) error {
	if db.before != nil {
		if err := db.before(ctx, op); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	return nil
}

func (db *memDB) leave(ctx context.Context, op string, err error) error {
	db.mu.Unlock()
	if err == nil && db.after != nil {
		return db.after(ctx, op)
	}
	return err
}

func (db *memDB) id() uint64 {
	db.nextID++
	return db.nextID
}

// addSchedule and addWallet seed fixtures.
func (db *memDB) addSchedule(seats, fare uint32, departs time.Time) uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	id := db.id()
	db.schedules[id] = &model.Schedule{
		ID:             id,
		TrainID:        1,
		JourneyDate:    departs.Truncate(24 * time.Hour),
		DepartsAt:      departs,
		FareCents:      fare,
		TotalSeats:     seats,
		AvailableSeats: seats,
		Status:         model.ScheduleOpen,
	}
	return id
}

func (db *memDB) addWallet(userID uint64, balance int64) uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	id := db.id()
	db.wallets[id] = &model.Wallet{ID: id, UserID: userID, BalanceCents: balance}
	return id
}

func (db *memDB) available(scheduleID uint64) uint32 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.schedules[scheduleID].AvailableSeats
}

func (db *memDB) balance(walletID uint64) int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.wallets[walletID].BalanceCents
}

func (db *memDB) ledgerSum(walletID uint64) int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	var sum int64
	for _, t := range db.txs {
		if t.WalletID == walletID {
			sum += t.Signed()
		}
	}
	return sum
}

func (db *memDB) liveTickets(scheduleID uint64) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, t := range db.tickets {
		if t.ScheduleID == scheduleID && t.Status != model.TicketVoid {
			n++
		}
	}
	return n
}

func (db *memDB) booking(id string) model.Booking {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.bookings[id]
}

func (db *memDB) onlyBooking() model.Booking {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, b := range db.bookings {
		return *b
	}
	return model.Booking{}
}

type memInventory struct{ *memDB }

func (m memInventory) Get(ctx context.Context, id uint64) (model.Schedule, error) {
	if err := m.enter(ctx, "schedule.get"); err != nil {
		return model.Schedule{}, err
	}
	s, ok := m.schedules[id]
	if !ok {
		return model.Schedule{}, m.leave(ctx, "schedule.get", repository.ErrNotFound)
	}
	out := *s
	return out, m.leave(ctx, "schedule.get", nil)
}

func (m memInventory) ReserveSeats(ctx context.Context, token string, scheduleID uint64, seats []uint32, expiresAt time.Time) error {
	if err := m.enter(ctx, "reserve"); err != nil {
		return err
	}
	s, ok := m.schedules[scheduleID]
	if !ok {
		return m.leave(ctx, "reserve", repository.ErrNotFound)
	}
	for _, h := range m.holds {
		if h.ScheduleID != scheduleID || h.ActiveSeat == nil {
			continue
		}
		for _, seat := range seats {
			if *h.ActiveSeat == seat {
				return m.leave(ctx, "reserve", repository.ErrDuplicate)
			}
		}
	}
	n := uint32(len(seats))
	if s.Status != model.ScheduleOpen || s.AvailableSeats < n {
		return m.leave(ctx, "reserve", repository.ErrConditionFailed)
	}
	s.AvailableSeats -= n
	for _, seat := range seats {
		seat := seat
		m.holds = append(m.holds, &model.SeatHold{
			ID:         m.id(),
			Token:      token,
			ScheduleID: scheduleID,
			SeatNumber: seat,
			ActiveSeat: &seat,
			Status:     model.HoldHeld,
			ExpiresAt:  expiresAt,
		})
	}
	return m.leave(ctx, "reserve", nil)
}

func (m memInventory) ReleaseHold(ctx context.Context, token string, at time.Time) (int, error) {
	if err := m.enter(ctx, "release"); err != nil {
		return 0, err
	}
	n, err := m.releaseLocked(token, model.HoldHeld, at)
	return n, m.leave(ctx, "release", err)
}

func (db *memDB) releaseLocked(token, status string, at time.Time) (int, error) {
	var scheduleID uint64
	n := 0
	for _, h := range db.holds {
		if h.Token == token && h.Status == status {
			h.Status = model.HoldReleased
			h.ActiveSeat = nil
			released := at
			h.ReleasedAt = &released
			scheduleID = h.ScheduleID
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	s := db.schedules[scheduleID]
	if s.AvailableSeats+uint32(n) > s.TotalSeats {
		return 0, repository.ErrConflict
	}
	s.AvailableSeats += uint32(n)
	return n, nil
}

func (m memInventory) ExpiredHoldTokens(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if err := m.enter(ctx, "holds.expired"); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	out := []string{}
	for _, h := range m.holds {
		if h.Status == model.HoldHeld && !h.ExpiresAt.After(now) && !seen[h.Token] && len(out) < limit {
			seen[h.Token] = true
			out = append(out, h.Token)
		}
	}
	return out, m.leave(ctx, "holds.expired", nil)
}

type memLedger struct{ *memDB }

func (m memLedger) Open(ctx context.Context, userID uint64) (model.Wallet, error) {
	if err := m.enter(ctx, "wallet.open"); err != nil {
		return model.Wallet{}, err
	}
	for _, w := range m.wallets {
		if w.UserID == userID {
			return *w, m.leave(ctx, "wallet.open", nil)
		}
	}
	id := m.id()
	m.wallets[id] = &model.Wallet{ID: id, UserID: userID}
	return *m.wallets[id], m.leave(ctx, "wallet.open", nil)
}

func (m memLedger) Get(ctx context.Context, walletID uint64) (model.Wallet, error) {
	if err := m.enter(ctx, "wallet.get"); err != nil {
		return model.Wallet{}, err
	}
	w, ok := m.wallets[walletID]
	if !ok {
		return model.Wallet{}, m.leave(ctx, "wallet.get", repository.ErrNotFound)
	}
	return *w, m.leave(ctx, "wallet.get", nil)
}

func (m memLedger) GetByUser(ctx context.Context, userID uint64) (model.Wallet, error) {
	if err := m.enter(ctx, "wallet.get"); err != nil {
		return model.Wallet{}, err
	}
	for _, w := range m.wallets {
		if w.UserID == userID {
			return *w, m.leave(ctx, "wallet.get", nil)
		}
	}
	return model.Wallet{}, m.leave(ctx, "wallet.get", repository.ErrNotFound)
}

func (m memLedger) Apply(ctx context.Context, t model.Transaction) error {
	op := "apply." + t.Type
	if err := m.enter(ctx, op); err != nil {
		return err
	}
	w, ok := m.wallets[t.WalletID]
	if !ok {
		return m.leave(ctx, op, repository.ErrNotFound)
	}
	if t.Reference != nil {
		for _, prev := range m.txs {
			if prev.Type == t.Type && prev.Reference != nil && *prev.Reference == *t.Reference {
				return m.leave(ctx, op, repository.ErrDuplicate)
			}
		}
	}
	if t.Type == model.TxDebit {
		if w.BalanceCents < t.AmountCents {
			return m.leave(ctx, op, repository.ErrConditionFailed)
		}
		w.BalanceCents -= t.AmountCents
	} else {
		w.BalanceCents += t.AmountCents
	}
	m.txs = append(m.txs, t)
	return m.leave(ctx, op, nil)
}

func (m memLedger) ByReference(ctx context.Context, txType, reference string) (model.Transaction, error) {
	if err := m.enter(ctx, "tx.byref"); err != nil {
		return model.Transaction{}, err
	}
	for _, t := range m.txs {
		if t.Type == txType && t.Reference != nil && *t.Reference == reference {
			return t, m.leave(ctx, "tx.byref", nil)
		}
	}
	return model.Transaction{}, m.leave(ctx, "tx.byref", repository.ErrNotFound)
}

func (m memLedger) History(ctx context.Context, walletID uint64, limit int) ([]model.Transaction, error) {
	if err := m.enter(ctx, "tx.history"); err != nil {
		return nil, err
	}
	out := []model.Transaction{}
	for i := len(m.txs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.txs[i].WalletID == walletID {
			out = append(out, m.txs[i])
		}
	}
	return out, m.leave(ctx, "tx.history", nil)
}

type memTickets struct{ *memDB }

func (m memTickets) CreateWithHold(ctx context.Context, t model.Ticket) error {
	if err := m.enter(ctx, "ticket.create"); err != nil {
		return err
	}
	var hold *model.SeatHold
	for _, h := range m.holds {
		if h.Token == t.HoldToken && h.ScheduleID == t.ScheduleID && h.SeatNumber == t.SeatNumber && h.Status == model.HoldHeld {
			hold = h
		}
	}
	if hold == nil {
		return m.leave(ctx, "ticket.create", repository.ErrConditionFailed)
	}
	for _, other := range m.tickets {
		if other.ScheduleID == t.ScheduleID && other.SeatNumber == t.SeatNumber && other.Status != model.TicketVoid {
			return m.leave(ctx, "ticket.create", repository.ErrDuplicate)
		}
		if other.ID == t.ID || other.TicketHash == t.TicketHash {
			return m.leave(ctx, "ticket.create", repository.ErrDuplicate)
		}
	}
	hold.Status = model.HoldConverted
	stored := t
	m.tickets[t.ID] = &stored
	return m.leave(ctx, "ticket.create", nil)
}

func (m memTickets) Get(ctx context.Context, id string) (model.Ticket, error) {
	if err := m.enter(ctx, "ticket.get"); err != nil {
		return model.Ticket{}, err
	}
	t, ok := m.tickets[id]
	if !ok {
		return model.Ticket{}, m.leave(ctx, "ticket.get", repository.ErrNotFound)
	}
	return *t, m.leave(ctx, "ticket.get", nil)
}

func (m memTickets) GetByHash(ctx context.Context, hash string) (model.Ticket, error) {
	if err := m.enter(ctx, "ticket.get"); err != nil {
		return model.Ticket{}, err
	}
	for _, t := range m.tickets {
		if t.TicketHash == hash {
			return *t, m.leave(ctx, "ticket.get", nil)
		}
	}
	return model.Ticket{}, m.leave(ctx, "ticket.get", repository.ErrNotFound)
}

func (m memTickets) ListByUser(ctx context.Context, userID uint64) ([]model.Ticket, error) {
	if err := m.enter(ctx, "ticket.list"); err != nil {
		return nil, err
	}
	out := []model.Ticket{}
	for _, t := range m.tickets {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, m.leave(ctx, "ticket.list", nil)
}

func (m memTickets) SeatTicketed(ctx context.Context, scheduleID uint64, seat uint32) (bool, error) {
	if err := m.enter(ctx, "ticket.seat"); err != nil {
		return false, err
	}
	for _, t := range m.tickets {
		if t.ScheduleID == scheduleID && t.SeatNumber == seat && t.Status != model.TicketVoid {
			return true, m.leave(ctx, "ticket.seat", nil)
		}
	}
	return false, m.leave(ctx, "ticket.seat", nil)
}

func (m memTickets) MarkUsed(ctx context.Context, id string, at time.Time) error {
	if err := m.enter(ctx, "ticket.use"); err != nil {
		return err
	}
	t, ok := m.tickets[id]
	if !ok || t.Status != model.TicketIssued {
		return m.leave(ctx, "ticket.use", repository.ErrConditionFailed)
	}
	t.Status = model.TicketUsed
	t.UsedAt = &at
	return m.leave(ctx, "ticket.use", nil)
}

func (m memTickets) MarkVoid(ctx context.Context, id string, at time.Time) error {
	if err := m.enter(ctx, "ticket.void"); err != nil {
		return err
	}
	t, ok := m.tickets[id]
	if !ok || t.Status != model.TicketIssued {
		return m.leave(ctx, "ticket.void", repository.ErrConditionFailed)
	}
	t.Status = model.TicketVoid
	t.PaymentStatus = model.PaymentRefunded
	t.VoidedAt = &at
	_, err := m.releaseLocked(t.HoldToken, model.HoldConverted, at)
	return m.leave(ctx, "ticket.void", err)
}

func (m memTickets) RecordVerification(ctx context.Context, v *model.TicketVerification) error {
	if err := m.enter(ctx, "verification.record"); err != nil {
		return err
	}
	// Strict mode rejects values wider than their VARCHAR columns.
	if utf8.RuneCountInString(v.TicketHash) > 64 || utf8.RuneCountInString(v.Location) > 120 {
		return m.leave(ctx, "verification.record", errors.New("data too long for column"))
	}
	v.ID = m.id()
	m.verifications = append(m.verifications, *v)
	return m.leave(ctx, "verification.record", nil)
}

type memBookings struct{ *memDB }

func (m memBookings) Create(ctx context.Context, b model.Booking) error {
	if err := m.enter(ctx, "booking.create"); err != nil {
		return err
	}
	if _, ok := m.bookings[b.ID]; ok {
		return m.leave(ctx, "booking.create", repository.ErrDuplicate)
	}
	m.bookings[b.ID] = &b
	return m.leave(ctx, "booking.create", nil)
}

func (m memBookings) Save(ctx context.Context, b model.Booking) error {
	if err := m.enter(ctx, "booking.save"); err != nil {
		return err
	}
	cur, ok := m.bookings[b.ID]
	if !ok {
		return m.leave(ctx, "booking.save", repository.ErrNotFound)
	}
	cur.State, cur.TransactionID, cur.TicketID, cur.Failure, cur.Deadline = b.State, b.TransactionID, b.TicketID, b.Failure, b.Deadline
	return m.leave(ctx, "booking.save", nil)
}

func (m memBookings) Stale(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	if err := m.enter(ctx, "booking.stale"); err != nil {
		return nil, err
	}
	out := []model.Booking{}
	for _, b := range m.bookings {
		if !b.Terminal() && !b.Deadline.After(now) && len(out) < limit {
			out = append(out, *b)
		}
	}
	return out, m.leave(ctx, "booking.stale", nil)
}

// fixture wires the engine over one memDB with a controllable clock.
type fixture struct {
	db          *memDB
	clock       *clock
	events      *recordingPublisher
	inventory   *Inventory
	ledger      *Ledger
	issuer      *Issuer
	coordinator *Coordinator
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	queues []string
}

func (p *recordingPublisher) Publish(_ context.Context, q string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues = append(p.queues, q)
	return nil
}

func (p *recordingPublisher) count(q string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, got := range p.queues {
		if got == q {
			n++
		}
	}
	return n
}

const testSecret = "test-ticket-secret-0123456789"

func newFixture(opts Options) *fixture {
	db := newMemDB()
	clk := &clock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	opts.Now = clk.Now
	if opts.StepTimeout == 0 {
		opts.StepTimeout = time.Second
	}
	if opts.CompensationTimeout == 0 {
		opts.CompensationTimeout = time.Second
	}
	events := &recordingPublisher{}
	inv := NewInventory(memInventory{db}, opts)
	ledger := NewLedger(memLedger{db}, opts)
	issuer, err := NewIssuer(memTickets{db}, events, testSecret, opts)
	if err != nil {
		panic(err)
	}
	return &fixture{
		db:          db,
		clock:       clk,
		events:      events,
		inventory:   inv,
		ledger:      ledger,
		issuer:      issuer,
		coordinator: NewCoordinator(inv, ledger, issuer, memBookings{db}, events, opts),
	}
}

// reversed reports whether the debit under reference has a reversal
// credit.
func (f *fixture) reversed(t *testing.T, reference string) bool {
	t.Helper()
	_, err := memLedger{f.db}.ByReference(context.Background(), model.TxCredit, reversalPrefix+reference)
	if errors.Is(err, repository.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

// departsIn returns a departure time relative to the fixture clock.
func (f *fixture) departsIn(d time.Duration) time.Time {
	return f.clock.Now().Add(d)
}
