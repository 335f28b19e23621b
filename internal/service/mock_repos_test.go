package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"alcyxob/coaching-engine/internal/domain"
	"alcyxob/coaching-engine/internal/repository"
)

// ── In-memory store shared by the mock repositories ──

type periodKey struct {
	enrollmentID primitive.ObjectID
	index        int
}

type executionKey struct {
	enrollmentID primitive.ObjectID
	period       int
	week         int
	weekday      domain.Weekday
	ref          string
}

func naturalKey(e *domain.Execution) executionKey {
	return executionKey{e.EnrollmentID, e.PeriodIndex, e.Week, e.Weekday, e.ItemRef}
}

type memStore struct {
	mu   sync.Mutex
	txMu sync.Mutex // one transaction at a time, like a serializable store

	users       map[primitive.ObjectID]domain.User
	items       map[primitive.ObjectID]domain.Item
	templates   map[primitive.ObjectID]domain.WeeklyTemplate // by program
	enrollments map[primitive.ObjectID]domain.Enrollment
	periods     map[periodKey]domain.Period
	executions  map[primitive.ObjectID]domain.Execution
	slots       map[primitive.ObjectID]domain.AvailabilitySlot
	bookings    map[primitive.ObjectID]domain.Booking
	credits     map[primitive.ObjectID]domain.ConsultationCredit
	archives    map[primitive.ObjectID]domain.ArchiveSnapshot // by enrollment
	locks       map[string]int

	faults  map[string][]error
	commits int
}

func newMemStore() *memStore {
	return &memStore{
		users:       map[primitive.ObjectID]domain.User{},
		items:       map[primitive.ObjectID]domain.Item{},
		templates:   map[primitive.ObjectID]domain.WeeklyTemplate{},
		enrollments: map[primitive.ObjectID]domain.Enrollment{},
		periods:     map[periodKey]domain.Period{},
		executions:  map[primitive.ObjectID]domain.Execution{},
		slots:       map[primitive.ObjectID]domain.AvailabilitySlot{},
		bookings:    map[primitive.ObjectID]domain.Booking{},
		credits:     map[primitive.ObjectID]domain.ConsultationCredit{},
		archives:    map[primitive.ObjectID]domain.ArchiveSnapshot{},
		locks:       map[string]int{},
		faults:      map[string][]error{},
	}
}

// failNext queues errors returned by the next calls of op ("Booking.Create").
func (m *memStore) failNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], errs...)
}

// transient queues n transient failures for op.
func (m *memStore) transient(op string, n int) {
	for i := 0; i < n; i++ {
		m.failNext(op, &repository.TransientError{Err: fmt.Errorf("%s: write conflict", op)})
	}
}

// fault must be called with mu held.
func (m *memStore) fault(op string) error {
	q := m.faults[op]
	if len(q) == 0 {
		return nil
	}
	m.faults[op] = q[1:]
	return q[0]
}

func (m *memStore) repository() *repository.Repository {
	return &repository.Repository{
		Tx:           &mockTransactor{s: m},
		User:         &mockUserRepo{m},
		Item:         &mockItemRepo{m},
		Template:     &mockTemplateRepo{m},
		Enrollment:   &mockEnrollmentRepo{m},
		Period:       &mockPeriodRepo{m},
		Execution:    &mockExecutionRepo{m},
		Availability: &mockAvailabilityRepo{m},
		Booking:      &mockBookingRepo{m},
		Credit:       &mockCreditRepo{m},
		Archive:      &mockArchiveRepo{m},
	}
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

type memSnapshot struct {
	users       map[primitive.ObjectID]domain.User
	items       map[primitive.ObjectID]domain.Item
	templates   map[primitive.ObjectID]domain.WeeklyTemplate
	enrollments map[primitive.ObjectID]domain.Enrollment
	periods     map[periodKey]domain.Period
	executions  map[primitive.ObjectID]domain.Execution
	slots       map[primitive.ObjectID]domain.AvailabilitySlot
	bookings    map[primitive.ObjectID]domain.Booking
	credits     map[primitive.ObjectID]domain.ConsultationCredit
	archives    map[primitive.ObjectID]domain.ArchiveSnapshot
	locks       map[string]int
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memSnapshot{
		users:       cloneMap(m.users),
		items:       cloneMap(m.items),
		templates:   cloneMap(m.templates),
		enrollments: cloneMap(m.enrollments),
		periods:     cloneMap(m.periods),
		executions:  cloneMap(m.executions),
		slots:       cloneMap(m.slots),
		bookings:    cloneMap(m.bookings),
		credits:     cloneMap(m.credits),
		archives:    cloneMap(m.archives),
		locks:       cloneMap(m.locks),
	}
}

func (m *memStore) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users, m.items, m.templates = s.users, s.items, s.templates
	m.enrollments, m.periods, m.executions = s.enrollments, s.periods, s.executions
	m.slots, m.bookings, m.credits = s.slots, s.bookings, s.credits
	m.archives, m.locks = s.archives, s.locks
}

// ── Mock Transactor ──

type txKey struct{}

type mockTransactor struct {
	s *memStore
}

func (t *mockTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	t.s.txMu.Lock()
	defer t.s.txMu.Unlock()

	before := t.s.snapshot()
	err := fn(context.WithValue(ctx, txKey{}, true))
	if err == nil {
		t.s.mu.Lock()
		err = t.s.fault("Tx.Commit")
		if err == nil {
			t.s.commits++
		}
		t.s.mu.Unlock()
	}
	if err != nil {
		t.s.restore(before)
		return err
	}
	return nil
}

// ── Mock UserRepository ──

type mockUserRepo struct{ s *memStore }

func (r *mockUserRepo) Create(_ context.Context, user *domain.User) (primitive.ObjectID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == user.Email {
			return primitive.NilObjectID, repository.ErrDuplicate
		}
	}
	user.ID = primitive.NewObjectID()
	r.s.users[user.ID] = *user
	return user.ID, nil
}

func (r *mockUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *mockUserRepo) GetByID(_ context.Context, id primitive.ObjectID) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		return &u, nil
	}
	return nil, repository.ErrNotFound
}

// ── Mock ItemRepository ──

type mockItemRepo struct{ s *memStore }

func (r *mockItemRepo) Create(_ context.Context, item *domain.Item) (primitive.ObjectID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item.ID = primitive.NewObjectID()
	r.s.items[item.ID] = *item
	return item.ID, nil
}

func (r *mockItemRepo) GetByID(_ context.Context, id primitive.ObjectID) (*domain.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if it, ok := r.s.items[id]; ok {
		return &it, nil
	}
	return nil, repository.ErrNotFound
}

func (r *mockItemRepo) GetByCoachID(_ context.Context, coachID primitive.ObjectID) ([]domain.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	result := []domain.Item{}
	for _, it := range r.s.items {
		if it.CoachID == coachID {
			result = append(result, it)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r *mockItemRepo) Update(_ context.Context, item *domain.Item) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.items[item.ID]
	if !ok || cur.CoachID != item.CoachID {
		return repository.ErrNotFound
	}
	r.s.items[item.ID] = *item
	return nil
}

func (r *mockItemRepo) Delete(_ context.Context, id, coachID primitive.ObjectID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.items[id]
	if !ok || cur.CoachID != coachID {
		return repository.ErrNotFound
	}
	delete(r.s.items, id)
	return nil
}

// ── Mock TemplateRepository ──

type mockTemplateRepo struct{ s *memStore }

func (r *mockTemplateRepo) GetByProgramID(_ context.Context, programID primitive.ObjectID) (*domain.WeeklyTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Template.GetByProgramID"); err != nil {
		return nil, err
	}
	if t, ok := r.s.templates[programID]; ok {
		return &t, nil
	}
	return nil, repository.ErrNotFound
}

func (r *mockTemplateRepo) Save(_ context.Context, tpl *domain.WeeklyTemplate) (*domain.WeeklyTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	saved := *tpl
	if cur, ok := r.s.templates[tpl.ProgramID]; ok {
		saved.ID = cur.ID
		saved.Version = cur.Version + 1
		saved.CreatedAt = cur.CreatedAt
	} else {
		saved.ID = primitive.NewObjectID()
		saved.Version = 1
	}
	r.s.templates[tpl.ProgramID] = saved
	return &saved, nil
}

// ── Mock EnrollmentRepository ──

type mockEnrollmentRepo struct{ s *memStore }

func (r *mockEnrollmentRepo) Create(_ context.Context, enr *domain.Enrollment) (primitive.ObjectID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Enrollment.Create"); err != nil {
		return primitive.NilObjectID, err
	}
	for _, cur := range r.s.enrollments {
		if enr.IsOpen() && cur.IsOpen() && cur.ClientID == enr.ClientID && cur.ProgramID == enr.ProgramID {
			return primitive.NilObjectID, repository.ErrDuplicate
		}
	}
	enr.ID = primitive.NewObjectID()
	r.s.enrollments[enr.ID] = *enr
	return enr.ID, nil
}

func (r *mockEnrollmentRepo) GetByID(_ context.Context, id primitive.ObjectID) (*domain.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e, ok := r.s.enrollments[id]; ok {
		return &e, nil
	}
	return nil, repository.ErrNotFound
}

func (r *mockEnrollmentRepo) filter(keep func(e *domain.Enrollment) bool) []domain.Enrollment {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	result := []domain.Enrollment{}
	for _, e := range r.s.enrollments {
		if keep(&e) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID.Hex() < result[j].ID.Hex() })
	return result
}

func (r *mockEnrollmentRepo) GetByClientID(_ context.Context, clientID primitive.ObjectID) ([]domain.Enrollment, error) {
	return r.filter(func(e *domain.Enrollment) bool { return e.ClientID == clientID }), nil
}

func (r *mockEnrollmentRepo) GetByCoachID(_ context.Context, coachID primitive.ObjectID) ([]domain.Enrollment, error) {
	return r.filter(func(e *domain.Enrollment) bool { return e.CoachID == coachID }), nil
}

func (r *mockEnrollmentRepo) Update(_ context.Context, enr *domain.Enrollment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Enrollment.Update"); err != nil {
		return err
	}
	cur, ok := r.s.enrollments[enr.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Status = enr.Status
	cur.Progress = enr.Progress
	cur.CurrentPeriod = enr.CurrentPeriod
	cur.UpdatedAt = enr.UpdatedAt
	r.s.enrollments[enr.ID] = cur
	return nil
}

func (r *mockEnrollmentRepo) ListActiveEndingBefore(_ context.Context, t time.Time) ([]domain.Enrollment, error) {
	return r.filter(func(e *domain.Enrollment) bool {
		return e.Status == domain.EnrollmentActive && e.EndsAt.Before(t)
	}), nil
}

func (r *mockEnrollmentRepo) ListByStatus(_ context.Context, status domain.EnrollmentStatus) ([]domain.Enrollment, error) {
	return r.filter(func(e *domain.Enrollment) bool { return e.Status == status }), nil
}

// ── Mock PeriodRepository ──

type mockPeriodRepo struct{ s *memStore }

func (r *mockPeriodRepo) Create(_ context.Context, p *domain.Period) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Period.Create"); err != nil {
		return err
	}
	key := periodKey{p.EnrollmentID, p.PeriodIndex}
	if _, ok := r.s.periods[key]; ok {
		return repository.ErrDuplicate
	}
	p.ID = primitive.NewObjectID()
	r.s.periods[key] = *p
	return nil
}

func (r *mockPeriodRepo) Get(_ context.Context, enrollmentID primitive.ObjectID, periodIndex int) (*domain.Period, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.periods[periodKey{enrollmentID, periodIndex}]; ok {
		return &p, nil
	}
	return nil, repository.ErrNotFound
}

func (r *mockPeriodRepo) GetByEnrollmentID(_ context.Context, enrollmentID primitive.ObjectID) ([]domain.Period, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	result := []domain.Period{}
	for k, p := range r.s.periods {
		if k.enrollmentID == enrollmentID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PeriodIndex < result[j].PeriodIndex })
	return result, nil
}

// ── Mock ExecutionRepository ──

type mockExecutionRepo struct{ s *memStore }

func (r *mockExecutionRepo) UpsertMany(_ context.Context, execs []domain.Execution) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Execution.UpsertMany"); err != nil {
		return 0, err
	}
	existing := make(map[executionKey]bool, len(r.s.executions))
	for _, e := range r.s.executions {
		existing[naturalKey(&e)] = true
	}
	inserted := 0
	for _, e := range execs {
		k := naturalKey(&e)
		if existing[k] {
			continue
		}
		existing[k] = true
		e.ID = primitive.NewObjectID()
		r.s.executions[e.ID] = e
		inserted++
	}
	return inserted, nil
}

func (r *mockExecutionRepo) GetByID(_ context.Context, id primitive.ObjectID) (*domain.Execution, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e, ok := r.s.executions[id]; ok {
		return &e, nil
	}
	return nil, repository.ErrNotFound
}

func (r *mockExecutionRepo) Update(_ context.Context, exec *domain.Execution) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Execution.Update"); err != nil {
		return err
	}
	if _, ok := r.s.executions[exec.ID]; !ok {
		return repository.ErrNotFound
	}
	r.s.executions[exec.ID] = *exec
	return nil
}

func (r *mockExecutionRepo) filter(keep func(e *domain.Execution) bool) []domain.Execution {
	result := []domain.Execution{}
	for _, e := range r.s.executions {
		if keep(&e) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ScheduledDate.Equal(result[j].ScheduledDate) {
			return result[i].ScheduledDate.Before(result[j].ScheduledDate)
		}
		return result[i].OrderInBlock < result[j].OrderInBlock
	})
	return result
}

func (r *mockExecutionRepo) GetByEnrollmentID(_ context.Context, enrollmentID primitive.ObjectID, from, to time.Time) ([]domain.Execution, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.filter(func(e *domain.Execution) bool {
		if e.EnrollmentID != enrollmentID {
			return false
		}
		if !from.IsZero() && e.ScheduledDate.Before(from) {
			return false
		}
		return to.IsZero() || !e.ScheduledDate.After(to)
	}), nil
}

func (r *mockExecutionRepo) GetByPeriod(_ context.Context, enrollmentID primitive.ObjectID, periodIndex int) ([]domain.Execution, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.filter(func(e *domain.Execution) bool {
		return e.EnrollmentID == enrollmentID && e.PeriodIndex == periodIndex
	}), nil
}

func (r *mockExecutionRepo) Count(_ context.Context, enrollmentID primitive.ObjectID) (int64, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var total, completed int64
	for _, e := range r.s.executions {
		if e.EnrollmentID != enrollmentID {
			continue
		}
		total++
		if e.Completed {
			completed++
		}
	}
	return total, completed, nil
}

func (r *mockExecutionRepo) DeleteByEnrollmentID(_ context.Context, enrollmentID primitive.ObjectID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Execution.DeleteByEnrollmentID"); err != nil {
		return 0, err
	}
	var n int64
	for id, e := range r.s.executions {
		if e.EnrollmentID == enrollmentID {
			delete(r.s.executions, id)
			n++
		}
	}
	return n, nil
}

// ── Mock AvailabilityRepository ──

type mockAvailabilityRepo struct{ s *memStore }

func (r *mockAvailabilityRepo) Create(_ context.Context, slot *domain.AvailabilitySlot) (primitive.ObjectID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	slot.ID = primitive.NewObjectID()
	r.s.slots[slot.ID] = *slot
	return slot.ID, nil
}

func (r *mockAvailabilityRepo) GetByCoachID(_ context.Context, coachID primitive.ObjectID) ([]domain.AvailabilitySlot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	result := []domain.AvailabilitySlot{}
	for _, sl := range r.s.slots {
		if sl.CoachID == coachID {
			result = append(result, sl)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Start < result[j].Start })
	return result, nil
}

func (r *mockAvailabilityRepo) Delete(_ context.Context, id, coachID primitive.ObjectID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.slots[id]
	if !ok || cur.CoachID != coachID {
		return repository.ErrNotFound
	}
	delete(r.s.slots, id)
	return nil
}

// ── Mock BookingRepository ──

type mockBookingRepo struct{ s *memStore }

func (r *mockBookingRepo) Lock(_ context.Context, coachID primitive.ObjectID, date time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Booking.Lock"); err != nil {
		return err
	}
	r.s.locks[coachID.Hex()+":"+domain.FormatDate(date)]++
	return nil
}

func (r *mockBookingRepo) Create(_ context.Context, b *domain.Booking) (primitive.ObjectID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Booking.Create"); err != nil {
		return primitive.NilObjectID, err
	}
	b.ID = primitive.NewObjectID()
	r.s.bookings[b.ID] = *b
	return b.ID, nil
}

func (r *mockBookingRepo) GetByID(_ context.Context, id primitive.ObjectID) (*domain.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if b, ok := r.s.bookings[id]; ok {
		return &b, nil
	}
	return nil, repository.ErrNotFound
}

func (r *mockBookingRepo) list(keep func(b *domain.Booking) bool, from, to time.Time) []domain.Booking {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	result := []domain.Booking{}
	for _, b := range r.s.bookings {
		if !keep(&b) {
			continue
		}
		if !from.IsZero() && b.Date.Before(from) {
			continue
		}
		if !to.IsZero() && b.Date.After(to) {
			continue
		}
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartsAt().Before(result[j].StartsAt()) })
	return result
}

func (r *mockBookingRepo) GetConfirmedByCoach(_ context.Context, coachID primitive.ObjectID, from, to time.Time) ([]domain.Booking, error) {
	return r.list(func(b *domain.Booking) bool {
		return b.CoachID == coachID && b.Status == domain.BookingConfirmed
	}, from, to), nil
}

func (r *mockBookingRepo) GetByClientID(_ context.Context, clientID primitive.ObjectID, from, to time.Time) ([]domain.Booking, error) {
	return r.list(func(b *domain.Booking) bool { return b.ClientID == clientID }, from, to), nil
}

func (r *mockBookingRepo) GetByCoachID(_ context.Context, coachID primitive.ObjectID, from, to time.Time) ([]domain.Booking, error) {
	return r.list(func(b *domain.Booking) bool { return b.CoachID == coachID }, from, to), nil
}

func (r *mockBookingRepo) Cancel(_ context.Context, id primitive.ObjectID, at time.Time, creditRestored bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[id]
	if !ok || b.Status != domain.BookingConfirmed {
		return repository.ErrConditionFailed
	}
	b.Status = domain.BookingCancelled
	b.CancelledAt = &at
	b.CreditRestored = creditRestored
	r.s.bookings[id] = b
	return nil
}

// ── Mock CreditRepository ──

type mockCreditRepo struct{ s *memStore }

func (r *mockCreditRepo) Create(_ context.Context, c *domain.ConsultationCredit) (primitive.ObjectID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, cur := range r.s.credits {
		if cur.ClientID == c.ClientID && cur.ProgramID == c.ProgramID && cur.Type == c.Type {
			return primitive.NilObjectID, repository.ErrDuplicate
		}
	}
	c.ID = primitive.NewObjectID()
	r.s.credits[c.ID] = *c
	return c.ID, nil
}

func (r *mockCreditRepo) GetByID(_ context.Context, id primitive.ObjectID) (*domain.ConsultationCredit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.credits[id]; ok {
		return &c, nil
	}
	return nil, repository.ErrNotFound
}

func (r *mockCreditRepo) GetByClientID(_ context.Context, clientID primitive.ObjectID) ([]domain.ConsultationCredit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	result := []domain.ConsultationCredit{}
	for _, c := range r.s.credits {
		if c.ClientID == clientID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result, nil
}

func (r *mockCreditRepo) Grant(_ context.Context, c *domain.ConsultationCredit) (*domain.ConsultationCredit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Credit.Grant"); err != nil {
		return nil, err
	}
	for id, cur := range r.s.credits {
		if cur.ClientID == c.ClientID && cur.ProgramID == c.ProgramID && cur.Type == c.Type {
			cur.TotalSessions += c.TotalSessions
			cur.CoachID = c.CoachID
			cur.EnrollmentID = c.EnrollmentID
			cur.ExpiresAt = c.ExpiresAt
			r.s.credits[id] = cur
			return &cur, nil
		}
	}
	stored := *c
	stored.ID = primitive.NewObjectID()
	stored.UsedSessions = 0
	r.s.credits[stored.ID] = stored
	return &stored, nil
}

func (r *mockCreditRepo) Debit(_ context.Context, id primitive.ObjectID, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.credits[id]
	if !ok || c.UsedSessions >= c.TotalSessions {
		return repository.ErrConditionFailed
	}
	if !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt) {
		return repository.ErrConditionFailed
	}
	c.UsedSessions++
	r.s.credits[id] = c
	return nil
}

func (r *mockCreditRepo) Restore(_ context.Context, id primitive.ObjectID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.credits[id]
	if !ok || c.UsedSessions == 0 {
		return repository.ErrConditionFailed
	}
	c.UsedSessions--
	r.s.credits[id] = c
	return nil
}

// ── Mock ArchiveRepository ──

type mockArchiveRepo struct{ s *memStore }

func (r *mockArchiveRepo) GetByEnrollmentID(_ context.Context, enrollmentID primitive.ObjectID) (*domain.ArchiveSnapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.archives[enrollmentID]; ok {
		return &a, nil
	}
	return nil, repository.ErrNotFound
}

func (r *mockArchiveRepo) Upsert(_ context.Context, snap *domain.ArchiveSnapshot) (*domain.ArchiveSnapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Archive.Upsert"); err != nil {
		return nil, err
	}
	stored := *snap
	if cur, ok := r.s.archives[snap.EnrollmentID]; ok {
		stored.ID = cur.ID
	} else {
		stored.ID = primitive.NewObjectID()
	}
	r.s.archives[snap.EnrollmentID] = stored
	return &stored, nil
}

func (r *mockArchiveRepo) SetExportKey(_ context.Context, enrollmentID primitive.ObjectID, key string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.archives[enrollmentID]
	if !ok {
		return repository.ErrNotFound
	}
	a.ExportKey = key
	r.s.archives[enrollmentID] = a
	return nil
}

func (r *mockArchiveRepo) MarkPurged(_ context.Context, enrollmentID primitive.ObjectID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.archives[enrollmentID]
	if !ok {
		return repository.ErrNotFound
	}
	a.Purged = true
	r.s.archives[enrollmentID] = a
	return nil
}

func (r *mockArchiveRepo) ListUnpurged(_ context.Context) ([]domain.ArchiveSnapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	result := []domain.ArchiveSnapshot{}
	for _, a := range r.s.archives {
		if !a.Purged {
			result = append(result, a)
		}
	}
	return result, nil
}
