package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"alcyxob/coaching-engine/internal/config"
	"alcyxob/coaching-engine/internal/domain"
	"alcyxob/coaching-engine/internal/events"
)

// ── Clock ──

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(s string) *fakeClock {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(s string) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// ── Publisher ──

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	fail     bool
}

var _ events.EventPublisher = (*recordingPublisher)(nil)

func (p *recordingPublisher) record(subject string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("nats: connection closed")
	}
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *recordingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) PublishPeriodMaterialized(*domain.Period, *domain.Enrollment) error {
	return p.record(events.SubjectPeriodMaterialized)
}

func (p *recordingPublisher) PublishBookingConfirmed(*domain.Booking) error {
	return p.record(events.SubjectBookingConfirmed)
}

func (p *recordingPublisher) PublishBookingCancelled(*domain.Booking) error {
	return p.record(events.SubjectBookingCancelled)
}

func (p *recordingPublisher) PublishEnrollmentArchived(*domain.ArchiveSnapshot) error {
	return p.record(events.SubjectEnrollmentArchived)
}

func (p *recordingPublisher) Close() {}

// ── Object storage ──

type memFiles struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newMemFiles() *memFiles {
	return &memFiles{objects: map[string][]byte{}}
}

func (f *memFiles) PutObject(_ context.Context, key, _ string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut {
		return errors.New("s3: service unavailable")
	}
	f.objects[key] = body
	return nil
}

func (f *memFiles) GeneratePresignedDownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://files.test/" + key + "?signed=1", nil
}

func (f *memFiles) DeleteObject(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

// ── Wiring ──

func testConfig() config.Config {
	return config.Config{
		S3:       config.S3Config{ArchivePrefix: "archives"},
		Retry:    config.RetryConfig{Attempts: 3, Delay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Schedule: config.ScheduleConfig{GraceDays: 2},
		Booking:  config.BookingConfig{CancellationNotice: 24 * time.Hour, MaxRangeDays: 31},
		Archive:  config.ArchiveConfig{Export: true},
	}
}

type testEnv struct {
	store *memStore
	clock *fakeClock
	pub   *recordingPublisher
	files *memFiles

	periods     *periodManager
	tracker     *executionTracker
	bookings    *bookingService
	archive     *archiveService
	enrollments *enrollmentService
	templates   *templateService
	items       *itemService

	coachID  primitive.ObjectID
	clientID primitive.ObjectID
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, testConfig())
}

func newTestEnvWith(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	store := newMemStore()
	repo := store.repository()
	log := zap.NewNop()
	clock := newFakeClock("2023-12-30T09:00:00Z")
	pub := &recordingPublisher{}
	files := newMemFiles()

	periods := NewPeriodManager(repo, pub, cfg.Schedule, cfg.Retry, log).(*periodManager)
	periods.now = clock.Now
	tracker := NewExecutionTracker(repo, periods, cfg.Retry, log).(*executionTracker)
	tracker.now = clock.Now
	bookings := NewBookingService(repo, pub, cfg.Booking, cfg.Retry, log).(*bookingService)
	bookings.now = clock.Now
	archive := NewArchiveService(repo, files, pub, cfg, log).(*archiveService)
	archive.now = clock.Now
	enrollments := NewEnrollmentService(repo, periods, cfg.Retry, log).(*enrollmentService)
	enrollments.now = clock.Now

	return &testEnv{
		store:       store,
		clock:       clock,
		pub:         pub,
		files:       files,
		periods:     periods,
		tracker:     tracker,
		bookings:    bookings,
		archive:     archive,
		enrollments: enrollments,
		templates:   NewTemplateService(repo, log).(*templateService),
		items:       NewItemService(repo.Item).(*itemService),
		coachID:     primitive.NewObjectID(),
		clientID:    primitive.NewObjectID(),
	}
}

func (e *testEnv) client() domain.Principal {
	return domain.Principal{UserID: e.clientID, Role: domain.RoleClient}
}

func (e *testEnv) coach() domain.Principal {
	return domain.Principal{UserID: e.coachID, Role: domain.RoleCoach}
}

// seedTemplate stores a raw template for a new program owned by the env coach.
func (e *testEnv) seedTemplate(weekCount, periodCount int, weeks ...domain.WeekCells) primitive.ObjectID {
	programID := primitive.NewObjectID()
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.store.templates[programID] = domain.WeeklyTemplate{
		ID:          primitive.NewObjectID(),
		ProgramID:   programID,
		CoachID:     e.coachID,
		Name:        "Strength basics",
		WeekCount:   weekCount,
		PeriodCount: periodCount,
		Version:     1,
		Weeks:       weeks,
	}
	return programID
}

// seedExampleTemplate is Monday push-up, Wednesday squat, one week, two periods.
func (e *testEnv) seedExampleTemplate() primitive.ObjectID {
	return e.seedTemplate(1, 2, domain.WeekCells{
		"lunes":     []interface{}{"push-up"},
		"Miércoles": `["squat"]`,
	})
}

func (e *testEnv) setTemplate(programID primitive.ObjectID, mutate func(t *domain.WeeklyTemplate)) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	tpl := e.store.templates[programID]
	mutate(&tpl)
	e.store.templates[programID] = tpl
}

func (e *testEnv) enrollment(t *testing.T, id primitive.ObjectID) domain.Enrollment {
	t.Helper()
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	enr, ok := e.store.enrollments[id]
	if !ok {
		t.Fatalf("enrollment %s missing", id.Hex())
	}
	return enr
}

func (e *testEnv) executions(enrollmentID primitive.ObjectID) []domain.Execution {
	list, _ := (&mockExecutionRepo{e.store}).GetByEnrollmentID(context.Background(), enrollmentID, time.Time{}, time.Time{})
	return list
}

func (e *testEnv) executionOn(t *testing.T, enrollmentID primitive.ObjectID, day string) domain.Execution {
	t.Helper()
	for _, ex := range e.executions(enrollmentID) {
		if domain.FormatDate(ex.ScheduledDate) == day {
			return ex
		}
	}
	t.Fatalf("no execution on %s", day)
	return domain.Execution{}
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }
