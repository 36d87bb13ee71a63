package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/saeid-a/ChambaBack/internal/changefeed"
	"github.com/saeid-a/ChambaBack/internal/models"
	"github.com/saeid-a/ChambaBack/internal/notify"
)

type recordingFeed struct {
	mu     sync.Mutex
	events []changefeed.Event
}

func (f *recordingFeed) Publish(_ context.Context, event changefeed.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *recordingFeed) Subscribe(changefeed.Entity, changefeed.Handler) changefeed.Unsubscribe {
	return func() {}
}

func (f *recordingFeed) Close() error { return nil }

func (f *recordingFeed) count(entity changefeed.Entity, op changefeed.Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, event := range f.events {
		if event.Entity == entity && event.Op == op {
			n++
		}
	}
	return n
}

type recordingSink struct {
	mu    sync.Mutex
	fired []notify.Notification
}

func (s *recordingSink) Fire(notification notify.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fired = append(s.fired, notification)
}

func (s *recordingSink) types() []notify.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.EventType, 0, len(s.fired))
	for _, n := range s.fired {
		out = append(out, n.Type)
	}
	return out
}

type stubStorage struct {
	uploadURL    string
	uploadErr    error
	deleteErr    error
	signedURL    string
	uploads      int
	lastFolder   string
	lastFilename string
	lastMime     string
	deleted      []string
	lastSigned   string
}

func (s *stubStorage) UploadFile(_ context.Context, body io.Reader, contentType, filename, folder string) (string, error) {
	s.uploads++
	s.lastFolder = folder
	s.lastFilename = filename
	s.lastMime = contentType
	if body != nil {
		_, _ = io.Copy(io.Discard, body)
	}
	return s.uploadURL, s.uploadErr
}

func (s *stubStorage) DeleteFile(_ context.Context, fileURL string) error {
	s.deleted = append(s.deleted, fileURL)
	return s.deleteErr
}

func (s *stubStorage) GetSignedURL(_ context.Context, fileURL string) (string, error) {
	s.lastSigned = fileURL
	return s.signedURL, nil
}

type chatFixture struct {
	store         *memoryStore
	feed          *recordingFeed
	sink          *recordingSink
	storage       *stubStorage
	conversations *ConversationService
	messages      *MessageService
	companyID     int64
	otherCompany  int64
	workerID      int64
	jobPostID     int64
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()

	store := newMemoryStore()
	f := &chatFixture{
		store:   store,
		feed:    &recordingFeed{},
		sink:    &recordingSink{},
		storage: &stubStorage{uploadURL: "https://storage/chat/1/file.pdf", signedURL: "https://signed/file.pdf"},
	}
	f.companyID = store.addActor(models.RoleCompany, "Acme Builders")
	f.otherCompany = store.addActor(models.RoleCompany, "Bolt Logistics")
	f.workerID = store.addActor(models.RoleWorker, "Rosa Diaz")
	f.jobPostID = store.addJobPost(f.companyID, "Site electrician")

	f.conversations = NewConversationService(store, memoryActors{store}, memoryJobPosts{store}, f.feed, f.sink, 0)
	f.messages = NewMessageService(store, f.storage, f.feed, 0, 0)
	return f
}

func (f *chatFixture) open(t *testing.T, companyID int64) *models.ConversationDetail {
	t.Helper()
	detail, _, err := f.conversations.Create(context.Background(), companyID, models.RoleCompany, CreateConversationInput{WorkerID: f.workerID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return detail
}

func TestConversationServiceCreateIsIdempotentPerPair(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	jobPostID := f.jobPostID

	first, created, err := f.conversations.Create(ctx, f.companyID, models.RoleCompany, CreateConversationInput{
		WorkerID:  f.workerID,
		JobPostID: &jobPostID,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !created {
		t.Fatalf("expected first create to report created")
	}
	if first.Status != models.ConversationStatusActive {
		t.Fatalf("expected active conversation, got %q", first.Status)
	}
	if first.JobPost == nil || first.JobPost.Title != "Site electrician" {
		t.Fatalf("expected job post reference, got %+v", first.JobPost)
	}
	if first.Company.Name != "Acme Builders" || first.Worker.Name != "Rosa Diaz" {
		t.Fatalf("unexpected participants: %+v / %+v", first.Company, first.Worker)
	}

	second, created, err := f.conversations.Create(ctx, f.companyID, models.RoleCompany, CreateConversationInput{WorkerID: f.workerID})
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if created {
		t.Fatalf("expected second create to return the existing conversation")
	}
	if second.ID != first.ID {
		t.Fatalf("expected same conversation %d, got %d", first.ID, second.ID)
	}

	if got := f.feed.count(changefeed.EntityConversations, changefeed.OpInsert); got != 1 {
		t.Fatalf("expected one insert event, got %d", got)
	}
	if got := f.sink.types(); len(got) != 1 || got[0] != notify.ConversationCreated {
		t.Fatalf("expected one created notification, got %v", got)
	}
}

func TestConversationServiceCreateValidatesActors(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	foreignPost := f.store.addJobPost(f.otherCompany, "Forklift driver")
	missingPost := int64(9999)

	tests := []struct {
		name    string
		actorID int64
		role    string
		input   CreateConversationInput
		want    error
	}{
		{name: "worker cannot create", actorID: f.workerID, role: models.RoleWorker, input: CreateConversationInput{WorkerID: f.workerID}, want: ErrForbidden},
		{name: "missing worker", actorID: f.companyID, role: models.RoleCompany, input: CreateConversationInput{WorkerID: 9999}, want: ErrWorkerNotFound},
		{name: "company is not a worker", actorID: f.companyID, role: models.RoleCompany, input: CreateConversationInput{WorkerID: f.otherCompany}, want: ErrWorkerNotFound},
		{name: "missing job post", actorID: f.companyID, role: models.RoleCompany, input: CreateConversationInput{WorkerID: f.workerID, JobPostID: &missingPost}, want: ErrJobPostNotFound},
		{name: "job post of another company", actorID: f.companyID, role: models.RoleCompany, input: CreateConversationInput{WorkerID: f.workerID, JobPostID: &foreignPost}, want: ErrForbidden},
		{name: "zero worker id", actorID: f.companyID, role: models.RoleCompany, input: CreateConversationInput{}, want: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.conversations.Create(ctx, tt.actorID, tt.role, tt.input)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if len(f.store.conversations) != 0 {
		t.Fatalf("expected no conversation to be stored, got %d", len(f.store.conversations))
	}
}

func TestConversationServiceGetExisting(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	none, err := f.conversations.GetExisting(ctx, f.workerID, models.RoleWorker, f.companyID, f.workerID)
	if err != nil {
		t.Fatalf("GetExisting: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no conversation, got %+v", none)
	}

	opened := f.open(t, f.companyID)

	found, err := f.conversations.GetExisting(ctx, f.workerID, models.RoleWorker, f.companyID, f.workerID)
	if err != nil {
		t.Fatalf("GetExisting: %v", err)
	}
	if found == nil || found.ID != opened.ID {
		t.Fatalf("expected conversation %d, got %+v", opened.ID, found)
	}

	if _, err := f.conversations.GetExisting(ctx, f.otherCompany, models.RoleCompany, f.companyID, f.workerID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for outsider, got %v", err)
	}
}

func TestConversationServiceGetChecksParticipant(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	opened := f.open(t, f.companyID)

	if _, err := f.conversations.Get(ctx, f.otherCompany, models.RoleCompany, opened.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.conversations.Get(ctx, f.workerID, models.RoleWorker, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	detail, err := f.conversations.Get(ctx, f.workerID, models.RoleWorker, opened.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if detail.ID != opened.ID {
		t.Fatalf("expected %d, got %d", opened.ID, detail.ID)
	}
}

func TestConversationServiceListOrdersByRecentActivity(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	convA := f.open(t, f.companyID)
	convB := f.open(t, f.otherCompany)

	if _, err := f.messages.Append(ctx, f.companyID, models.RoleCompany, convA.ID, SendMessageInput{Kind: models.MessageKindText, Content: "Are you free Monday?"}); err != nil {
		t.Fatalf("Append A: %v", err)
	}
	if _, err := f.messages.Append(ctx, f.otherCompany, models.RoleCompany, convB.ID, SendMessageInput{Kind: models.MessageKindText, Content: "We have a shift open"}); err != nil {
		t.Fatalf("Append B: %v", err)
	}

	summaries, err := f.conversations.ListForUser(ctx, f.workerID, models.RoleWorker)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(summaries))
	}
	if summaries[0].ID != convB.ID || summaries[1].ID != convA.ID {
		t.Fatalf("expected B then A, got %d then %d", summaries[0].ID, summaries[1].ID)
	}
	for _, summary := range summaries {
		if summary.UnreadCount != 1 {
			t.Fatalf("expected unread 1 for conversation %d, got %d", summary.ID, summary.UnreadCount)
		}
		if summary.LastMessage == nil {
			t.Fatalf("expected last message preview for conversation %d", summary.ID)
		}
	}

	if _, err := f.messages.Append(ctx, f.companyID, models.RoleCompany, convA.ID, SendMessageInput{Kind: models.MessageKindEmoji, Content: "👋"}); err != nil {
		t.Fatalf("Append A again: %v", err)
	}
	summaries, err = f.conversations.ListForUser(ctx, f.workerID, models.RoleWorker)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if summaries[0].ID != convA.ID {
		t.Fatalf("expected A to move to the top, got %d", summaries[0].ID)
	}
	if summaries[0].LastMessage.Content() != "👋" {
		t.Fatalf("unexpected preview %q", summaries[0].LastMessage.Content())
	}

	company, err := f.conversations.ListForUser(ctx, f.companyID, models.RoleCompany)
	if err != nil {
		t.Fatalf("ListForUser company: %v", err)
	}
	if len(company) != 1 || company[0].UnreadCount != 0 {
		t.Fatalf("expected one conversation without unread for the sender, got %+v", company)
	}
}

// joinWindow gives goroutines started after the first list call time to join
// the in-flight load before the gate opens.
const joinWindow = 50 * time.Millisecond

func TestConversationServiceListCollapsesConcurrentCalls(t *testing.T) {
	f := newChatFixture(t)
	f.open(t, f.companyID)

	gate := make(chan struct{})
	entered := make(chan struct{}, 4)
	f.store.listGate = gate
	f.store.listEntered = entered

	var wg sync.WaitGroup
	results := make([][]models.ConversationSummary, 4)
	errs := make([]error, 4)
	list := func(i int) {
		defer wg.Done()
		results[i], errs[i] = f.conversations.ListForUser(context.Background(), f.workerID, models.RoleWorker)
	}

	wg.Add(1)
	go list(0)
	<-entered
	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go list(i)
	}
	time.Sleep(joinWindow)

	close(gate)
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("ListForUser %d: %v", i, errs[i])
		}
		if len(results[i]) != 1 {
			t.Fatalf("expected one conversation in result %d, got %d", i, len(results[i]))
		}
	}
	if f.store.listCalls != 1 {
		t.Fatalf("expected one store list call, got %d", f.store.listCalls)
	}
}

func TestConversationServiceListCancellationStaysWithCaller(t *testing.T) {
	f := newChatFixture(t)
	f.open(t, f.companyID)

	gate := make(chan struct{})
	entered := make(chan struct{}, 2)
	f.store.listGate = gate
	f.store.listEntered = entered

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()

	firstErr := make(chan error, 1)
	go func() {
		_, err := f.conversations.ListForUser(firstCtx, f.workerID, models.RoleWorker)
		firstErr <- err
	}()
	<-entered

	type listResult struct {
		summaries []models.ConversationSummary
		err       error
	}
	second := make(chan listResult, 1)
	go func() {
		summaries, err := f.conversations.ListForUser(context.Background(), f.workerID, models.RoleWorker)
		second <- listResult{summaries: summaries, err: err}
	}()
	time.Sleep(joinWindow)

	cancelFirst()
	select {
	case err := <-firstErr:
		if !errors.Is(err, ErrStoreUnavailable) {
			t.Fatalf("expected cancelled caller to get ErrStoreUnavailable, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(gate)
	got := <-second
	if got.err != nil {
		t.Fatalf("second caller failed after first was cancelled: %v", got.err)
	}
	if len(got.summaries) != 1 {
		t.Fatalf("expected one conversation, got %d", len(got.summaries))
	}
	if f.store.listCalls != 1 {
		t.Fatalf("expected one store list call, got %d", f.store.listCalls)
	}
}

func TestConversationServiceCloseIsOneWay(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	opened := f.open(t, f.companyID)

	if _, err := f.conversations.Close(ctx, f.workerID, models.RoleWorker, opened.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected worker close to be forbidden, got %v", err)
	}
	if _, err := f.conversations.Close(ctx, f.otherCompany, models.RoleCompany, opened.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected foreign company close to be forbidden, got %v", err)
	}
	if _, err := f.conversations.Close(ctx, f.companyID, models.RoleCompany, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	closed, err := f.conversations.Close(ctx, f.companyID, models.RoleCompany, opened.ID)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed.Status != models.ConversationStatusClosed {
		t.Fatalf("expected closed status, got %q", closed.Status)
	}
	if closed.ClosedBy == nil || *closed.ClosedBy != f.companyID || closed.ClosedAt == nil {
		t.Fatalf("expected closed_by and closed_at to be set, got %+v", closed.Conversation)
	}
	closedAt := *closed.ClosedAt

	again, err := f.conversations.Close(ctx, f.companyID, models.RoleCompany, opened.ID)
	if err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !again.ClosedAt.Equal(closedAt) {
		t.Fatalf("expected closed_at to stay %v, got %v", closedAt, again.ClosedAt)
	}

	if got := f.feed.count(changefeed.EntityConversations, changefeed.OpUpdate); got != 1 {
		t.Fatalf("expected one update event, got %d", got)
	}
	types := f.sink.types()
	if len(types) != 2 || types[1] != notify.ConversationClosed {
		t.Fatalf("expected created then closed notifications, got %v", types)
	}

	_, err = f.messages.Append(ctx, f.workerID, models.RoleWorker, opened.ID, SendMessageInput{Kind: models.MessageKindText, Content: "hello?"})
	if !errors.Is(err, ErrConversationClosed) {
		t.Fatalf("expected conversation closed, got %v", err)
	}
}

func TestConversationServiceUnreadTotal(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	convA := f.open(t, f.companyID)
	convB := f.open(t, f.otherCompany)

	for i := 0; i < 2; i++ {
		if _, err := f.messages.Append(ctx, f.companyID, models.RoleCompany, convA.ID, SendMessageInput{Kind: models.MessageKindText, Content: "ping"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if _, err := f.messages.Append(ctx, f.otherCompany, models.RoleCompany, convB.ID, SendMessageInput{Kind: models.MessageKindText, Content: "hi"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	total, err := f.conversations.UnreadTotal(ctx, f.workerID, models.RoleWorker)
	if err != nil {
		t.Fatalf("UnreadTotal: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 unread, got %d", total)
	}

	if _, err := f.conversations.UnreadTotal(ctx, f.workerID, "admin"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for unknown role, got %v", err)
	}
}
