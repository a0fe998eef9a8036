package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	"github.com/vladislavdragonenkov/returns/internal/storage/memory"
)

type stubPusher struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (s *stubPusher) Push(_ context.Context, userID string, _ domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, userID)
	return s.err
}

func (s *stubPusher) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type stubMailer struct {
	mu   sync.Mutex
	err  error
	sent []domain.EmailMessage
}

func (s *stubMailer) Send(_ context.Context, msg domain.EmailMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return s.err
}

func (s *stubMailer) messages() []domain.EmailMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.EmailMessage(nil), s.sent...)
}

type failingStore struct {
	domain.NotificationRepository
}

func (failingStore) Create(context.Context, domain.Notification) error {
	return errors.New("database down")
}

func newTestService(t *testing.T, pusher *stubPusher, mailer *stubMailer) (*Service, domain.NotificationRepository) {
	t.Helper()

	catalog := memory.NewCatalog()
	catalog.PutUser(domain.User{ID: "buyer-1", Email: "buyer@example.com", Name: "Ann", Role: domain.RoleBuyer})
	catalog.PutUser(domain.User{ID: "seller-1", Email: "seller@example.com", Role: domain.RoleSeller})
	catalog.PutUser(domain.User{ID: "admin-1", Role: domain.RoleAdmin})
	catalog.PutUser(domain.User{ID: "coadmin-1", Role: domain.RoleCoAdmin})

	repo := memory.NewNotificationRepository()
	svc := NewService(repo, catalog.Users(),
		WithPusher(pusher),
		WithEmailSender(mailer),
		WithBaseURL("https://shop.example.com/"),
	)
	return svc, repo
}

func TestNotify_PersistsAndDelivers(t *testing.T) {
	pusher, mailer := &stubPusher{}, &stubMailer{}
	svc, repo := newTestService(t, pusher, mailer)

	n, err := svc.Notify(context.Background(), Event{
		UserID:  "buyer-1",
		Type:    domain.NotificationReturnStatus,
		Title:   "Return approved",
		Message: "Your return <ret-1> was approved",
		Link:    "/returns/ret-1",
		Email:   true,
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if n.ID == "" || n.Read {
		t.Fatalf("unexpected notification %+v", n)
	}

	stored, _ := repo.List(context.Background(), "buyer-1", domain.NotificationFilter{})
	if len(stored) != 1 || stored[0].ID != n.ID {
		t.Fatalf("notification not persisted: %+v", stored)
	}
	if pusher.count() != 1 {
		t.Fatalf("expected 1 push, got %d", pusher.count())
	}

	sent := mailer.messages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sent))
	}
	if sent[0].To != "buyer@example.com" || sent[0].Subject != "Return approved" {
		t.Fatalf("unexpected email %+v", sent[0])
	}
	if !strings.Contains(sent[0].TextBody, "https://shop.example.com/returns/ret-1") {
		t.Fatalf("email should contain absolute link: %q", sent[0].TextBody)
	}
	if strings.Contains(sent[0].HTMLBody, "<ret-1>") {
		t.Fatal("html body must be escaped")
	}
}

func TestNotify_ChannelFailuresAreSwallowed(t *testing.T) {
	pusher := &stubPusher{err: errors.New("no connection")}
	mailer := &stubMailer{err: errors.New("smtp down")}
	svc, repo := newTestService(t, pusher, mailer)

	if _, err := svc.Notify(context.Background(), Event{UserID: "buyer-1", Title: "t", Message: "m", Email: true}); err != nil {
		t.Fatalf("delivery failures must not propagate: %v", err)
	}
	stored, _ := repo.List(context.Background(), "buyer-1", domain.NotificationFilter{})
	if len(stored) != 1 {
		t.Fatalf("notification must be stored even when delivery fails, got %d", len(stored))
	}
	if pusher.count() != 1 || len(mailer.messages()) != 1 {
		t.Fatal("both channels must be attempted")
	}
}

func TestNotify_EmailOnlyWhenRequested(t *testing.T) {
	pusher, mailer := &stubPusher{}, &stubMailer{}
	svc, _ := newTestService(t, pusher, mailer)

	if _, err := svc.Notify(context.Background(), Event{UserID: "seller-1", Title: "t", Message: "m"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(mailer.messages()) != 0 {
		t.Fatal("email should not be sent for in-app only events")
	}
	if pusher.count() != 1 {
		t.Fatal("push should always be attempted")
	}
}

func TestNotify_StoreFailureIsReturned(t *testing.T) {
	pusher := &stubPusher{}
	svc := NewService(failingStore{}, memory.NewCatalog().Users(), WithPusher(pusher))

	if _, err := svc.Notify(context.Background(), Event{UserID: "buyer-1", Title: "t"}); err == nil {
		t.Fatal("expected store error")
	}
	if pusher.count() != 0 {
		t.Fatal("nothing should be pushed when the notification was not stored")
	}
}

func TestDeliver_CombinesFailures(t *testing.T) {
	pusher := &stubPusher{err: errors.New("push failed")}
	mailer := &stubMailer{err: errors.New("smtp failed")}
	svc, _ := newTestService(t, pusher, mailer)

	err := svc.deliver(context.Background(), domain.Notification{ID: "n-1", UserID: "buyer-1"}, true)
	if !errors.Is(err, domain.ErrNotificationFailed) {
		t.Fatalf("expected NotificationFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "push failed") || !strings.Contains(err.Error(), "smtp failed") {
		t.Fatalf("both causes should be reported: %v", err)
	}
}

func TestNotifyAll_DeduplicatesRecipients(t *testing.T) {
	svc, repo := newTestService(t, &stubPusher{}, &stubMailer{})

	admins, err := svc.AdminIDs(context.Background())
	if err != nil {
		t.Fatalf("admins: %v", err)
	}
	if len(admins) != 2 {
		t.Fatalf("expected admin and co-admin, got %v", admins)
	}

	recipients := append([]string{"buyer-1", "seller-1", "buyer-1", ""}, admins...)
	if got := svc.NotifyAll(context.Background(), recipients, Event{Type: domain.NotificationOrderStatus, Title: "Order cancelled"}); got != 4 {
		t.Fatalf("expected 4 stored notifications, got %d", got)
	}
	buyer, _ := repo.List(context.Background(), "buyer-1", domain.NotificationFilter{})
	if len(buyer) != 1 {
		t.Fatalf("buyer should be notified once, got %d", len(buyer))
	}
}

func TestInbox(t *testing.T) {
	svc, _ := newTestService(t, &stubPusher{}, &stubMailer{})
	ctx := context.Background()

	first, _ := svc.Notify(ctx, Event{UserID: "buyer-1", Title: "one"})
	_, _ = svc.Notify(ctx, Event{UserID: "buyer-1", Title: "two"})

	if err := svc.MarkRead(ctx, "seller-1", first.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("only the recipient may mark read, got %v", err)
	}
	if err := svc.MarkRead(ctx, "buyer-1", first.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	unread, _ := svc.List(ctx, "buyer-1", true, 0)
	if len(unread) != 1 || unread[0].Title != "two" {
		t.Fatalf("unexpected unread list %+v", unread)
	}

	updated, err := svc.MarkAllRead(ctx, "buyer-1")
	if err != nil || updated != 1 {
		t.Fatalf("mark all read = %d, %v", updated, err)
	}
}
