// Package notify рассылает уведомления о событиях жизненного цикла: сохраняет их
// в базе и пытается доставить через websocket и email.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	"github.com/vladislavdragonenkov/returns/internal/metrics"
)

const (
	channelStore = "store"
	channelPush  = "push"
	channelEmail = "email"
)

// Event — одно уведомление для одного получателя.
type Event struct {
	UserID   string
	Type     domain.NotificationType
	Title    string
	Message  string
	Link     string
	Metadata map[string]string
	// Email включает отправку письма вдобавок к in-app и realtime.
	Email bool
}

// Service реализует fan-out. Источник правды: сохранённое уведомление;
// сбои push и email логируются и наружу не выходят.
type Service struct {
	repo    domain.NotificationRepository
	users   domain.UserRepository
	pusher  domain.Pusher
	mailer  domain.EmailSender
	baseURL string
	metrics *metrics.ReturnsMetrics
	logger  *log.Entry
	now     func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithPusher подключает realtime-доставку.
func WithPusher(p domain.Pusher) Option {
	return func(s *Service) { s.pusher = p }
}

// WithEmailSender подключает отправку писем.
func WithEmailSender(m domain.EmailSender) Option {
	return func(s *Service) { s.mailer = m }
}

// WithBaseURL задаёт публичный адрес для ссылок в письмах.
func WithBaseURL(url string) Option {
	return func(s *Service) { s.baseURL = strings.TrimRight(url, "/") }
}

// WithMetrics подключает метрики доставки.
func WithMetrics(m *metrics.ReturnsMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт fan-out поверх хранилища уведомлений.
func NewService(repo domain.NotificationRepository, users domain.UserRepository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		users:  users,
		logger: log.New().WithField("component", "notify"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Notify сохраняет уведомление и затем параллельно пытается доставить его
// по realtime и email. Ошибка возвращается, только если не удалось сохранить запись.
func (s *Service) Notify(ctx context.Context, ev Event) (domain.Notification, error) {
	if strings.TrimSpace(ev.UserID) == "" {
		return domain.Notification{}, &domain.ValidationError{Field: "userId", Message: "recipient is required"}
	}

	n := domain.Notification{
		ID:        uuid.NewString(),
		UserID:    ev.UserID,
		Type:      ev.Type,
		Title:     ev.Title,
		Message:   ev.Message,
		Link:      ev.Link,
		Metadata:  ev.Metadata,
		CreatedAt: s.now(),
	}
	err := s.repo.Create(ctx, n)
	s.metrics.RecordNotification(channelStore, err)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("store notification: %w", err)
	}

	if failure := s.deliver(ctx, n, ev.Email); failure != nil {
		s.logger.WithError(failure).WithFields(log.Fields{
			"user_id":         n.UserID,
			"notification_id": n.ID,
			"type":            n.Type,
		}).Warn("notification delivery incomplete")
	}
	return n, nil
}

// deliver запускает push и email одновременно и дожидается обоих.
func (s *Service) deliver(ctx context.Context, n domain.Notification, withEmail bool) error {
	var (
		wg       sync.WaitGroup
		pushErr  error
		emailErr error
	)

	if s.pusher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pushErr = s.push(ctx, n)
			s.metrics.RecordNotification(channelPush, pushErr)
		}()
	}
	if withEmail && s.mailer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			emailErr = s.email(ctx, n)
			s.metrics.RecordNotification(channelEmail, emailErr)
		}()
	}
	wg.Wait()

	if err := multierr.Combine(pushErr, emailErr); err != nil {
		return &domain.NotificationFailure{UserID: n.UserID, Err: err}
	}
	return nil
}

func (s *Service) push(ctx context.Context, n domain.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("push panic: %v", r)
		}
	}()
	if err := s.pusher.Push(ctx, n.UserID, n); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return nil
}

func (s *Service) email(ctx context.Context, n domain.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("email panic: %v", r)
		}
	}()

	user, err := s.users.Get(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("email recipient: %w", err)
	}
	if user.Email == "" {
		return fmt.Errorf("email recipient %s has no address", user.ID)
	}
	if err := s.mailer.Send(ctx, s.renderEmail(user, n)); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	return nil
}

func (s *Service) renderEmail(user domain.User, n domain.Notification) domain.EmailMessage {
	link := ""
	if n.Link != "" {
		link = s.baseURL + n.Link
	}

	name := user.Name
	if name == "" {
		name = "there"
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Hi %s,\n\n%s\n", name, n.Message)
	if link != "" {
		fmt.Fprintf(&text, "\nDetails: %s\n", link)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "<p>Hi %s,</p><p>%s</p>", html.EscapeString(name), html.EscapeString(n.Message))
	if link != "" {
		fmt.Fprintf(&body, `<p><a href="%s">View details</a></p>`, html.EscapeString(link))
	}

	return domain.EmailMessage{
		To:       user.Email,
		Subject:  n.Title,
		TextBody: text.String(),
		HTMLBody: body.String(),
	}
}

// NotifyAll рассылает одно событие нескольким получателям, пропуская дубликаты.
// Возвращает число сохранённых уведомлений; ошибки сохранения логируются.
func (s *Service) NotifyAll(ctx context.Context, userIDs []string, ev Event) int {
	seen := make(map[string]struct{}, len(userIDs))
	stored := 0
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		ev.UserID = id
		if _, err := s.Notify(ctx, ev); err != nil {
			s.logger.WithError(err).WithField("user_id", id).Error("notification not stored")
			continue
		}
		stored++
	}
	return stored
}

// AdminIDs возвращает администраторов и со-администраторов.
func (s *Service) AdminIDs(ctx context.Context) ([]string, error) {
	admins, err := s.users.ListByRoles(ctx, domain.RoleAdmin, domain.RoleCoAdmin)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	ids := make([]string, 0, len(admins))
	for _, u := range admins {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

// List возвращает уведомления пользователя, новые первыми.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	return s.repo.List(ctx, userID, domain.NotificationFilter{UnreadOnly: unreadOnly, Limit: limit})
}

// MarkRead отмечает уведомление прочитанным. Для чужого уведомления возвращается NotFoundError.
func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) error {
	return s.repo.MarkRead(ctx, userID, notificationID)
}

// MarkAllRead отмечает прочитанными все уведомления пользователя.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return s.repo.MarkAllRead(ctx, userID)
}
