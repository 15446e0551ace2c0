package notify

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/upb/coach-accounts/models"
)

// EventType identifies which email template the mail service should render
type EventType string

const (
	EventVerification    EventType = "email_verification"
	EventPasswordReset   EventType = "password_reset"
	EventPasswordChanged EventType = "password_changed"
	EventWelcome         EventType = "welcome"
)

// Notifier delivers account emails. Implementations must not log raw tokens.
type Notifier interface {
	SendVerification(ctx context.Context, account *models.Account, token string) error
	SendPasswordReset(ctx context.Context, account *models.Account, token string, expiresAt time.Time) error
	SendPasswordChanged(ctx context.Context, account *models.Account) error
	SendWelcome(ctx context.Context, account *models.Account) error
}

// EmailEvent is the message published for the mail service
type EmailEvent struct {
	Type      EventType  `json:"type"`
	AccountID int64      `json:"accountId"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Token     string     `json:"token,omitempty"`
	Link      string     `json:"link,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Links builds the frontend URLs embedded in emails
type Links struct {
	BaseURL string
}

// Verification returns the link that completes email verification
func (l Links) Verification(token string) string {
	return strings.TrimRight(l.BaseURL, "/") + "/verify-email/" + url.PathEscape(token)
}

// PasswordReset returns the link to the reset form
func (l Links) PasswordReset(token string) string {
	return strings.TrimRight(l.BaseURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
}

// Login returns the sign-in page
func (l Links) Login() string {
	return strings.TrimRight(l.BaseURL, "/") + "/login"
}

func newEvent(eventType EventType, account *models.Account) EmailEvent {
	name := account.FullName()
	if name == "" {
		name = account.Username
	}
	return EmailEvent{
		Type:      eventType,
		AccountID: account.ID,
		Email:     account.Email,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}

// eventBuilder maps each Notifier call onto an EmailEvent
type eventBuilder struct {
	links Links
}

func (b eventBuilder) verification(account *models.Account, token string) EmailEvent {
	e := newEvent(EventVerification, account)
	e.Token = token
	e.Link = b.links.Verification(token)
	return e
}

func (b eventBuilder) passwordReset(account *models.Account, token string, expiresAt time.Time) EmailEvent {
	e := newEvent(EventPasswordReset, account)
	e.Token = token
	e.Link = b.links.PasswordReset(token)
	exp := expiresAt.UTC()
	e.ExpiresAt = &exp
	return e
}

func (b eventBuilder) passwordChanged(account *models.Account) EmailEvent {
	e := newEvent(EventPasswordChanged, account)
	e.Link = b.links.Login()
	return e
}

func (b eventBuilder) welcome(account *models.Account) EmailEvent {
	e := newEvent(EventWelcome, account)
	e.Link = b.links.Login()
	return e
}
