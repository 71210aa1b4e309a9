package otplogin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhq/relay-auth/pkg/errors"
	"github.com/relayhq/relay-auth/pkg/flowattempt"
	"github.com/relayhq/relay-auth/pkg/notification"
	"github.com/relayhq/relay-auth/pkg/usermap"
)

type otpFixture struct {
	service  *OTPLoginService
	attempts flowattempt.AttemptRepository
	users    *usermap.UserMapService
	email    *notification.MockNotifier
	sms      *notification.MockNotifier
}

func newOTPFixture(t *testing.T) *otpFixture {
	t.Helper()

	manager := notification.NewNotificationManager()
	email := &notification.MockNotifier{}
	sms := &notification.MockNotifier{}
	manager.RegisterNotifier(notification.EmailSystem, email)
	manager.RegisterNotifier(notification.SMSSystem, sms)
	require.NoError(t, manager.RegisterNotice(notification.LoginCodeNotice, notification.EmailSystem,
		notification.NoticeTemplate{Subject: "Your sign-in code", Text: "Code: {{.code}}"}))
	require.NoError(t, manager.RegisterNotice(notification.LoginCodeNotice, notification.SMSSystem,
		notification.NoticeTemplate{Text: "Code: {{.code}}"}))

	attempts := flowattempt.NewInMemoryAttemptRepository()
	users := usermap.NewUserMapService(usermap.NewInMemoryUserMapRepository())

	return &otpFixture{
		service:  NewOTPLoginService(attempts, users, manager),
		attempts: attempts,
		users:    users,
		email:    email,
		sms:      sms,
	}
}

func (f *otpFixture) seedAttempt(t *testing.T, csrfToken string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.attempts.Create(context.Background(), &flowattempt.AuthFlowAttempt{
		CSRFToken:    csrfToken,
		ClientID:     "client1",
		ResponseType: "code",
		Scope:        "message.read",
		RedirectURI:  "https://app.example.com/cb",
		State:        "xyz",
		CreatedAt:    now,
		ExpiresAt:    now.Add(flowattempt.DefaultTTL),
	}))
}

func TestOTPLoginService_RequestCode(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()
	f.seedAttempt(t, "csrf1")

	require.NoError(t, f.service.RequestCode(ctx, "csrf1", usermap.ContactEmail, "alice@example.com"))

	require.Len(t, f.email.SentNotifications, 1)
	sent := f.email.SentNotifications[0]
	assert.Equal(t, "alice@example.com", sent.To)
	assert.Len(t, sent.Data["code"], 6)

	attempt, err := f.attempts.GetByToken(ctx, "csrf1")
	require.NoError(t, err)
	assert.Equal(t, sent.Data["code"], attempt.ConfirmationCode)
}

func TestOTPLoginService_RequestCodeViaSMS(t *testing.T) {
	f := newOTPFixture(t)
	f.seedAttempt(t, "csrf1")

	require.NoError(t, f.service.RequestCode(context.Background(), "csrf1", usermap.ContactPhone, "+15551234567"))
	assert.Len(t, f.sms.SentNotifications, 1)
	assert.Empty(t, f.email.SentNotifications)
}

func TestOTPLoginService_RequestCodeUnknownAttempt(t *testing.T) {
	f := newOTPFixture(t)

	err := f.service.RequestCode(context.Background(), "no-such-token", usermap.ContactEmail, "alice@example.com")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestOTPLoginService_ResendReplacesCodeWithoutExtendingTTL(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()
	f.seedAttempt(t, "csrf1")

	before, err := f.attempts.GetByToken(ctx, "csrf1")
	require.NoError(t, err)

	require.NoError(t, f.service.RequestCode(ctx, "csrf1", usermap.ContactEmail, "alice@example.com"))
	first, err := f.attempts.GetByToken(ctx, "csrf1")
	require.NoError(t, err)

	require.NoError(t, f.service.RequestCode(ctx, "csrf1", usermap.ContactEmail, "alice@example.com"))
	second, err := f.attempts.GetByToken(ctx, "csrf1")
	require.NoError(t, err)

	assert.Len(t, f.email.SentNotifications, 2)
	assert.NotEmpty(t, second.ConfirmationCode)
	assert.Equal(t, before.ExpiresAt, first.ExpiresAt)
	assert.Equal(t, before.ExpiresAt, second.ExpiresAt)

	// Only the latest code is accepted
	if first.ConfirmationCode != second.ConfirmationCode {
		_, err = f.service.ConfirmCode(ctx, "csrf1", first.ConfirmationCode, usermap.ContactEmail, "alice@example.com")
		assert.True(t, errors.IsCode(err, errors.ErrCodeConfirmMismatch))
	}
}

func TestOTPLoginService_ConfirmCode(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()
	f.seedAttempt(t, "csrf1")

	require.NoError(t, f.service.RequestCode(ctx, "csrf1", usermap.ContactEmail, "alice@example.com"))
	code := f.email.SentNotifications[0].Data["code"]

	redirectURL, err := f.service.ConfirmCode(ctx, "csrf1", code, usermap.ContactEmail, "alice@example.com")
	require.NoError(t, err)
	assert.Contains(t, redirectURL, "https://app.example.com/cb?code=")
	assert.Contains(t, redirectURL, "state=xyz")

	// The attempt now carries the issued code bound to a real user
	attempt, err := f.attempts.GetByToken(ctx, "csrf1")
	require.NoError(t, err)
	assert.NotEmpty(t, attempt.AuthorizationCode)
	assert.NotEmpty(t, attempt.UserID)
	assert.Contains(t, redirectURL, "code="+attempt.AuthorizationCode)
}

func TestOTPLoginService_ConfirmWrongCode(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()
	f.seedAttempt(t, "csrf1")

	require.NoError(t, f.service.RequestCode(ctx, "csrf1", usermap.ContactEmail, "alice@example.com"))
	code := f.email.SentNotifications[0].Data["code"]

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	_, err := f.service.ConfirmCode(ctx, "csrf1", wrong, usermap.ContactEmail, "alice@example.com")
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfirmMismatch))

	// The real code still works after a failed guess
	_, err = f.service.ConfirmCode(ctx, "csrf1", code, usermap.ContactEmail, "alice@example.com")
	assert.NoError(t, err)
}

func TestOTPLoginService_ConfirmCodeIsSingleUse(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()
	f.seedAttempt(t, "csrf1")

	require.NoError(t, f.service.RequestCode(ctx, "csrf1", usermap.ContactEmail, "alice@example.com"))
	code := f.email.SentNotifications[0].Data["code"]

	_, err := f.service.ConfirmCode(ctx, "csrf1", code, usermap.ContactEmail, "alice@example.com")
	require.NoError(t, err)

	// A second confirm cannot mint another authorization code
	_, err = f.service.ConfirmCode(ctx, "csrf1", code, usermap.ContactEmail, "alice@example.com")
	assert.True(t, errors.IsCode(err, errors.ErrCodeCodeConsumed))
}

func TestOTPLoginService_ConfirmRejectsDifferentContact(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()
	f.seedAttempt(t, "csrf1")

	require.NoError(t, f.service.RequestCode(ctx, "csrf1", usermap.ContactEmail, "mallory@example.com"))
	code := f.email.SentNotifications[0].Data["code"]

	// The delivered code must not log in as a contact it was never sent to
	_, err := f.service.ConfirmCode(ctx, "csrf1", code, usermap.ContactEmail, "carol@example.com")
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfirmMismatch))

	// No user was created for the contact that failed to confirm
	_, err = f.users.Resolve(ctx, usermap.ContactEmail, "carol@example.com")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	// A phone confirm with the same literal contact string fails too
	_, err = f.service.ConfirmCode(ctx, "csrf1", code, usermap.ContactPhone, "mallory@example.com")
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfirmMismatch))

	// The delivered contact still confirms
	_, err = f.service.ConfirmCode(ctx, "csrf1", code, usermap.ContactEmail, "mallory@example.com")
	assert.NoError(t, err)
}

func TestOTPLoginService_ConfirmWithoutRequest(t *testing.T) {
	f := newOTPFixture(t)
	f.seedAttempt(t, "csrf1")

	_, err := f.service.ConfirmCode(context.Background(), "csrf1", "123456", usermap.ContactEmail, "alice@example.com")
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfirmMismatch))
}

func TestOTPLoginService_SameContactSameUser(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	var userIDs []string
	for _, token := range []string{"csrf1", "csrf2"} {
		f.seedAttempt(t, token)
		require.NoError(t, f.service.RequestCode(ctx, token, usermap.ContactEmail, "alice@example.com"))
		code := f.email.SentNotifications[len(f.email.SentNotifications)-1].Data["code"]
		_, err := f.service.ConfirmCode(ctx, token, code, usermap.ContactEmail, "alice@example.com")
		require.NoError(t, err)

		attempt, err := f.attempts.GetByToken(ctx, token)
		require.NoError(t, err)
		userIDs = append(userIDs, attempt.UserID)
	}
	assert.Equal(t, userIDs[0], userIDs[1])
}
