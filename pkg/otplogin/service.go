// Package otplogin implements the one-time-code login leg of the
// authorization flow: a short numeric code is delivered to the user's email
// or phone and confirmed against the pending flow attempt.
package otplogin

import (
	"context"
	"log/slog"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/relayhq/relay-auth/pkg/errors"
	"github.com/relayhq/relay-auth/pkg/flowattempt"
	"github.com/relayhq/relay-auth/pkg/notification"
	"github.com/relayhq/relay-auth/pkg/usermap"
)

const (
	totpIssuer = "relay-auth"
	totpPeriod = 120
	totpSkew   = 1
)

// OTPLoginService drives the request-code / confirm-code exchange
type OTPLoginService struct {
	attempts      flowattempt.AttemptRepository
	users         *usermap.UserMapService
	notifications *notification.NotificationManager
}

// NewOTPLoginService creates a new OTP login service
func NewOTPLoginService(attempts flowattempt.AttemptRepository, users *usermap.UserMapService,
	notifications *notification.NotificationManager) *OTPLoginService {
	return &OTPLoginService{
		attempts:      attempts,
		users:         users,
		notifications: notifications,
	}
}

// RequestCode generates a six-digit confirmation code, stores it on the
// attempt and delivers it to the given contact. Calling it again replaces
// the previous code; the attempt's expiry window is never extended.
func (s *OTPLoginService) RequestCode(ctx context.Context, csrfToken string, kind usermap.ContactKind, contact string) error {
	contact = usermap.Normalize(kind, contact)
	if contact == "" {
		return errors.InvalidInput("contact", "cannot be empty")
	}

	attempt, err := s.attempts.GetByToken(ctx, csrfToken)
	if err != nil {
		return err
	}

	code, err := generatePasscode()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	contactRef := usermap.ContactKey(kind, contact)
	err = s.attempts.Update(ctx, csrfToken, flowattempt.UpdateParams{
		ConfirmationCode:          &code,
		ConfirmationContact:       &contactRef,
		ConfirmationCodeCreatedAt: &now,
	})
	if err != nil {
		return err
	}

	system := notification.EmailSystem
	if kind == usermap.ContactPhone {
		system = notification.SMSSystem
	}
	err = s.notifications.Send(notification.LoginCodeNotice, system, notification.NotificationData{
		To: contact,
		Data: map[string]string{
			"code":            code,
			"expires_minutes": "2",
		},
	})
	if err != nil {
		slog.Error("Failed to deliver login code", "system", system, "error", err)
		return errors.InternalWrap(err, "failed to deliver login code")
	}

	slog.Info("Login code sent", "client_id", attempt.ClientID, "system", system)
	return nil
}

// ConfirmCode consumes the confirmation code and, when it matches, binds the
// user and issues the authorization code. Stale, mismatched or already-used
// codes fail and a fresh code must be requested.
func (s *OTPLoginService) ConfirmCode(ctx context.Context, csrfToken, code string, kind usermap.ContactKind, contact string) (string, error) {
	if code == "" {
		return "", errors.InvalidInput("code", "cannot be empty")
	}
	contact = usermap.Normalize(kind, contact)
	if contact == "" {
		return "", errors.InvalidInput("contact", "cannot be empty")
	}

	attempt, err := s.attempts.GetByToken(ctx, csrfToken)
	if err != nil {
		return "", err
	}

	// The code only confirms the contact it was delivered to. Check before
	// resolving the user so a mismatched confirm creates no mapping.
	contactRef := usermap.ContactKey(kind, contact)
	if attempt.AuthorizationCode == "" && attempt.ConfirmationContact != contactRef {
		slog.Warn("Confirmation contact rejected", "client_id", attempt.ClientID)
		return "", errors.New(errors.ErrCodeConfirmMismatch, "confirmation code does not match")
	}

	userID, err := s.users.ResolveOrCreate(ctx, kind, contact)
	if err != nil {
		return "", err
	}

	authCode, err := flowattempt.IssueCode(ctx, s.attempts, csrfToken, func(c string) flowattempt.IssueCodeParams {
		return flowattempt.IssueCodeParams{
			Code:                       c,
			UserID:                     userID,
			RequireConfirmationCode:    &code,
			RequireConfirmationContact: &contactRef,
		}
	})
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeConfirmMismatch) {
			slog.Warn("Confirmation code rejected", "client_id", attempt.ClientID)
		}
		return "", err
	}

	slog.Info("Login confirmed", "client_id", attempt.ClientID, "user_id", userID)
	return attempt.RedirectURLWithCode(authCode)
}

// generatePasscode derives a six-digit code from a freshly minted TOTP
// secret. The secret is discarded; the literal code is compared at confirm
// time.
func generatePasscode() (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: totpIssuer,
	})
	if err != nil {
		return "", errors.InternalWrap(err, "failed to generate passcode secret")
	}

	code, err := totp.GenerateCodeCustom(key.Secret(), time.Now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", errors.InternalWrap(err, "failed to generate passcode")
	}
	return code, nil
}
