package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationManager_Send(t *testing.T) {
	manager := NewNotificationManager()
	mock := &MockNotifier{}
	manager.RegisterNotifier(EmailSystem, mock)
	require.NoError(t, manager.RegisterNotice(LoginCodeNotice, EmailSystem,
		NoticeTemplate{Subject: "Your sign-in code", Text: "Code: {{.code}}"}))

	err := manager.Send(LoginCodeNotice, EmailSystem, NotificationData{
		To:   "alice@example.com",
		Data: map[string]string{"code": "123456"},
	})
	require.NoError(t, err)

	require.Len(t, mock.SentNotifications, 1)
	assert.Equal(t, "alice@example.com", mock.SentNotifications[0].To)
	assert.Equal(t, "123456", mock.SentNotifications[0].Data["code"])
}

func TestNotificationManager_MissingRegistrations(t *testing.T) {
	manager := NewNotificationManager()

	// Nothing registered at all
	err := manager.Send(LoginCodeNotice, EmailSystem, NotificationData{To: "a@b.com"})
	assert.Error(t, err)

	// Template registered for email only
	require.NoError(t, manager.RegisterNotice(LoginCodeNotice, EmailSystem, NoticeTemplate{Text: "x"}))
	err = manager.Send(LoginCodeNotice, SMSSystem, NotificationData{To: "+15551234567"})
	assert.Error(t, err)

	// Template present but no notifier for the system
	err = manager.Send(LoginCodeNotice, EmailSystem, NotificationData{To: "a@b.com"})
	assert.Error(t, err)
}

func TestNotificationManager_RegisterNoticeValidation(t *testing.T) {
	manager := NewNotificationManager()

	assert.Error(t, manager.RegisterNotice("", EmailSystem, NoticeTemplate{}))
	assert.Error(t, manager.RegisterNotice(LoginCodeNotice, "", NoticeTemplate{}))
}
