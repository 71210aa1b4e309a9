package notification

// MockNotifier records sent notifications for tests instead of delivering them
type MockNotifier struct {
	SentNotifications []NotificationData
}

func (m *MockNotifier) Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error {
	m.SentNotifications = append(m.SentNotifications, notification)
	return nil
}

// Last returns the most recently sent notification, or nil when none was sent
func (m *MockNotifier) Last() *NotificationData {
	if len(m.SentNotifications) == 0 {
		return nil
	}
	return &m.SentNotifications[len(m.SentNotifications)-1]
}
