package notification

// NotificationSystem represents a delivery channel (e.g., email, SMS).
type NotificationSystem string

// NoticeType represents a kind of notice (e.g., "login_code").
type NoticeType string

const (
	EmailSystem NotificationSystem = "email"
	SMSSystem   NotificationSystem = "sms"

	LoginCodeNotice NoticeType = "login_code"
)

// NoticeTemplate holds the renderable bodies for one notice on one system.
// Templates use text/template or html/template syntax over NotificationData.Data.
type NoticeTemplate struct {
	Subject string
	Text    string
	Html    string
}

type NotificationData struct {
	To   string            // Recipient identifier (email address or phone number)
	Body string            // Pre-rendered content, used when the template has no body
	Data map[string]string // Template values (e.g., "code", "expires_minutes")
}

type Notifier interface {
	Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error
}
