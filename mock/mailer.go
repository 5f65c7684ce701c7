package mock

import (
	"context"
	"sync"
)

// Mail is a recorded outgoing mail.
type Mail struct {
	Kind  string
	Email string
	Name  string
	Key   string
}

// Mailer records mails instead of sending them.
type Mailer struct {
	mutex sync.Mutex
	sent  []Mail
}

func (m *Mailer) SendEmailConfirmation(ctx context.Context, email string, name string, key string) error {
	m.record(Mail{Kind: "confirmation", Email: email, Name: name, Key: key})
	return nil
}

func (m *Mailer) SendPasswordReset(ctx context.Context, email string, name string, key string) error {
	m.record(Mail{Kind: "password_reset", Email: email, Name: name, Key: key})
	return nil
}

func (m *Mailer) Sent() []Mail {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]Mail(nil), m.sent...)
}

func (m *Mailer) Last() (Mail, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if len(m.sent) == 0 {
		return Mail{}, false
	}
	return m.sent[len(m.sent)-1], true
}

func (m *Mailer) record(mail Mail) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sent = append(m.sent, mail)
}
