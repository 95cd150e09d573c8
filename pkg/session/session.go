package session

import (
	"bytes"
	"fmt"
	"time"
)

// PasswordLength is the size of the password the server hands out with a
// session id.
const PasswordLength = 16

// Session is the identity a client keeps across TCP reconnects until the
// server expires it. The zero value (ID 0) asks the server for a new session.
type Session struct {
	ID       int64
	Password []byte
	// Timeout is the timeout the server negotiated. Zero until the first
	// handshake completes.
	Timeout time.Duration
}

// New returns a brand-new session with a zero-filled password.
func New() Session {
	return Session{Password: make([]byte, PasswordLength)}
}

// Resume returns a session that asks the server to reattach to id.
func Resume(id int64, password []byte) Session {
	return Session{ID: id, Password: bytes.Clone(password)}
}

func (s Session) IsNew() bool {
	return s.ID == 0
}

// Renew returns the session established by a handshake. A non-positive
// timeout means the server has expired the session.
func (s Session) Renew(id int64, password []byte, timeout time.Duration) (Session, bool) {
	if timeout <= 0 {
		return s, false
	}
	return Session{ID: id, Password: bytes.Clone(password), Timeout: timeout}, true
}

// PasswordOrZero returns the password to send in a connect request, which
// must always be PasswordLength bytes.
func (s Session) PasswordOrZero() []byte {
	if len(s.Password) == 0 {
		return make([]byte, PasswordLength)
	}
	return s.Password
}

func (s Session) String() string {
	return fmt.Sprintf("0x%x", s.ID)
}
