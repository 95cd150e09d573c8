package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSession_Renew(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		ok      bool
	}{
		{
			name:    "negotiated",
			timeout: 10 * time.Second,
			ok:      true,
		},
		{
			name:    "expired",
			timeout: 0,
		},
		{
			name:    "negative",
			timeout: -time.Second,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := New()
			assert.True(t, s.IsNew())

			pw := []byte("0123456789abcdef")
			renewed, ok := s.Renew(0x1234, pw, test.timeout)
			assert.Equal(t, test.ok, ok)
			if !ok {
				assert.Equal(t, s, renewed)
				return
			}
			assert.Equal(t, int64(0x1234), renewed.ID)
			assert.Equal(t, test.timeout, renewed.Timeout)
			assert.False(t, renewed.IsNew())
			assert.Equal(t, "0x1234", renewed.String())

			// The session keeps its own copy of the password.
			pw[0] = 'X'
			assert.Equal(t, byte('0'), renewed.Password[0])
		})
	}
}

func TestSession_PasswordOrZero(t *testing.T) {
	assert.Len(t, Session{}.PasswordOrZero(), PasswordLength)
	assert.Equal(t, make([]byte, PasswordLength), New().PasswordOrZero())

	r := Resume(7, []byte("secret"))
	assert.Equal(t, []byte("secret"), r.PasswordOrZero())
	assert.Equal(t, int64(7), r.ID)
}
