package shimstore

import (
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsConnectionLostRecognizesDriverErrors(t *testing.T) {
	assert.True(t, isConnectionLost(driver.ErrBadConn))
	assert.True(t, isConnectionLost(errors.New("dial tcp: connection refused")))
	assert.True(t, isConnectionLost(errors.New("write: broken pipe")))
	assert.False(t, isConnectionLost(errors.New("syntax error near SELEKT")))
}

func TestSQLBackendNotifyDisconnectedFiresHandlers(t *testing.T) {
	backend, err := ConnectSQLite(":memory:", 4)
	if err != nil {
		t.Fatalf("ConnectSQLite: %v", err)
	}

	var got error
	backend.onDisconnected(func(e error) { got = e })

	cause := errors.New("connection reset by peer")
	backend.notifyDisconnected(cause)
	assert.Equal(t, cause, got)
}
