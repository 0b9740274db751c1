package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("matches wrapped domain error", func(t *testing.T) {
		err := fmt.Errorf("submit: %w", New(CodeEventNotFound, "no event"))
		assert.True(t, HasCode(err, CodeEventNotFound))
		assert.False(t, HasCode(err, CodeLedgerTxFailed))
	})

	t.Run("plain errors have no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})

	t.Run("wrap keeps cause reachable", func(t *testing.T) {
		cause := errors.New("dial tcp: refused")
		err := Wrap(cause, CodeLedgerUnavailable, "ledger unreachable")
		assert.ErrorIs(t, err, cause)
		assert.True(t, Retryable(err))
	})
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:        http.StatusBadRequest,
		CodeIdentityMismatch:  http.StatusForbidden,
		CodeLedgerNotFound:    http.StatusNotFound,
		CodeLedgerTxFailed:    http.StatusUnprocessableEntity,
		CodeEventNotFound:     http.StatusUnprocessableEntity,
		CodeLedgerUnavailable: http.StatusServiceUnavailable,
		CodeDecryptFailed:     http.StatusInternalServerError,
		CodeConflict:          http.StatusConflict,
	}
	for code, status := range cases {
		assert.Equal(t, status, ToHTTPStatus(code), string(code))
	}
}

func TestPublic(t *testing.T) {
	assert.False(t, Public(CodeUnwrapFailed))
	assert.False(t, Public(CodeInternal))
	assert.True(t, Public(CodeIdentityMismatch))
}
