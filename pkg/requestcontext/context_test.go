package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sentinel-sos/pkg/domain"
)

func TestPrincipal(t *testing.T) {
	t.Run("anonymous context has no principal", func(t *testing.T) {
		_, ok := Principal(context.Background())
		assert.False(t, ok)
	})

	t.Run("subject principal round trips", func(t *testing.T) {
		id := domain.NewSubjectID()
		ctx := WithPrincipal(context.Background(), SubjectPrincipal(id, "0xabc"))
		c, ok := Principal(ctx)
		assert.True(t, ok)
		assert.True(t, c.IsSubject())
		assert.False(t, c.IsOperator())
		assert.Equal(t, id.String(), c.ActorID())
	})

	t.Run("operator principal is not a subject", func(t *testing.T) {
		c := OperatorPrincipal(domain.NewOperatorID(), "responder")
		assert.True(t, c.IsOperator())
		assert.False(t, c.IsSubject())
	})
}

func TestNow(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, fixed, Now(WithTime(context.Background(), fixed)))
	assert.WithinDuration(t, time.Now(), Now(context.Background()), time.Second)
}
