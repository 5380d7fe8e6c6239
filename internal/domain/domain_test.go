package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConversation(t *testing.T) {
	now := time.Now()
	c := NewConversation("C1", "org-1", now)

	assert.Equal(t, StatusActive, c.Status)
	assert.Equal(t, CategoryAIHandled, c.Category)
	assert.False(t, c.Assigned())
	assert.False(t, c.HasIdentity())
	assert.NoError(t, c.Validate())
}

func TestConversation_End(t *testing.T) {
	now := time.Now()

	t.Run("unassigned becomes completed", func(t *testing.T) {
		c := NewConversation("C1", "org-1", now)
		c.IdentityStage = StageEmail
		c.PendingMessage = "Hello"
		c.End("visitor", now)

		assert.True(t, c.Ended())
		require.NotNil(t, c.EndedAt)
		assert.Equal(t, "visitor", c.EndedBy)
		assert.Equal(t, CategoryCompleted, c.Category)
		assert.Equal(t, StageNone, c.IdentityStage)
		assert.Empty(t, c.PendingMessage)
		assert.NoError(t, c.Validate())
	})

	t.Run("assigned keeps category", func(t *testing.T) {
		c := NewConversation("C2", "org-1", now)
		c.Assign("A1")
		c.End("agent:A1", now)

		assert.Equal(t, CategoryAssigned, c.Category)
		assert.NoError(t, c.Validate())
	})
}

func TestConversation_Validate(t *testing.T) {
	now := time.Now()

	c := NewConversation("C1", "org-1", now)
	c.Status = StatusEnded
	assert.Error(t, c.Validate(), "ended without endedAt/endedBy")

	c = NewConversation("C1", "org-1", now)
	c.Assignment = "A1"
	assert.Error(t, c.Validate(), "assigned without category")

	c = NewConversation("", "org-1", now)
	assert.Error(t, c.Validate())
}

func TestConversation_NextMessageTime(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewConversation("C1", "org-1", base)

	later := base.Add(time.Second)
	assert.Equal(t, later, c.NextMessageTime(later))

	got := c.NextMessageTime(base)
	assert.True(t, got.After(base))

	earlier := base.Add(-time.Hour)
	assert.True(t, c.NextMessageTime(earlier).After(base))
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    TicketPriority
		wantErr bool
	}{
		{"", PriorityMedium, false},
		{"HIGH", PriorityHigh, false},
		{" urgent ", PriorityUrgent, false},
		{"low", PriorityLow, false},
		{"critical", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
