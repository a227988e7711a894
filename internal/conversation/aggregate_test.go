package conversation

import (
	"testing"
	"time"

	"github.com/creatif-sam/ambf-connect/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func msg(id, from, to string, sec int) model.Message {
	return model.Message{ID: id, SenderID: from, ReceiverID: to, Content: id, CreatedAt: at(sec)}
}

func TestAggregateKeepsMostRecentPerCounterparty(t *testing.T) {
	msgs := []model.Message{
		msg("m1", "A", "B", 1),
		msg("m3", "B", "A", 3),
		msg("m2", "A", "B", 2),
	}
	profiles := map[string]model.Profile{"B": {ID: "B", FullName: "Bea"}}

	got := Aggregate("A", msgs, profiles)

	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].Counterparty.ID)
	assert.Equal(t, "Bea", got[0].Counterparty.FullName)
	assert.Equal(t, "m3", got[0].LastMessage.ID)
}

func TestAggregateOrdersByRecency(t *testing.T) {
	msgs := []model.Message{
		msg("b1", "A", "B", 5),
		msg("c1", "C", "A", 9),
		msg("d1", "A", "D", 1),
	}

	got := Aggregate("A", msgs, nil)

	require.Len(t, got, 3)
	assert.Equal(t, []string{"C", "B", "D"}, []string{got[0].Counterparty.ID, got[1].Counterparty.ID, got[2].Counterparty.ID})
	assert.Empty(t, got[0].Counterparty.FullName, "missing profile falls back to id only")
}

func TestAggregateTieKeepsFirstEncountered(t *testing.T) {
	msgs := []model.Message{
		msg("first", "A", "B", 4),
		msg("second", "B", "A", 4),
	}

	got := Aggregate("A", msgs, nil)

	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].LastMessage.ID)
}

func TestAggregateSkipsForeignAndSelfMessages(t *testing.T) {
	msgs := []model.Message{
		msg("x", "B", "C", 1),
		msg("self", "A", "A", 2),
	}

	assert.Empty(t, Aggregate("A", msgs, nil))
}

func TestAggregateCountsUnreadIncoming(t *testing.T) {
	read := at(10)
	msgs := []model.Message{
		msg("in1", "B", "A", 1),
		msg("in2", "B", "A", 2),
		msg("out", "A", "B", 3),
	}
	msgs[0].ReadAt = &read

	got := Aggregate("A", msgs, nil)

	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].UnreadCount)
}

func TestCounterparties(t *testing.T) {
	msgs := []model.Message{
		msg("1", "A", "B", 1),
		msg("2", "C", "A", 2),
		msg("3", "B", "A", 3),
	}
	assert.Equal(t, []string{"B", "C"}, Counterparties("A", msgs))
}
