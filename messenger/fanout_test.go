package messenger_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"messenger-core/messenger"
	"messenger-core/mocks"
	"messenger-core/model"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"gorm.io/gorm"
)

func TestFanout_OneDeliveryPerRecipient(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	broadcaster := mocks.NewMockBroadcaster(ctrl)
	f := newFixture(t, broadcaster)
	team := f.team(t)

	var got []messenger.Delivery
	broadcaster.EXPECT().Deliver(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, d messenger.Delivery) error {
			got = append(got, d)
			return nil
		}).Times(2)

	// When u1 sends in the group
	m := f.send(t, team.ID, "u1", "Hi")

	// Then u2 and u3 get exactly one delivery each and u1 none
	req.ElementsMatch([]uint{f.id("u2"), f.id("u3")}, lo.Map(got, func(d messenger.Delivery, _ int) uint { return d.RecipientID }))
	for _, d := range got {
		req.Equal(messenger.Channel(team.ID), d.Channel)
		req.Equal(messenger.EventMessageSent, d.Event)
		req.Equal(m.ID, d.Payload.ID)
		req.Equal("Hi", d.Payload.Content)
		req.Equal("u1", d.Payload.Sender.Username)
		req.Equal(m.CreatedAt.UTC().Format(time.RFC3339Nano), d.Payload.CreatedAt)
	}
}

func TestFanout_SoleParticipantGetsNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	broadcaster := mocks.NewMockBroadcaster(ctrl)
	f := newFixture(t, broadcaster)
	solo, err := f.service.CreateGroup(context.Background(), f.id("u1"), "Notes", "", nil)
	require.NoError(t, err)

	broadcaster.EXPECT().Deliver(gomock.Any(), gomock.Any()).Times(0)

	f.send(t, solo.ID, "u1", "note to self")
}

func TestFanout_TransportFailureDoesNotFailAppend(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	broadcaster := mocks.NewMockBroadcaster(ctrl)
	f := newFixture(t, broadcaster)
	team := f.team(t)

	broadcaster.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(errors.New("socket gone")).Times(2)

	// When every delivery fails
	m, err := f.service.Append(context.Background(), team.ID, f.id("u2"), messenger.SendInput{Content: "anyone?"})

	// Then the message is still stored and listed
	req.NoError(err)
	views, _, err := f.service.ListMessages(context.Background(), team.ID, f.id("u1"), messenger.Page{})
	req.NoError(err)
	req.Len(views, 1)
	req.Equal(m.ID, views[0].ID)
}

func TestFanout_SenderSurvivesFailedReload(t *testing.T) {
	req := require.New(t)
	rec := &recorder{}
	f := newFixture(t, rec)
	team := f.team(t)

	// Given reads of the messages table fail once the message is written
	var failing atomic.Bool
	req.NoError(f.db.Callback().Query().Before("gorm:query").Register("test:fail_message_reads", func(tx *gorm.DB) {
		if failing.Load() && tx.Statement.Table == "messages" {
			_ = tx.AddError(errors.New("replica unavailable"))
		}
	}))
	t.Cleanup(func() { _ = f.db.Callback().Query().Remove("test:fail_message_reads") })
	failing.Store(true)

	// When u1 sends in the group
	m, err := f.service.Append(context.Background(), team.ID, f.id("u1"), messenger.SendInput{Content: "Hi"})
	failing.Store(false)

	// Then the result and every delivery still name the sender
	req.NoError(err)
	req.Equal(f.id("u1"), m.Sender.ID)
	req.Equal("u1", m.Sender.Username)
	deliveries := rec.All()
	req.Len(deliveries, 2)
	for _, d := range deliveries {
		req.Equal(f.id("u1"), d.Payload.Sender.ID)
		req.Equal("u1", d.Payload.Sender.Username)
	}
}

func TestFanout_SurvivesCancelledRequest(t *testing.T) {
	req := require.New(t)
	rec := &recorder{}
	f := newFixture(t, rec)
	team := f.team(t)
	m := f.send(t, team.ID, "u1", "Hi")
	initial := len(rec.All())

	// When the caller's context is already gone at fan-out time
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	accepted := f.service.Fanout.Emit(ctx, m, team)

	// Then deliveries still go out
	req.Equal(2, accepted)
	req.Len(rec.All(), initial+2)
}

func TestFanout_ReplyPreviewIsTruncated(t *testing.T) {
	req := require.New(t)
	rec := &recorder{}
	f := newFixture(t, rec)
	team := f.team(t)
	long := f.send(t, team.ID, "u2", strings.Repeat("a", 150))

	_, err := f.service.Append(context.Background(), team.ID, f.id("u3"), messenger.SendInput{Content: "tl;dr", ReplyToID: &long.ID})
	req.NoError(err)

	last := rec.All()[len(rec.All())-1]
	req.NotNil(last.Payload.ReplyTo)
	req.Equal(long.ID, last.Payload.ReplyTo.ID)
	req.Equal("u2", last.Payload.ReplyTo.Username)
	req.Equal(strings.Repeat("a", 100)+"…", last.Payload.ReplyTo.Content)
}

func TestRecipients(t *testing.T) {
	participations := []model.Participation{{UserID: 1}, {UserID: 2}, {UserID: 3}}

	require.Equal(t, []uint{2, 3}, messenger.Recipients(participations, 1))
	require.Equal(t, []uint{1, 2, 3}, messenger.Recipients(participations, 9))
	require.Empty(t, messenger.Recipients(participations[:1], 1))
}

func TestBroadcasters_TriesEveryTransport(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	failing := mocks.NewMockBroadcaster(ctrl)
	working := mocks.NewMockBroadcaster(ctrl)
	delivery := messenger.Delivery{Channel: messenger.Channel(1), RecipientID: 2, Event: messenger.EventMessageSent}

	failing.EXPECT().Deliver(gomock.Any(), delivery).Return(errors.New("broker down"))
	working.EXPECT().Deliver(gomock.Any(), delivery).Return(nil)

	err := messenger.Broadcasters{failing, working}.Deliver(context.Background(), delivery)

	req.ErrorContains(err, "broker down")
}
