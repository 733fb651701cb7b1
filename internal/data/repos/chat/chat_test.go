package chat_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
	"github.com/yungbote/research-agent-backend/internal/data/docstore"
	"github.com/yungbote/research-agent-backend/internal/data/repos/chat"
	"github.com/yungbote/research-agent-backend/internal/data/repos/testutil"
	"github.com/yungbote/research-agent-backend/internal/platform/dbctx"
)

func TestChatRepoRoundTrip(t *testing.T) {
	for name, open := range map[string]func(testing.TB) docstore.Store{
		"memory":   testutil.MemoryStore,
		"sqlite":   testutil.SQLiteStore,
		"postgres": testutil.PostgresStore,
	} {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			dbc := dbctx.Background()
			chats := chat.NewChatRepo(store, testutil.Logger(t))
			messages := chat.NewMessageRepo(store, testutil.Logger(t))

			c := &domain.Chat{ID: uuid.NewString(), UserID: "u1", Title: "t", Active: true, CreatedAt: time.Now().UTC()}
			created, err := chats.Create(dbc, c)
			require.NoError(t, err)
			assert.EqualValues(t, 1, created.Version)

			_, err = chats.Create(dbc, c)
			require.ErrorIs(t, err, docstore.ErrVersionMismatch)

			m := &domain.Message{
				ID:         uuid.NewString(),
				ChatID:     c.ID,
				AuthorKind: domain.AuthorHuman,
				Fragments:  testutil.Text("hi"),
			}
			w, err := messages.CreateWrite(m)
			require.NoError(t, err)
			c.LastMessageID = domain.OptionalID(m.ID)
			updated, err := chats.Update(dbc, c, created.Version, w)
			require.NoError(t, err)
			assert.EqualValues(t, 2, updated.Version)

			got, err := chats.Get(dbc, c.ID)
			require.NoError(t, err)
			assert.Equal(t, m.ID, got.Tail())

			gotMsg, err := messages.Get(dbc, m.ID)
			require.NoError(t, err)
			assert.Nil(t, gotMsg.PreviousMessageID)
			assert.Equal(t, "hi", gotMsg.Fragments.PlainText())

			require.NoError(t, messages.Delete(dbc, m.ID))
			_, err = messages.Get(dbc, m.ID)
			require.ErrorIs(t, err, domain.ErrNotFound)
			require.ErrorIs(t, messages.Delete(dbc, m.ID), domain.ErrNotFound)

			_, err = chats.Get(dbc, "missing")
			require.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestSuccessorsOnlyCountsSameChat(t *testing.T) {
	for name, open := range map[string]func(testing.TB) docstore.Store{
		"memory": testutil.MemoryStore,
		"sqlite": testutil.SQLiteStore,
	} {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			dbc := dbctx.Background()
			messages := chat.NewMessageRepo(store, testutil.Logger(t))
			put := func(chatID, prev string) string {
				m := &domain.Message{
					ID:                uuid.NewString(),
					ChatID:            chatID,
					PreviousMessageID: domain.OptionalID(prev),
					AuthorKind:        domain.AuthorHuman,
					Fragments:         testutil.Text("x"),
				}
				w, err := messages.CreateWrite(m)
				require.NoError(t, err)
				_, err = store.Put(dbc, w.Collection, w.Record)
				require.NoError(t, err)
				return m.ID
			}

			root := put("c1", "")
			child := put("c1", root)
			put("c2", root)

			got, err := messages.Successors(dbc, "c1", root)
			require.NoError(t, err)
			assert.Equal(t, []string{child}, got)

			got, err = messages.Successors(dbc, "c1", child)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}
