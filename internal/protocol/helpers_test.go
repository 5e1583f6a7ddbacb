package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/lexsynclab/lexsync/backend/internal/store"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(store.Models()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func rawArgs(t *testing.T, args interface{}) json.RawMessage {
	t.Helper()
	encoded, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("failed to encode args: %v", err)
	}
	return encoded
}

func createConversationMutation(t *testing.T, id int64, clientID, conversationID, ownerUserID string) Mutation {
	t.Helper()
	return Mutation{
		ID:       id,
		ClientID: clientID,
		Name:     MutationCreateConversation,
		Args:     rawArgs(t, map[string]string{"id": conversationID, "ownerUserID": ownerUserID}),
	}
}

func createMessageMutation(t *testing.T, id int64, clientID, messageID, conversationID, sender, content string, ord int64) Mutation {
	t.Helper()
	return Mutation{
		ID:       id,
		ClientID: clientID,
		Name:     MutationCreateMessage,
		Args: rawArgs(t, map[string]interface{}{
			"id":             messageID,
			"conversationID": conversationID,
			"sender":         sender,
			"content":        content,
			"ord":            ord,
		}),
	}
}

func deleteMessageMutation(t *testing.T, id int64, clientID, messageID string) Mutation {
	t.Helper()
	return Mutation{
		ID:       id,
		ClientID: clientID,
		Name:     MutationDeleteMessage,
		Args:     rawArgs(t, messageID),
	}
}

func clientLastMutationID(t *testing.T, db *gorm.DB, clientID string) int64 {
	t.Helper()
	var client store.Client
	if err := db.Where("id = ?", clientID).Take(&client).Error; err != nil {
		t.Fatalf("failed to load client %s: %v", clientID, err)
	}
	return client.LastMutationID
}
