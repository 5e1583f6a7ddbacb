package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lexsynclab/lexsync/backend/internal/store"
	"gorm.io/gorm"
)

// Mutation is one client-submitted change. ID must be exactly one greater
// than the client's last durably applied mutation id to be applied; smaller
// ids are duplicates, larger ids indicate desync.
type Mutation struct {
	ID       int64           `json:"id"`
	ClientID string          `json:"clientID"`
	Name     string          `json:"name"`
	Args     json.RawMessage `json:"args"`
}

// Supported mutation names. The dispatch set is closed: anything else fails
// decoding.
const (
	MutationCreateConversation = "createConversation"
	MutationCreateMessage      = "createMessage"
	MutationDeleteMessage      = "deleteMessage"
)

type mutationOp interface {
	apply(tx *gorm.DB, userID string) (store.Affected, error)
}

type createConversationOp struct {
	ID          string `json:"id"`
	OwnerUserID string `json:"ownerUserID"`
}

func (op createConversationOp) apply(tx *gorm.DB, userID string) (store.Affected, error) {
	return store.CreateConversation(tx, userID, store.Conversation{
		ID:          op.ID,
		OwnerUserID: op.OwnerUserID,
	})
}

type createMessageOp struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationID"`
	Sender         string `json:"sender"`
	Content        string `json:"content"`
	Ord            int64  `json:"ord"`
}

func (op createMessageOp) apply(tx *gorm.DB, userID string) (store.Affected, error) {
	return store.CreateMessage(tx, userID, store.Message{
		ID:             op.ID,
		ConversationID: op.ConversationID,
		Sender:         op.Sender,
		Content:        op.Content,
		Ord:            op.Ord,
	})
}

type deleteMessageOp struct {
	messageID string
}

func (op deleteMessageOp) apply(tx *gorm.DB, userID string) (store.Affected, error) {
	return store.DeleteMessage(tx, userID, op.messageID)
}

// decodeMutation resolves the mutation name to its typed operation and
// validates the argument payload.
func decodeMutation(mutation Mutation) (mutationOp, error) {
	switch mutation.Name {
	case MutationCreateConversation:
		var op createConversationOp
		if err := json.Unmarshal(mutation.Args, &op); err != nil {
			return nil, fmt.Errorf("createConversation args: %w", err)
		}
		if strings.TrimSpace(op.ID) == "" || strings.TrimSpace(op.OwnerUserID) == "" {
			return nil, fmt.Errorf("createConversation args: id and ownerUserID are required")
		}
		return op, nil
	case MutationCreateMessage:
		var op createMessageOp
		if err := json.Unmarshal(mutation.Args, &op); err != nil {
			return nil, fmt.Errorf("createMessage args: %w", err)
		}
		if strings.TrimSpace(op.ID) == "" || strings.TrimSpace(op.ConversationID) == "" {
			return nil, fmt.Errorf("createMessage args: id and conversationID are required")
		}
		return op, nil
	case MutationDeleteMessage:
		var messageID string
		if err := json.Unmarshal(mutation.Args, &messageID); err != nil {
			return nil, fmt.Errorf("deleteMessage args: %w", err)
		}
		if strings.TrimSpace(messageID) == "" {
			return nil, fmt.Errorf("deleteMessage args: message id is required")
		}
		return deleteMessageOp{messageID: messageID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMutation, mutation.Name)
	}
}
