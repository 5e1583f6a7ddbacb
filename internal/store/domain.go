package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// EntityVersion is one row of a change-detection query: an entity id and the
// row version observed for it.
type EntityVersion struct {
	ID         string
	RowVersion int64
}

// Affected buckets the entities a mutation touched by invalidation channel.
type Affected struct {
	ConversationIDs []string
	UserIDs         []string
}

// SearchConversations returns id/version pairs for every conversation owned
// by the user.
func SearchConversations(tx *gorm.DB, userID string) ([]EntityVersion, error) {
	var conversations []Conversation
	if err := tx.Where("owner_user_id = ?", userID).Find(&conversations).Error; err != nil {
		return nil, err
	}
	versions := make([]EntityVersion, 0, len(conversations))
	for _, conversation := range conversations {
		versions = append(versions, EntityVersion{ID: conversation.ID, RowVersion: conversation.RowVersion})
	}
	return versions, nil
}

// SearchMessages returns id/version pairs for every message in a conversation
// owned by the user.
func SearchMessages(tx *gorm.DB, userID string) ([]EntityVersion, error) {
	var messages []Message
	err := tx.
		Select("messages.*").
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("conversations.owner_user_id = ?", userID).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	versions := make([]EntityVersion, 0, len(messages))
	for _, message := range messages {
		versions = append(versions, EntityVersion{ID: message.ID, RowVersion: message.RowVersion})
	}
	return versions, nil
}

// GetConversations fetches full conversation bodies for the given ids.
func GetConversations(tx *gorm.DB, conversationIDs []string) ([]Conversation, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}
	var conversations []Conversation
	if err := tx.Where("id IN ?", conversationIDs).Find(&conversations).Error; err != nil {
		return nil, err
	}
	return conversations, nil
}

// GetMessages fetches full message bodies for the given ids.
func GetMessages(tx *gorm.DB, messageIDs []string) ([]Message, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var messages []Message
	if err := tx.Where("id IN ?", messageIDs).Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// CreateConversation inserts a conversation. Users may only create
// conversations for themselves.
func CreateConversation(tx *gorm.DB, userID string, conversation Conversation) (Affected, error) {
	if conversation.OwnerUserID != userID {
		return Affected{}, fmt.Errorf("%w: user can only create conversations for themselves", ErrUnauthorized)
	}
	conversation.RowVersion = 1
	conversation.LastModified = time.Now().UTC().Unix()
	if err := tx.Create(&conversation).Error; err != nil {
		return Affected{}, err
	}
	return Affected{UserIDs: []string{conversation.OwnerUserID}}, nil
}

// CreateMessage inserts a message into a conversation the user owns.
func CreateMessage(tx *gorm.DB, userID string, message Message) (Affected, error) {
	var conversation Conversation
	err := tx.Where("id = ? AND owner_user_id = ?", message.ConversationID, userID).Take(&conversation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Affected{}, fmt.Errorf("%w: user cannot access conversation", ErrUnauthorized)
	}
	if err != nil {
		return Affected{}, err
	}
	message.RowVersion = 1
	message.LastModified = time.Now().UTC().Unix()
	if err := tx.Create(&message).Error; err != nil {
		return Affected{}, err
	}
	return Affected{ConversationIDs: []string{message.ConversationID}}, nil
}

// DeleteMessage removes a message from a conversation the user owns.
func DeleteMessage(tx *gorm.DB, userID, messageID string) (Affected, error) {
	var message Message
	err := tx.
		Select("messages.*").
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("messages.id = ? AND conversations.owner_user_id = ?", messageID, userID).
		Take(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Affected{}, fmt.Errorf("%w: message", ErrNotFound)
	}
	if err != nil {
		return Affected{}, err
	}
	if err := tx.Where("id = ?", messageID).Delete(&Message{}).Error; err != nil {
		return Affected{}, err
	}
	return Affected{ConversationIDs: []string{message.ConversationID}}, nil
}
