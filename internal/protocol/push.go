package protocol

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/lexsynclab/lexsync/backend/internal/poke"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opPusherNew = "push.service.new"
	opPush      = "push.apply"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingDispatcher = errors.New("poke dispatcher is required")
	noOpLogger           = zap.NewNop()
)

// ConversationChannel names the invalidation channel for one conversation.
func ConversationChannel(conversationID string) string {
	return "conversation/" + conversationID
}

// UserChannel names the invalidation channel for one user.
func UserChannel(userID string) string {
	return "user/" + userID
}

// PushRequest is the body of a push: a batch of mutations from one client group.
type PushRequest struct {
	ClientGroupID string     `json:"clientGroupID"`
	Mutations     []Mutation `json:"mutations"`
}

// PusherConfig describes the dependencies of the push handler.
type PusherConfig struct {
	Database   *gorm.DB
	Dispatcher *poke.Dispatcher
	Logger     *zap.Logger
}

// Pusher orchestrates push: per-mutation transactions in strict order,
// error-mode re-entry on failure, and invalidation after all commits.
type Pusher struct {
	db         *gorm.DB
	dispatcher *poke.Dispatcher
	logger     *zap.Logger
}

// NewPusher constructs the push handler.
func NewPusher(cfg PusherConfig) (*Pusher, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opPusherNew, "missing_database", errMissingDatabase)
	}
	if cfg.Dispatcher == nil {
		return nil, newServiceError(opPusherNew, "missing_dispatcher", errMissingDispatcher)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Pusher{db: cfg.Database, dispatcher: cfg.Dispatcher, logger: logger}, nil
}

// Push processes the batch. Mutations run strictly in array order, each in
// its own transaction, so a later mutation sees the former's effects and a
// bad mutation cannot roll back its siblings. Individual mutation failures
// are absorbed: the failing mutation's bookkeeping still advances via error
// mode, and only a failure of that bookkeeping itself fails the push.
func (p *Pusher) Push(ctx context.Context, userID string, request PushRequest) error {
	start := time.Now()

	conversationIDs := make(map[string]struct{})
	userIDs := make(map[string]struct{})

	for _, mutation := range request.Mutations {
		affected, err := ProcessMutation(p.db.WithContext(ctx), userID, request.ClientGroupID, mutation, false)
		if err != nil {
			p.logger.Warn("mutation failed, advancing client bookkeeping in error mode",
				zap.String("client_id", mutation.ClientID),
				zap.Int64("mutation_id", mutation.ID),
				zap.String("mutation_name", mutation.Name),
				zap.Error(err))
			if _, retryErr := ProcessMutation(p.db.WithContext(ctx), userID, request.ClientGroupID, mutation, true); retryErr != nil {
				return newServiceError(opPush, "bookkeeping_failed", retryErr)
			}
			continue
		}
		for _, conversationID := range affected.ConversationIDs {
			conversationIDs[conversationID] = struct{}{}
		}
		for _, affectedUserID := range affected.UserIDs {
			userIDs[affectedUserID] = struct{}{}
		}
	}

	// Pokes go out only after every transaction has committed, so subscribers
	// that immediately pull see committed data.
	for _, conversationID := range sortedKeys(conversationIDs) {
		p.dispatcher.Publish(ConversationChannel(conversationID))
	}
	for _, affectedUserID := range sortedKeys(userIDs) {
		p.dispatcher.Publish(UserChannel(affectedUserID))
	}

	p.logger.Debug("processed push",
		zap.String("client_group_id", request.ClientGroupID),
		zap.Int("mutations", len(request.Mutations)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
