package protocol

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/lexsynclab/lexsync/backend/internal/cvr"
	"github.com/lexsynclab/lexsync/backend/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opPullerNew = "pull.service.new"
	opPull      = "pull.apply"
)

var errMissingCache = errors.New("cvr cache is required")

// Cookie is the opaque token a client echoes verbatim between pulls.
type Cookie struct {
	Order int64  `json:"order"`
	CVRID string `json:"cvrID"`
}

// PullRequest is the body of a pull.
type PullRequest struct {
	ClientGroupID string  `json:"clientGroupID"`
	Cookie        *Cookie `json:"cookie"`
}

// Patch operation kinds.
const (
	PatchOpClear = "clear"
	PatchOpPut   = "put"
	PatchOpDel   = "del"
)

// PatchOperation is one instruction for the client cache. Keys follow
// "{namespace}/{id}".
type PatchOperation struct {
	Op    string          `json:"op"`
	Key   string          `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// PullResponse carries the next cookie, the clients whose lastMutationID
// advanced, and the patch bringing the client group's cache up to date.
type PullResponse struct {
	Cookie                *Cookie          `json:"cookie"`
	LastMutationIDChanges map[string]int64 `json:"lastMutationIDChanges"`
	Patch                 []PatchOperation `json:"patch"`
}

type conversationBody struct {
	ID          string `json:"id"`
	OwnerUserID string `json:"ownerUserID"`
}

type messageBody struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationID"`
	Sender         string `json:"sender"`
	Content        string `json:"content"`
	Ord            int64  `json:"ord"`
}

// PullerConfig describes the dependencies of the pull handler.
type PullerConfig struct {
	Database *gorm.DB
	Cache    *cvr.Cache
	Logger   *zap.Logger
}

// Puller orchestrates pull: load the base CVR, build and diff the next CVR
// inside one transaction, fetch bodies for changed ids only, and return a
// patch plus a fresh cookie.
type Puller struct {
	db     *gorm.DB
	cache  *cvr.Cache
	logger *zap.Logger
}

// NewPuller constructs the pull handler.
func NewPuller(cfg PullerConfig) (*Puller, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opPullerNew, "missing_database", errMissingDatabase)
	}
	if cfg.Cache == nil {
		return nil, newServiceError(opPullerNew, "missing_cache", errMissingCache)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Puller{db: cfg.Database, cache: cfg.Cache, logger: logger}, nil
}

type pullTxResult struct {
	nextCVR        cvr.CVR
	diff           cvr.Diff
	conversations  []store.Conversation
	messages       []store.Message
	dictionary     []store.DictionaryBundle
	clients        cvr.Entries
	nextCVRVersion int64
}

// Pull computes the diff bringing the client group's cache up to date.
func (p *Puller) Pull(ctx context.Context, userID string, request PullRequest) (PullResponse, error) {
	var baseCVR cvr.CVR
	hadBase := false
	if request.Cookie != nil {
		baseCVR, hadBase = p.cache.Get(request.Cookie.CVRID)
	}
	if !hadBase {
		// First pull or evicted CVR: diff against nothing, forcing a full
		// resync with a leading clear.
		baseCVR = cvr.CVR{}
	}

	var result *pullTxResult
	txErr := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := store.GetClientGroup(tx, request.ClientGroupID, userID)
		if err != nil {
			return err
		}

		wordGroupMeta, err := store.SearchWordGroups(tx)
		if err != nil {
			return err
		}
		conversationMeta, err := store.SearchConversations(tx, userID)
		if err != nil {
			return err
		}
		messageMeta, err := store.SearchMessages(tx, userID)
		if err != nil {
			return err
		}
		clientMeta, err := store.SearchClients(tx, request.ClientGroupID)
		if err != nil {
			return err
		}

		nextCVR := cvr.CVR{
			cvr.NamespaceWordGroup:    cvr.EntriesFromSearch(wordGroupMeta),
			cvr.NamespaceConversation: cvr.EntriesFromSearch(conversationMeta),
			cvr.NamespaceMessage:      cvr.EntriesFromSearch(messageMeta),
			cvr.NamespaceClient:       cvr.EntriesFromSearch(clientMeta),
		}

		diff := cvr.DiffCVR(baseCVR, nextCVR)

		// True no-op: the caller gets the previous cookie back and the client
		// group row is left untouched, so idle polling cannot grow state.
		if hadBase && diff.IsEmpty() {
			return nil
		}

		conversations, err := store.GetConversations(tx, diff[cvr.NamespaceConversation].Puts)
		if err != nil {
			return err
		}
		messages, err := store.GetMessages(tx, diff[cvr.NamespaceMessage].Puts)
		if err != nil {
			return err
		}
		dictionary, err := store.GetDictionary(tx, diff[cvr.NamespaceWordGroup].Puts)
		if err != nil {
			return err
		}

		// Changed clients come straight from the next CVR; their versions are
		// their lastMutationIDs.
		clients := make(cvr.Entries, len(diff[cvr.NamespaceClient].Puts))
		for _, clientID := range diff[cvr.NamespaceClient].Puts {
			clients[clientID] = nextCVR[cvr.NamespaceClient][clientID]
		}

		// Taking the max guards against a stale cookie order from a previous,
		// now-evicted CVR chain moving the version backwards.
		baseOrder := int64(0)
		if request.Cookie != nil {
			baseOrder = request.Cookie.Order
		}
		nextCVRVersion := max(baseOrder, group.CVRVersion) + 1
		group.CVRVersion = nextCVRVersion
		if err := store.PutClientGroup(tx, group); err != nil {
			return err
		}

		result = &pullTxResult{
			nextCVR:        nextCVR,
			diff:           diff,
			conversations:  conversations,
			messages:       messages,
			dictionary:     dictionary,
			clients:        clients,
			nextCVRVersion: nextCVRVersion,
		}
		return nil
	})
	if txErr != nil {
		return PullResponse{}, newServiceError(opPull, "transaction_failed", txErr)
	}

	if result == nil {
		return PullResponse{
			Cookie:                request.Cookie,
			LastMutationIDChanges: map[string]int64{},
			Patch:                 []PatchOperation{},
		}, nil
	}

	cvrID := uuid.NewString()
	p.cache.Put(cvrID, result.nextCVR)

	patch, err := buildPatch(hadBase, result)
	if err != nil {
		return PullResponse{}, newServiceError(opPull, "patch_encoding_failed", err)
	}

	lastMutationIDChanges := make(map[string]int64, len(result.clients))
	for clientID, lastMutationID := range result.clients {
		lastMutationIDChanges[clientID] = lastMutationID
	}

	p.logger.Debug("processed pull",
		zap.String("client_group_id", request.ClientGroupID),
		zap.Bool("full_resync", !hadBase),
		zap.Int("patch_ops", len(patch)))

	return PullResponse{
		Cookie:                &Cookie{Order: result.nextCVRVersion, CVRID: cvrID},
		LastMutationIDChanges: lastMutationIDChanges,
		Patch:                 patch,
	}, nil
}

func buildPatch(hadBase bool, result *pullTxResult) ([]PatchOperation, error) {
	patch := make([]PatchOperation, 0, 1+len(result.conversations)+len(result.messages)+2*len(result.dictionary))

	if !hadBase {
		patch = append(patch, PatchOperation{Op: PatchOpClear})
	}

	for _, conversationID := range result.diff[cvr.NamespaceConversation].Dels {
		patch = append(patch, PatchOperation{Op: PatchOpDel, Key: cvr.NamespaceConversation + "/" + conversationID})
	}
	for _, conversation := range result.conversations {
		value, err := json.Marshal(conversationBody{ID: conversation.ID, OwnerUserID: conversation.OwnerUserID})
		if err != nil {
			return nil, err
		}
		patch = append(patch, PatchOperation{Op: PatchOpPut, Key: cvr.NamespaceConversation + "/" + conversation.ID, Value: value})
	}

	for _, messageID := range result.diff[cvr.NamespaceMessage].Dels {
		patch = append(patch, PatchOperation{Op: PatchOpDel, Key: cvr.NamespaceMessage + "/" + messageID})
	}
	for _, message := range result.messages {
		value, err := json.Marshal(messageBody{
			ID:             message.ID,
			ConversationID: message.ConversationID,
			Sender:         message.Sender,
			Content:        message.Content,
			Ord:            message.Ord,
		})
		if err != nil {
			return nil, err
		}
		patch = append(patch, PatchOperation{Op: PatchOpPut, Key: cvr.NamespaceMessage + "/" + message.ID, Value: value})
	}

	// Superseded word groups drop out of the visible set; clear both key
	// families so stale dictionary data does not linger client-side.
	for _, wordGroupID := range result.diff[cvr.NamespaceWordGroup].Dels {
		patch = append(patch,
			PatchOperation{Op: PatchOpDel, Key: "words/" + wordGroupID},
			PatchOperation{Op: PatchOpDel, Key: "alphagrams/" + wordGroupID})
	}
	for _, bundle := range result.dictionary {
		words, err := json.Marshal(bundle.Words)
		if err != nil {
			return nil, err
		}
		alphagrams, err := json.Marshal(bundle.Alphagrams)
		if err != nil {
			return nil, err
		}
		patch = append(patch,
			PatchOperation{Op: PatchOpPut, Key: "words/" + bundle.WordGroup.ID, Value: words},
			PatchOperation{Op: PatchOpPut, Key: "alphagrams/" + bundle.WordGroup.ID, Value: alphagrams})
	}

	return patch, nil
}
