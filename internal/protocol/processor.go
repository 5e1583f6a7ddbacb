package protocol

import (
	"fmt"

	"github.com/lexsynclab/lexsync/backend/internal/store"
	"gorm.io/gorm"
)

// ProcessMutation applies one mutation in its own transaction, enforcing
// per-client strict ordering and idempotency.
//
// In error mode the business dispatch is skipped but client bookkeeping still
// advances, so a poison mutation cannot wedge its client: the push handler
// re-enters with errorMode=true after a failed first attempt, and the retry
// the client eventually sends is then recognized as a duplicate.
func ProcessMutation(db *gorm.DB, userID, clientGroupID string, mutation Mutation, errorMode bool) (store.Affected, error) {
	var affected store.Affected

	txErr := db.Transaction(func(tx *gorm.DB) error {
		group, err := store.GetClientGroup(tx, clientGroupID, userID)
		if err != nil {
			return err
		}

		client, err := store.GetClient(tx, mutation.ClientID, clientGroupID)
		if err != nil {
			return err
		}

		nextMutationID := client.LastMutationID + 1

		// Already processed: the common retry-after-timeout case. No writes,
		// no error, empty affected set.
		if mutation.ID < nextMutationID {
			return nil
		}

		if mutation.ID > nextMutationID {
			return fmt.Errorf("%w: mutation %d, expected %d", ErrFutureMutation, mutation.ID, nextMutationID)
		}

		if !errorMode {
			op, err := decodeMutation(mutation)
			if err != nil {
				return err
			}
			affected, err = op.apply(tx, userID)
			if err != nil {
				affected = store.Affected{}
				return err
			}
		}

		client.LastMutationID = nextMutationID
		if err := store.PutClientGroup(tx, group); err != nil {
			return err
		}
		return store.PutClient(tx, client)
	})
	if txErr != nil {
		return store.Affected{}, txErr
	}
	return affected, nil
}
