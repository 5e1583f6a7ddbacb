package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetClientGroup loads the client group record, synthesizing a zero-valued one
// scoped to userID when absent. An existing record owned by a different user
// fails with ErrUnauthorized.
func GetClientGroup(tx *gorm.DB, clientGroupID, userID string) (ClientGroup, error) {
	var record ClientGroup
	err := tx.Where("id = ?", clientGroupID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ClientGroup{ID: clientGroupID, UserID: userID, CVRVersion: 0}, nil
	}
	if err != nil {
		return ClientGroup{}, err
	}
	if record.UserID != userID {
		return ClientGroup{}, fmt.Errorf("%w: user does not own client group", ErrUnauthorized)
	}
	return record, nil
}

// PutClientGroup upserts the client group record.
func PutClientGroup(tx *gorm.DB, group ClientGroup) error {
	group.LastModified = time.Now().UTC().Unix()
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "cvr_version", "last_modified_s"}),
	}).Create(&group).Error
}

// GetClient loads the client record, synthesizing a zero-valued one bound to
// clientGroupID when absent. An existing record bound to a different client
// group fails with ErrUnauthorized.
func GetClient(tx *gorm.DB, clientID, clientGroupID string) (Client, error) {
	var record Client
	err := tx.Where("id = ?", clientID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Client{ID: clientID, ClientGroupID: clientGroupID, LastMutationID: 0}, nil
	}
	if err != nil {
		return Client{}, err
	}
	if record.ClientGroupID != clientGroupID {
		return Client{}, fmt.Errorf("%w: client does not belong to client group", ErrUnauthorized)
	}
	return record, nil
}

// PutClient upserts the client record.
func PutClient(tx *gorm.DB, client Client) error {
	client.LastModified = time.Now().UTC().Unix()
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_mutation_id", "last_modified_s"}),
	}).Create(&client).Error
}

// SearchClients returns the id and version of every client in the group. A
// client's last mutation id doubles as its row version: it changes exactly
// when the client's durable state changes.
func SearchClients(tx *gorm.DB, clientGroupID string) ([]EntityVersion, error) {
	var clients []Client
	if err := tx.Where("client_group_id = ?", clientGroupID).Find(&clients).Error; err != nil {
		return nil, err
	}
	versions := make([]EntityVersion, 0, len(clients))
	for _, client := range clients {
		versions = append(versions, EntityVersion{ID: client.ID, RowVersion: client.LastMutationID})
	}
	return versions, nil
}
