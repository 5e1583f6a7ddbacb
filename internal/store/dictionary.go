package store

import (
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WordEntry is the client-facing shape of one dictionary word. Field names
// are abbreviated on the wire to keep dictionary patches compact.
type WordEntry struct {
	Word        string `json:"w"`
	Alphagram   string `json:"a"`
	Definition  string `json:"d"`
	CSWValid    bool   `json:"cv"`
	NWLValid    bool   `json:"nv"`
	Playability int64  `json:"p"`
}

// AlphagramEntry is the client-facing aggregate of one alphagram and the
// words anagramming to it.
type AlphagramEntry struct {
	Alphagram string   `json:"a"`
	Words     []string `json:"ws"`
	CSWWords  int64    `json:"cs"`
	NWLWords  int64    `json:"ns"`
}

// DictionaryBundle carries everything a client needs for one word group.
type DictionaryBundle struct {
	WordGroup  WordGroup
	Alphagrams []AlphagramEntry
	Words      []WordEntry
}

// SearchWordGroups returns id/version pairs for the newest word group of each
// word length. Superseded groups are invisible to clients; their ids simply
// drop out of the next CVR, which the diff reports as deletes.
func SearchWordGroups(tx *gorm.DB) ([]EntityVersion, error) {
	var groups []WordGroup
	if err := tx.Order("last_modified_s DESC, id DESC").Find(&groups).Error; err != nil {
		return nil, err
	}
	newestByLength := make(map[int64]WordGroup)
	for _, group := range groups {
		if _, seen := newestByLength[group.Length]; !seen {
			newestByLength[group.Length] = group
		}
	}
	versions := make([]EntityVersion, 0, len(newestByLength))
	for _, group := range newestByLength {
		versions = append(versions, EntityVersion{ID: group.ID, RowVersion: group.RowVersion})
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].ID < versions[j].ID })
	return versions, nil
}

// GetDictionary assembles the full word and alphagram payloads for the given
// word groups.
func GetDictionary(tx *gorm.DB, wordGroupIDs []string) ([]DictionaryBundle, error) {
	bundles := make([]DictionaryBundle, 0, len(wordGroupIDs))
	for _, wordGroupID := range wordGroupIDs {
		var group WordGroup
		if err := tx.Where("id = ?", wordGroupID).Take(&group).Error; err != nil {
			return nil, err
		}

		var alphagrams []Alphagram
		if err := tx.Where("word_group_id = ?", wordGroupID).Order("alphagram").Find(&alphagrams).Error; err != nil {
			return nil, err
		}

		alphagramIDs := make([]string, 0, len(alphagrams))
		alphagramByID := make(map[string]Alphagram, len(alphagrams))
		for _, alphagram := range alphagrams {
			alphagramIDs = append(alphagramIDs, alphagram.ID)
			alphagramByID[alphagram.ID] = alphagram
		}

		var words []Word
		if len(alphagramIDs) > 0 {
			if err := tx.Where("alphagram_id IN ?", alphagramIDs).Order("word").Find(&words).Error; err != nil {
				return nil, err
			}
		}

		wordEntries := make([]WordEntry, 0, len(words))
		wordsByAlphagram := make(map[string][]string)
		for _, word := range words {
			alphagram := alphagramByID[word.AlphagramID]
			wordEntries = append(wordEntries, WordEntry{
				Word:        word.Word,
				Alphagram:   alphagram.Alphagram,
				Definition:  word.Definition,
				CSWValid:    word.CSWValid,
				NWLValid:    word.NWLValid,
				Playability: word.Playability,
			})
			wordsByAlphagram[word.AlphagramID] = append(wordsByAlphagram[word.AlphagramID], word.Word)
		}

		alphagramEntries := make([]AlphagramEntry, 0, len(alphagrams))
		for _, alphagram := range alphagrams {
			alphagramEntries = append(alphagramEntries, AlphagramEntry{
				Alphagram: alphagram.Alphagram,
				Words:     wordsByAlphagram[alphagram.ID],
				CSWWords:  alphagram.CSWWords,
				NWLWords:  alphagram.NWLWords,
			})
		}

		bundles = append(bundles, DictionaryBundle{
			WordGroup:  group,
			Alphagrams: alphagramEntries,
			Words:      wordEntries,
		})
	}
	return bundles, nil
}

// PutWordGroup upserts a word group revision, bumping its row version on
// replacement. The bulk dictionary import writes through this path.
func PutWordGroup(tx *gorm.DB, group WordGroup) error {
	var existing WordGroup
	err := tx.Where("id = ?", group.ID).Take(&existing).Error
	switch {
	case err == nil:
		group.RowVersion = existing.RowVersion + 1
	case errors.Is(err, gorm.ErrRecordNotFound):
		group.RowVersion = 1
	default:
		return err
	}
	group.LastModified = time.Now().UTC().Unix()
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"length", "row_version", "last_modified_s"}),
	}).Create(&group).Error
}

// PutAlphagram upserts one alphagram row.
func PutAlphagram(tx *gorm.DB, alphagram Alphagram) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"word_group_id", "alphagram", "csw_words", "nwl_words"}),
	}).Create(&alphagram).Error
}

// PutWord upserts one word row.
func PutWord(tx *gorm.DB, word Word) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"alphagram_id", "word", "definition", "csw_valid", "nwl_valid", "playability"}),
	}).Create(&word).Error
}
