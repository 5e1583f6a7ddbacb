package store

// ClientGroup tracks the pull bookkeeping for one set of clients sharing a
// durable cache (browser profile). CVRVersion increases once per pull that
// returned data.
type ClientGroup struct {
	ID           string `gorm:"column:id;primaryKey;size:36;not null"`
	UserID       string `gorm:"column:user_id;size:190;not null;index:idx_client_groups_user"`
	CVRVersion   int64  `gorm:"column:cvr_version;not null;default:0"`
	LastModified int64  `gorm:"column:last_modified_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ClientGroup) TableName() string {
	return "client_groups"
}

// Client tracks the last durably applied mutation for one client instance
// (browser tab). LastMutationID increases by exactly one per applied or
// skipped-as-duplicate mutation.
type Client struct {
	ID             string `gorm:"column:id;primaryKey;size:36;not null"`
	ClientGroupID  string `gorm:"column:client_group_id;size:36;not null;index:idx_clients_group"`
	LastMutationID int64  `gorm:"column:last_mutation_id;not null;default:0"`
	LastModified   int64  `gorm:"column:last_modified_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Client) TableName() string {
	return "clients"
}

// Conversation is a user-owned chat thread.
//
// RowVersion is bumped by the store on every write; the CVR engine uses it
// for change detection. SQLite exposes no per-row transaction counter, so
// the version column is application-managed.
type Conversation struct {
	ID           string `gorm:"column:id;primaryKey;size:190;not null"`
	OwnerUserID  string `gorm:"column:owner_user_id;size:190;not null;index:idx_conversations_owner"`
	RowVersion   int64  `gorm:"column:row_version;not null;default:1"`
	LastModified int64  `gorm:"column:last_modified_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Conversation) TableName() string {
	return "conversations"
}

// Message is a single chat message within a conversation.
type Message struct {
	ID             string `gorm:"column:id;primaryKey;size:190;not null"`
	ConversationID string `gorm:"column:conversation_id;size:190;not null;index:idx_messages_conversation"`
	Sender         string `gorm:"column:sender;size:190;not null"`
	Content        string `gorm:"column:content;type:text;not null"`
	Ord            int64  `gorm:"column:ord;not null"`
	RowVersion     int64  `gorm:"column:row_version;not null;default:1"`
	LastModified   int64  `gorm:"column:last_modified_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "messages"
}

// WordGroup is one published revision of the dictionary for a given word
// length. Only the most recent group per length is visible to clients.
type WordGroup struct {
	ID           string `gorm:"column:id;primaryKey;size:190;not null"`
	Length       int64  `gorm:"column:length;not null;index:idx_word_groups_length"`
	RowVersion   int64  `gorm:"column:row_version;not null;default:1"`
	LastModified int64  `gorm:"column:last_modified_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (WordGroup) TableName() string {
	return "word_groups"
}

// Alphagram groups dictionary words sharing the same sorted letter set.
type Alphagram struct {
	ID          string `gorm:"column:id;primaryKey;size:190;not null"`
	WordGroupID string `gorm:"column:word_group_id;size:190;not null;index:idx_alphagrams_group"`
	Alphagram   string `gorm:"column:alphagram;size:64;not null"`
	CSWWords    int64  `gorm:"column:csw_words;not null"`
	NWLWords    int64  `gorm:"column:nwl_words;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Alphagram) TableName() string {
	return "alphagrams"
}

// Word is a single dictionary entry.
type Word struct {
	ID          string `gorm:"column:id;primaryKey;size:190;not null"`
	AlphagramID string `gorm:"column:alphagram_id;size:190;not null;index:idx_words_alphagram"`
	Word        string `gorm:"column:word;size:64;not null"`
	Definition  string `gorm:"column:definition;type:text;not null;default:''"`
	CSWValid    bool   `gorm:"column:csw_valid;not null;default:false"`
	NWLValid    bool   `gorm:"column:nwl_valid;not null;default:false"`
	Playability int64  `gorm:"column:playability;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Word) TableName() string {
	return "words"
}

// Models lists every persisted model for schema migration.
func Models() []interface{} {
	return []interface{}{
		&ClientGroup{},
		&Client{},
		&Conversation{},
		&Message{},
		&WordGroup{},
		&Alphagram{},
		&Word{},
	}
}
