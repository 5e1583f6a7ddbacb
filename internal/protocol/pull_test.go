package protocol

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lexsynclab/lexsync/backend/internal/cvr"
	"github.com/lexsynclab/lexsync/backend/internal/poke"
	"github.com/lexsynclab/lexsync/backend/internal/store"
	"gorm.io/gorm"
)

func newTestSyncServices(t *testing.T) (*gorm.DB, *Pusher, *Puller) {
	t.Helper()
	db := openTestDatabase(t)

	pusher, err := NewPusher(PusherConfig{Database: db, Dispatcher: poke.NewDispatcher()})
	if err != nil {
		t.Fatalf("failed to construct pusher: %v", err)
	}

	cache := cvr.NewCache(cvr.CacheConfig{TTL: time.Minute, Capacity: 64})
	t.Cleanup(cache.Stop)
	puller, err := NewPuller(PullerConfig{Database: db, Cache: cache})
	if err != nil {
		t.Fatalf("failed to construct puller: %v", err)
	}

	return db, pusher, puller
}

func pushScenario(t *testing.T, pusher *Pusher) {
	t.Helper()
	request := PushRequest{
		ClientGroupID: "cg1",
		Mutations: []Mutation{
			createConversationMutation(t, 1, "cl1", "c1", "u1"),
			createMessageMutation(t, 2, "cl1", "m1", "c1", "alice", "hi", 1),
		},
	}
	if err := pusher.Push(context.Background(), "u1", request); err != nil {
		t.Fatalf("push failed: %v", err)
	}
}

func patchKeys(patch []PatchOperation) []string {
	keys := make([]string, 0, len(patch))
	for _, op := range patch {
		if op.Op == PatchOpClear {
			keys = append(keys, "clear")
			continue
		}
		keys = append(keys, op.Op+" "+op.Key)
	}
	return keys
}

func TestFirstPullReturnsClearAndFullState(t *testing.T) {
	_, pusher, puller := newTestSyncServices(t)
	pushScenario(t, pusher)

	response, err := puller.Pull(context.Background(), "u1", PullRequest{ClientGroupID: "cg1", Cookie: nil})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	keys := patchKeys(response.Patch)
	expected := []string{"clear", "put conversation/c1", "put message/m1"}
	if len(keys) != len(expected) {
		t.Fatalf("unexpected patch: %#v", keys)
	}
	for i := range expected {
		if keys[i] != expected[i] {
			t.Fatalf("patch[%d] = %q, want %q", i, keys[i], expected[i])
		}
	}

	if response.LastMutationIDChanges["cl1"] != 2 {
		t.Fatalf("unexpected lastMutationIDChanges: %#v", response.LastMutationIDChanges)
	}
	if response.Cookie == nil || response.Cookie.Order != 1 || response.Cookie.CVRID == "" {
		t.Fatalf("unexpected cookie: %#v", response.Cookie)
	}

	var message messageBody
	if err := json.Unmarshal(response.Patch[2].Value, &message); err != nil {
		t.Fatalf("failed to decode message body: %v", err)
	}
	if message.Sender != "alice" || message.Content != "hi" || message.Ord != 1 {
		t.Fatalf("unexpected message body: %#v", message)
	}
}

func TestPullWithNoChangesIsTrueNoOp(t *testing.T) {
	db, pusher, puller := newTestSyncServices(t)
	pushScenario(t, pusher)

	first, err := puller.Pull(context.Background(), "u1", PullRequest{ClientGroupID: "cg1"})
	if err != nil {
		t.Fatalf("first pull failed: %v", err)
	}

	second, err := puller.Pull(context.Background(), "u1", PullRequest{ClientGroupID: "cg1", Cookie: first.Cookie})
	if err != nil {
		t.Fatalf("second pull failed: %v", err)
	}
	if len(second.Patch) != 0 || len(second.LastMutationIDChanges) != 0 {
		t.Fatalf("expected no-op pull, got patch %#v changes %#v", second.Patch, second.LastMutationIDChanges)
	}
	if second.Cookie == nil || *second.Cookie != *first.Cookie {
		t.Fatalf("no-op pull must return the previous cookie verbatim")
	}

	var group store.ClientGroup
	if err := db.Where("id = ?", "cg1").Take(&group).Error; err != nil {
		t.Fatalf("failed to load client group: %v", err)
	}
	if group.CVRVersion != first.Cookie.Order {
		t.Fatalf("no-op pull must not bump cvrVersion, got %d", group.CVRVersion)
	}
}

func TestPullPatchIsMinimalAfterSingleWrite(t *testing.T) {
	_, pusher, puller := newTestSyncServices(t)
	pushScenario(t, pusher)

	first, err := puller.Pull(context.Background(), "u1", PullRequest{ClientGroupID: "cg1"})
	if err != nil {
		t.Fatalf("first pull failed: %v", err)
	}

	more := PushRequest{
		ClientGroupID: "cg1",
		Mutations:     []Mutation{createMessageMutation(t, 3, "cl1", "m2", "c1", "alice", "again", 2)},
	}
	if err := pusher.Push(context.Background(), "u1", more); err != nil {
		t.Fatalf("second push failed: %v", err)
	}

	second, err := puller.Pull(context.Background(), "u1", PullRequest{ClientGroupID: "cg1", Cookie: first.Cookie})
	if err != nil {
		t.Fatalf("second pull failed: %v", err)
	}

	keys := patchKeys(second.Patch)
	if len(keys) != 1 || keys[0] != "put message/m2" {
		t.Fatalf("expected exactly one message put, got %#v", keys)
	}
	if second.LastMutationIDChanges["cl1"] != 3 {
		t.Fatalf("unexpected lastMutationIDChanges: %#v", second.LastMutationIDChanges)
	}
	if second.Cookie.Order != first.Cookie.Order+1 {
		t.Fatalf("expected cookie order to advance by one, got %d", second.Cookie.Order)
	}
}

func TestPullDeleteEmitsDelOp(t *testing.T) {
	_, pusher, puller := newTestSyncServices(t)
	pushScenario(t, pusher)

	first, err := puller.Pull(context.Background(), "u1", PullRequest{ClientGroupID: "cg1"})
	if err != nil {
		t.Fatalf("first pull failed: %v", err)
	}

	removal := PushRequest{
		ClientGroupID: "cg1",
		Mutations:     []Mutation{deleteMessageMutation(t, 3, "cl1", "m1")},
	}
	if err := pusher.Push(context.Background(), "u1", removal); err != nil {
		t.Fatalf("delete push failed: %v", err)
	}

	second, err := puller.Pull(context.Background(), "u1", PullRequest{ClientGroupID: "cg1", Cookie: first.Cookie})
	if err != nil {
		t.Fatalf("second pull failed: %v", err)
	}

	keys := patchKeys(second.Patch)
	if len(keys) != 1 || keys[0] != "del message/m1" {
		t.Fatalf("expected exactly one message del, got %#v", keys)
	}
}

func TestPullCacheMissForcesFullResync(t *testing.T) {
	_, pusher, puller := newTestSyncServices(t)
	pushScenario(t, pusher)

	first, err := puller.Pull(context.Background(), "u1", PullRequest{ClientGroupID: "cg1"})
	if err != nil {
		t.Fatalf("first pull failed: %v", err)
	}

	stale := &Cookie{Order: first.Cookie.Order, CVRID: "evicted-cvr-id"}
	resync, err := puller.Pull(context.Background(), "u1", PullRequest{ClientGroupID: "cg1", Cookie: stale})
	if err != nil {
		t.Fatalf("resync pull failed: %v", err)
	}

	keys := patchKeys(resync.Patch)
	if len(keys) == 0 || keys[0] != "clear" {
		t.Fatalf("cache miss must force a leading clear, got %#v", keys)
	}
	expected := []string{"clear", "put conversation/c1", "put message/m1"}
	for i := range expected {
		if keys[i] != expected[i] {
			t.Fatalf("patch[%d] = %q, want %q", i, keys[i], expected[i])
		}
	}
	if resync.Cookie.Order <= first.Cookie.Order {
		t.Fatalf("resync cookie order must advance, got %d", resync.Cookie.Order)
	}
}

func TestPullCrossTenantIsolation(t *testing.T) {
	_, pusher, puller := newTestSyncServices(t)
	pushScenario(t, pusher)

	response, err := puller.Pull(context.Background(), "u2", PullRequest{ClientGroupID: "cg2"})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	for _, op := range response.Patch {
		if op.Key == "conversation/c1" || op.Key == "message/m1" {
			t.Fatalf("tenant u2 must not see u1 data: %#v", patchKeys(response.Patch))
		}
	}
	if len(response.LastMutationIDChanges) != 0 {
		t.Fatalf("unexpected mutation id changes: %#v", response.LastMutationIDChanges)
	}
}

func TestPullConvergence(t *testing.T) {
	_, pusher, puller := newTestSyncServices(t)
	pushScenario(t, pusher)

	first, err := puller.Pull(context.Background(), "u1", PullRequest{ClientGroupID: "cg1"})
	if err != nil {
		t.Fatalf("first pull failed: %v", err)
	}
	second, err := puller.Pull(context.Background(), "u1", PullRequest{ClientGroupID: "cg1", Cookie: first.Cookie})
	if err != nil {
		t.Fatalf("second pull failed: %v", err)
	}
	third, err := puller.Pull(context.Background(), "u1", PullRequest{ClientGroupID: "cg1", Cookie: second.Cookie})
	if err != nil {
		t.Fatalf("third pull failed: %v", err)
	}
	if len(second.Patch) != 0 || len(third.Patch) != 0 {
		t.Fatalf("pulls with no intervening writes must be empty")
	}
}

func TestPullIncludesDictionaryPayloads(t *testing.T) {
	db, pusher, puller := newTestSyncServices(t)
	pushScenario(t, pusher)

	seedErr := db.Transaction(func(tx *gorm.DB) error {
		if err := store.PutWordGroup(tx, store.WordGroup{ID: "wg-3", Length: 3}); err != nil {
			return err
		}
		if err := store.PutAlphagram(tx, store.Alphagram{ID: "ag-act", WordGroupID: "wg-3", Alphagram: "ACT", CSWWords: 2, NWLWords: 2}); err != nil {
			return err
		}
		if err := store.PutWord(tx, store.Word{ID: "w-cat", AlphagramID: "ag-act", Word: "CAT", Definition: "a small feline", CSWValid: true, NWLValid: true, Playability: 100}); err != nil {
			return err
		}
		return store.PutWord(tx, store.Word{ID: "w-act", AlphagramID: "ag-act", Word: "ACT", Definition: "to do something", CSWValid: true, NWLValid: true, Playability: 90})
	})
	if seedErr != nil {
		t.Fatalf("failed to seed dictionary: %v", seedErr)
	}

	response, err := puller.Pull(context.Background(), "u1", PullRequest{ClientGroupID: "cg1"})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	var words []store.WordEntry
	var alphagrams []store.AlphagramEntry
	foundWords, foundAlphagrams := false, false
	for _, op := range response.Patch {
		switch op.Key {
		case "words/wg-3":
			foundWords = true
			if err := json.Unmarshal(op.Value, &words); err != nil {
				t.Fatalf("failed to decode words payload: %v", err)
			}
		case "alphagrams/wg-3":
			foundAlphagrams = true
			if err := json.Unmarshal(op.Value, &alphagrams); err != nil {
				t.Fatalf("failed to decode alphagrams payload: %v", err)
			}
		}
	}
	if !foundWords || !foundAlphagrams {
		t.Fatalf("expected dictionary puts in patch: %#v", patchKeys(response.Patch))
	}
	if len(words) != 2 || words[0].Word != "ACT" || words[1].Word != "CAT" {
		t.Fatalf("unexpected words payload: %#v", words)
	}
	if len(alphagrams) != 1 || alphagrams[0].Alphagram != "ACT" || len(alphagrams[0].Words) != 2 {
		t.Fatalf("unexpected alphagrams payload: %#v", alphagrams)
	}
}

func TestPullSupersededWordGroupEmitsDictionaryDels(t *testing.T) {
	db, pusher, puller := newTestSyncServices(t)
	pushScenario(t, pusher)

	if err := db.Transaction(func(tx *gorm.DB) error {
		return store.PutWordGroup(tx, store.WordGroup{ID: "wg-old", Length: 3})
	}); err != nil {
		t.Fatalf("failed to seed word group: %v", err)
	}

	first, err := puller.Pull(context.Background(), "u1", PullRequest{ClientGroupID: "cg1"})
	if err != nil {
		t.Fatalf("first pull failed: %v", err)
	}

	// A newer revision for the same length supersedes the old group.
	time.Sleep(1100 * time.Millisecond)
	if err := db.Transaction(func(tx *gorm.DB) error {
		return store.PutWordGroup(tx, store.WordGroup{ID: "wg-new", Length: 3})
	}); err != nil {
		t.Fatalf("failed to seed replacement word group: %v", err)
	}

	second, err := puller.Pull(context.Background(), "u1", PullRequest{ClientGroupID: "cg1", Cookie: first.Cookie})
	if err != nil {
		t.Fatalf("second pull failed: %v", err)
	}

	keys := patchKeys(second.Patch)
	expected := map[string]bool{
		"del words/wg-old":      false,
		"del alphagrams/wg-old": false,
		"put words/wg-new":      false,
		"put alphagrams/wg-new": false,
	}
	for _, key := range keys {
		if _, ok := expected[key]; ok {
			expected[key] = true
		}
	}
	for key, seen := range expected {
		if !seen {
			t.Fatalf("missing %q in patch %#v", key, keys)
		}
	}
}
