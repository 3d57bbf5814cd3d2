package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tozny/localqueue/queue"
)

var (
	_ queue.SequenceStore = (*Store)(nil)
	_ queue.Sizer         = (*Store)(nil)
	_ queue.Dropper       = (*Store)(nil)
)

func openTestStore(t *testing.T, root, name string) *Store {
	t.Helper()
	store, err := Open(context.Background(), root, name, Options{
		PollInterval: time.Millisecond,
		StaleAfter:   time.Minute,
		NoSync:       true,
	})
	require.NoError(t, err)
	return store
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := strings.TrimSuffix(string(raw), "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

func TestStoreOrderAndPersistence(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := openTestStore(t, root, "jobs")

	empty, err := store.PopFront(ctx)
	require.NoError(t, err)
	require.Nil(t, empty)

	require.NoError(t, store.PushBack(ctx, queue.Message{ID: "b", ReceiptHandle: "b", Body: []byte("two")}))
	require.NoError(t, store.PushBack(ctx, queue.Message{ID: "c", ReceiptHandle: "c", Body: []byte("three")}))
	require.NoError(t, store.PushFront(ctx, queue.Message{ID: "a", ReceiptHandle: "a", Body: []byte("one")}))

	reopened := openTestStore(t, root, "jobs")
	size, err := reopened.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, size)

	for _, body := range []string{"one", "two", "three"} {
		m, err := reopened.PopFront(ctx)
		require.NoError(t, err)
		require.NotNil(t, m)
		require.Equal(t, body, string(m.Body))
	}
	m, err := reopened.PopFront(ctx)
	require.NoError(t, err)
	require.Nil(t, m)
}

func TestStoreFileLayout(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := openTestStore(t, root, "a/b:c")
	require.Equal(t, filepath.Join(root, DirName("a/b:c")), store.Dir())

	body := []byte("x:y:z\nnext line")
	require.NoError(t, store.PushBack(ctx, queue.Message{ID: "id", ReceiptHandle: "id", Body: body}))
	require.NoError(t, store.PushBack(ctx, queue.Message{ID: "id2", ReceiptHandle: "id2", Body: []byte("plain")}))

	lines := readLines(t, filepath.Join(store.Dir(), messagesFile))
	require.Len(t, lines, 2)
	decoded, err := queue.DecodeRecord(lines[0])
	require.NoError(t, err)
	require.Equal(t, body, decoded.Body)

	name, err := os.ReadFile(filepath.Join(store.Dir(), nameFile))
	require.NoError(t, err)
	require.Equal(t, "a/b:c", string(name))

	_, err = store.PopFront(ctx)
	require.NoError(t, err)
	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	for _, entry := range entries {
		require.False(t, strings.HasSuffix(entry.Name(), ".tmp"), "left temp file %s", entry.Name())
		require.NotEqual(t, lockDir, entry.Name())
	}
}

func TestStoreSharedAcrossInstances(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	first := openTestStore(t, root, "shared")
	second := openTestStore(t, root, "shared")
	const perWriter = 50

	var wg sync.WaitGroup
	for w, store := range []*Store{first, second} {
		wg.Add(1)
		go func(w int, store *Store) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := fmt.Sprintf("%d-%d", w, i)
				require.NoError(t, store.PushBack(ctx, queue.Message{ID: id, ReceiptHandle: id}))
			}
		}(w, store)
	}
	wg.Wait()

	seen := make(chan string, 2*perWriter)
	for _, store := range []*Store{first, second} {
		wg.Add(1)
		go func(store *Store) {
			defer wg.Done()
			for {
				m, err := store.PopFront(ctx)
				require.NoError(t, err)
				if m == nil {
					return
				}
				seen <- m.ID
			}
		}(store)
	}
	wg.Wait()
	close(seen)

	ids := map[string]bool{}
	for id := range seen {
		require.False(t, ids[id], "message %s popped twice", id)
		ids[id] = true
	}
	require.Len(t, ids, 2*perWriter)
}

func TestStoreQuarantinesMalformedRecords(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), "dirty")
	good := queue.EncodeRecord(queue.Message{ID: "ok", ReceiptHandle: "ok", Body: []byte("fine")})
	content := "garbage\nid:handle:%%%\n" + good + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), messagesFile), []byte(content), 0o600))

	m, err := store.PopFront(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, "ok", m.ID)
	require.Equal(t, []string{"garbage", "id:handle:%%%"}, readLines(t, filepath.Join(store.Dir(), rejectedFile)))

	m, err = store.PopFront(ctx)
	require.NoError(t, err)
	require.Nil(t, m)
}

func TestVisibilityQueueLengthIgnoresMalformedRecords(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), "dirty")
	good := queue.EncodeRecord(queue.Message{ID: "ok", ReceiptHandle: "ok", Body: []byte("fine")})
	content := "garbage\nid:handle:%%%\n" + good + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), messagesFile), []byte(content), 0o600))

	q, err := queue.NewVisibilityQueue(ctx, queue.VisibilityQueueConfig{Name: "dirty", Store: store})
	require.NoError(t, err)
	require.Equal(t, 1, q.Length())

	m, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.True(t, q.Delete(ctx, m.ReceiptHandle))
	m, err = q.Receive(ctx)
	require.NoError(t, err)
	require.Nil(t, m)

	size, err := store.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, size)
	require.Equal(t, size, q.Length())
}

func TestStorePushBackAfterTornAppend(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), "torn")
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), messagesFile), []byte("half-writ"), 0o600))

	require.NoError(t, store.PushBack(ctx, queue.Message{ID: "whole", ReceiptHandle: "whole"}))
	m, err := store.PopFront(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, "whole", m.ID)
}

func TestStoreRecoversStaleLock(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), "wedged")
	lockPath := filepath.Join(store.Dir(), lockDir)
	require.NoError(t, os.Mkdir(lockPath, 0o700))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	require.NoError(t, store.PushBack(ctx, queue.Message{ID: "after", ReceiptHandle: "after"}))
	size, err := store.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, size)
}

func TestStoreLockHonoursContext(t *testing.T) {
	root := t.TempDir()
	store, err := Open(context.Background(), root, "held", Options{PollInterval: time.Millisecond, NoSync: true})
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(store.Dir(), lockDir), 0o700))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = store.PushBack(ctx, queue.Message{ID: "x", ReceiptHandle: "x"})
	var storageErr *queue.StorageError
	require.True(t, errors.As(err, &storageErr))
	require.Equal(t, "lock", storageErr.Op)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStoreDropAndDiscover(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	names, err := Discover(filepath.Join(root, "missing"))
	require.NoError(t, err)
	require.Empty(t, names)

	beta := openTestStore(t, root, "beta")
	openTestStore(t, root, "alpha")
	require.NoError(t, beta.PushBack(ctx, queue.Message{ID: "x", ReceiptHandle: "x"}))

	names, err = Discover(root)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta"}, names)

	require.NoError(t, beta.Drop(ctx))
	_, err = os.Stat(beta.Dir())
	require.True(t, os.IsNotExist(err))
	names, err = Discover(root)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha"}, names)
}

func TestFileBackedVisibilityQueueRedelivers(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	registry := queue.NewRegistry(queue.RegistryConfig{
		Stores: Factory(root, Options{PollInterval: time.Millisecond, NoSync: true}),
	})
	defer registry.Close()

	_, err := registry.CreateQueue(ctx, "work", 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, registry.Send(ctx, "work", []byte("A")))
	require.NoError(t, registry.Send(ctx, "work", []byte("B")))

	first, err := registry.Receive(ctx, "work")
	require.NoError(t, err)
	require.Equal(t, "A", string(first.Body))

	require.Eventually(t, func() bool {
		length, _ := registry.QueueLength(ctx, "work")
		return length == 2
	}, time.Second, 5*time.Millisecond)

	again, err := registry.Receive(ctx, "work")
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.NotEqual(t, first.ReceiptHandle, again.ReceiptHandle)

	deleted, err := registry.Delete(ctx, "work", again.ReceiptHandle)
	require.NoError(t, err)
	require.True(t, deleted)

	store, err := Open(ctx, root, "work", Options{NoSync: true})
	require.NoError(t, err)
	size, err := store.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, size)
}

func TestOpenRejectsDirectoryOfAnotherQueue(t *testing.T) {
	root := t.TempDir()
	store := openTestStore(t, root, "alpha")
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), nameFile), []byte("other"), 0o600))

	_, err := Open(context.Background(), root, "alpha", Options{NoSync: true})
	var storageErr *queue.StorageError
	require.ErrorAs(t, err, &storageErr)
	require.Equal(t, "open", storageErr.Op)
}

func TestStoreFailedRewriteLeavesMessagesIntact(t *testing.T) {
	for _, tc := range []struct {
		name       string
		createTemp func(t *testing.T) func(dir, pattern string) (*os.File, error)
	}{
		{
			name: "temp file not created",
			createTemp: func(t *testing.T) func(dir, pattern string) (*os.File, error) {
				return func(string, string) (*os.File, error) { return nil, fs.ErrPermission }
			},
		},
		{
			name: "temp file not writable",
			createTemp: func(t *testing.T) func(dir, pattern string) (*os.File, error) {
				return func(dir, pattern string) (*os.File, error) {
					f, err := os.CreateTemp(dir, pattern)
					require.NoError(t, err)
					require.NoError(t, f.Close())
					return f, nil
				}
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := openTestStore(t, t.TempDir(), "intact")
			for _, id := range []string{"a", "b", "c"} {
				require.NoError(t, store.PushBack(ctx, queue.Message{ID: id, ReceiptHandle: id, Body: []byte(id)}))
			}
			messagesPath := filepath.Join(store.Dir(), messagesFile)
			before, err := os.ReadFile(messagesPath)
			require.NoError(t, err)

			store.createTemp = tc.createTemp(t)
			m, err := store.PopFront(ctx)
			require.Nil(t, m)
			var storageErr *queue.StorageError
			require.ErrorAs(t, err, &storageErr)
			require.Equal(t, "pop-front", storageErr.Op)

			err = store.PushFront(ctx, queue.Message{ID: "z", ReceiptHandle: "z"})
			require.ErrorAs(t, err, &storageErr)
			require.Equal(t, "push-front", storageErr.Op)

			after, err := os.ReadFile(messagesPath)
			require.NoError(t, err)
			require.Equal(t, before, after)
			entries, err := os.ReadDir(store.Dir())
			require.NoError(t, err)
			for _, entry := range entries {
				require.False(t, strings.HasSuffix(entry.Name(), ".tmp"), "left temp file %s", entry.Name())
			}

			store.createTemp = os.CreateTemp
			m, err = store.PopFront(ctx)
			require.NoError(t, err)
			require.Equal(t, "a", m.ID)
		})
	}
}

func TestStoreKeepsCommittedResultWhenUnlockFails(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), "released")
	require.NoError(t, store.PushBack(ctx, queue.Message{ID: "a", ReceiptHandle: "a"}))

	var popped *queue.Message
	err := store.locked(ctx, func() error {
		// Another process broke the lock while this one held it.
		require.NoError(t, os.Remove(filepath.Join(store.Dir(), lockDir)))
		popped = &queue.Message{ID: "a"}
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, popped)

	require.NoError(t, store.PushBack(ctx, queue.Message{ID: "b", ReceiptHandle: "b"}))
	size, err := store.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, size)
}
