package fsfs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/veridianfs/txnfs/internal/repcache"
)

func testFormat() Format {
	return Format{
		Version:                1,
		RepSharingAllowed:      true,
		DeltifyDirectories:     true,
		MaxLinearDeltification: 16,
		MaxDeltificationWalk:   1023,
		ShardSize:              0,
	}
}

// addFile stages a brand-new file under the transaction's mutable root:
// allocates a node id, streams its content through the proto-rev writer,
// writes its noderev, links it into the root directory listing, and
// appends the matching change record, the sequence an editor layer would
// run on an "add file" operation.
func addFile(t *testing.T, repo *Repository, txnID, name string, content []byte) ID {
	t.Helper()
	store := repo.TxnStore()

	nodeID, err := store.AllocNodeID(txnID)
	require.NoError(t, err)
	id := NewMutableID(nodeID, "0", txnID)

	pw, err := repo.OpenProtoRevForWrite(txnID, nil, nil)
	require.NoError(t, err)
	_, err = pw.Write(content)
	require.NoError(t, err)
	dataRef, err := pw.Close()
	require.NoError(t, err)
	require.NoError(t, pw.Finish())

	node := &Noderev{
		ID:           id,
		Kind:         KindFile,
		DataRep:      dataRef,
		CreatedPath:  "/" + name,
		CopyRootPath: "/",
	}
	require.NoError(t, store.WriteTxnNoderev(txnID, idStem(id), node))

	rootStem := idStem(NewMutableID("0", "0", txnID))
	entries, err := store.ReadDirListing(txnID, rootStem)
	require.NoError(t, err)
	entries = append(entries, DirEntry{Name: name, ID: id})
	require.NoError(t, store.WriteDirListing(txnID, rootStem, entries))

	rec := ChangeRecord{Path: "/" + name, Kind: ChangeAdd, NodeRevID: &id, TextMod: true, NodeKind: KindFile}
	require.NoError(t, store.AppendChange(txnID, rec))
	return id
}

func TestCommitSingleFileEndToEnd(t *testing.T) {
	dir := t.TempDir()
	format := testFormat()
	require.NoError(t, CreateRepository(dir, format))

	repo, err := Open(dir, Options{Format: format})
	require.NoError(t, err)

	txnID, err := repo.BeginTxn()
	require.NoError(t, err)

	addFile(t, repo, txnID, "a.txt", []byte("hello world"))

	rev, err := repo.CommitTxn(txnID)
	require.NoError(t, err)
	require.Equal(t, int64(1), rev)

	head, err := repo.HeadRevision()
	require.NoError(t, err)
	require.Equal(t, int64(1), head)

	require.NoError(t, VerifyRepository(repo.Paths()))

	trailer, err := ReadRevisionTrailer(repo.Paths(), 1)
	require.NoError(t, err)
	reader := NewRepContentReader(repo.Paths())
	root, err := reader.ReadNoderev(NewImmutableID("0", "0", 1, trailer.RootOffset))
	require.NoError(t, err)
	require.Equal(t, int64(1), root.PredecessorCount)

	listingBytes, err := reader.ExpandRep(root.DataRep)
	require.NoError(t, err)
	entries, err := DeserializeDirListing(bytes.NewReader(listingBytes))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a.txt", entries[0].Name)
	require.False(t, entries[0].ID.IsMutable())

	child, err := reader.ReadNoderev(entries[0].ID)
	require.NoError(t, err)
	content, err := reader.ExpandRep(child.DataRep)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(content))
}

func TestCommitRejectsStaleBaseRevision(t *testing.T) {
	dir := t.TempDir()
	format := testFormat()
	require.NoError(t, CreateRepository(dir, format))

	repo, err := Open(dir, Options{Format: format})
	require.NoError(t, err)

	txn1, err := repo.BeginTxn()
	require.NoError(t, err)
	addFile(t, repo, txn1, "first.txt", []byte("one"))

	txn2, err := repo.BeginTxn()
	require.NoError(t, err)
	addFile(t, repo, txn2, "second.txt", []byte("two"))

	_, err = repo.CommitTxn(txn1)
	require.NoError(t, err)

	_, err = repo.CommitTxn(txn2)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindTxnOutOfDate, kind)
}

// TestCommitSharesIdenticalContentAcrossRevisions commits the same file
// content in two separate transactions, reopening the Repository between
// them so the in-process RepSharing memory from the first commit is gone
// and the second commit's only route to the duplicate is the persistent
// rep-cache. Both files must resolve to the same underlying rep bytes.
func TestCommitSharesIdenticalContentAcrossRevisions(t *testing.T) {
	dir := t.TempDir()
	format := testFormat()
	require.NoError(t, CreateRepository(dir, format))

	cache, err := repcache.OpenInMemory()
	require.NoError(t, err)
	defer cache.Close()

	payload := []byte("identical payload shared across two commits")

	repo1, err := Open(dir, Options{Format: format, Cache: cache})
	require.NoError(t, err)
	txn1, err := repo1.BeginTxn()
	require.NoError(t, err)
	addFile(t, repo1, txn1, "one.txt", payload)
	rev1, err := repo1.CommitTxn(txn1)
	require.NoError(t, err)
	repo1.Close()

	repo2, err := Open(dir, Options{Format: format, Cache: cache})
	require.NoError(t, err)
	txn2, err := repo2.BeginTxn()
	require.NoError(t, err)
	addFile(t, repo2, txn2, "two.txt", payload)
	rev2, err := repo2.CommitTxn(txn2)
	require.NoError(t, err)
	defer repo2.Close()

	require.NotEqual(t, rev1, rev2)

	reader := NewRepContentReader(repo2.Paths())
	dataRepAt := func(rev int64, name string) *RepRef {
		trailer, err := ReadRevisionTrailer(repo2.Paths(), rev)
		require.NoError(t, err)
		root, err := reader.ReadNoderev(NewImmutableID("0", "0", rev, trailer.RootOffset))
		require.NoError(t, err)
		listingBytes, err := reader.ExpandRep(root.DataRep)
		require.NoError(t, err)
		entries, err := DeserializeDirListing(bytes.NewReader(listingBytes))
		require.NoError(t, err)
		for _, e := range entries {
			if e.Name == name {
				node, err := reader.ReadNoderev(e.ID)
				require.NoError(t, err)
				return node.DataRep
			}
		}
		t.Fatalf("entry %q not found in revision %d", name, rev)
		return nil
	}

	first := dataRepAt(rev1, "one.txt")
	second := dataRepAt(rev2, "two.txt")

	require.Equal(t, first.Revision, second.Revision)
	require.Equal(t, first.Offset, second.Offset)
	require.Equal(t, first.MD5, second.MD5)
	require.NotEmpty(t, second.Uniquifier)
	require.NotEqual(t, first.Uniquifier, second.Uniquifier)
}

func TestAbortTxnRemovesTxnDirectory(t *testing.T) {
	dir := t.TempDir()
	format := testFormat()
	require.NoError(t, CreateRepository(dir, format))

	repo, err := Open(dir, Options{Format: format})
	require.NoError(t, err)

	txnID, err := repo.BeginTxn()
	require.NoError(t, err)
	addFile(t, repo, txnID, "doomed.txt", []byte("nope"))

	require.NoError(t, repo.AbortTxn(txnID))

	_, err = repo.TxnStore().ReadTxnNoderev(txnID, "0.0")
	require.Error(t, err)
}
