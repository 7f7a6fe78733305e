package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DeepDirect/deepwebide-yjs/ycrdt"
)

func newTestDocs() *DocumentRegistry {
	return NewDocumentRegistry(zap.NewNop())
}

func editorFrame(t *testing.T, text string) []byte {
	t.Helper()
	doc := ycrdt.NewDocWithClientID(99)
	require.NoError(t, doc.InsertText(contentField, 0, text))
	return ycrdt.EncodeSyncUpdate(doc.EncodeStateAsUpdate())
}

func TestEnsureIsIdempotent(t *testing.T) {
	docs := newTestDocs()
	docs.Ensure("repo-7-a.ts")
	docs.Ensure("repo-7-a.ts")
	assert.Equal(t, 1, docs.Count())
}

func TestApplyUpdateAndReadText(t *testing.T) {
	docs := newTestDocs()
	docs.ApplyUpdate("repo-7-a.ts", editorFrame(t, "const x = 1"))
	assert.Equal(t, "const x = 1", docs.ReadText("repo-7-a.ts"))

	info := docs.Info("repo-7-a.ts")
	assert.True(t, info.Exists)
	assert.Equal(t, len("const x = 1"), info.ContentLength)
	assert.Greater(t, info.StateSize, 0)
}

func TestApplyUpdateAcceptsRawUpdates(t *testing.T) {
	docs := newTestDocs()
	doc := ycrdt.NewDocWithClientID(5)
	require.NoError(t, doc.InsertText(contentField, 0, "raw"))
	docs.ApplyUpdate("repo-7-a.ts", doc.EncodeStateAsUpdate())
	assert.Equal(t, "raw", docs.ReadText("repo-7-a.ts"))
}

func TestApplyUpdateIgnoresAwarenessFrames(t *testing.T) {
	docs := newTestDocs()
	docs.ApplyUpdate("repo-7-a.ts", editorFrame(t, "kept"))
	// Awareness frame: message type 1, opaque payload.
	docs.ApplyUpdate("repo-7-a.ts", []byte{0x01, 0x03, 0xaa, 0xbb, 0xcc})
	assert.Equal(t, "kept", docs.ReadText("repo-7-a.ts"))
}

func TestReadTextUnknownRoom(t *testing.T) {
	docs := newTestDocs()
	assert.Equal(t, "", docs.ReadText("repo-404-x.ts"))
	assert.False(t, docs.Info("repo-404-x.ts").Exists)
}

func TestDestroyIsIdempotent(t *testing.T) {
	docs := newTestDocs()
	docs.ApplyUpdate("repo-7-a.ts", editorFrame(t, "gone"))
	docs.Destroy("repo-7-a.ts")
	docs.Destroy("repo-7-a.ts")
	assert.Equal(t, 0, docs.Count())
	assert.Equal(t, "", docs.ReadText("repo-7-a.ts"))
}

func TestDestroyAll(t *testing.T) {
	docs := newTestDocs()
	docs.Ensure("repo-1-a.ts")
	docs.Ensure("repo-2-b.ts")
	assert.Equal(t, 2, docs.DestroyAll())
	assert.Equal(t, 0, docs.Count())
}
