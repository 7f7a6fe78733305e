// E2E test: exercises a live relay with two editor clients and two file
// tree clients.
// Usage: go run ./cmd/e2etest -relay ws://localhost:1234
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DeepDirect/deepwebide-yjs/ycrdt"
)

var relayURL = flag.String("relay", "ws://localhost:1234", "relay base URL (no path)")

func main() {
	flag.Parse()
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	editorRoom := "/repo-1-e2e/demo.ts"
	treeRoom := "/filetree-1"

	// --- Editor room: CRDT update relay ---
	log.Println(">> Connecting editor clients...")
	a := dial(*relayURL + editorRoom)
	defer a.Close()
	b := dial(*relayURL + editorRoom)
	defer b.Close()
	log.Println("   Connected ✓")

	doc := ycrdt.NewDoc()
	if err := doc.InsertText("monaco-content", 0, "hello from e2e"); err != nil {
		log.Fatal("build update:", err)
	}
	frame := ycrdt.EncodeSyncUpdate(doc.EncodeStateAsUpdate())

	log.Println(">> A sending CRDT update...")
	if err := a.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		log.Fatal("send:", err)
	}

	log.Println(">> B waiting for update...")
	got := read(b)
	if !bytes.Equal(got, frame) {
		log.Fatalf("relayed frame differs: got %d bytes, want %d", len(got), len(frame))
	}
	log.Println("   Received identical bytes ✓")

	_ = a.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := a.ReadMessage(); err == nil {
		log.Fatal("sender received its own frame")
	}
	log.Println("   Sender excluded ✓")

	// Check that the relayed frame decodes to the inserted text.
	replica := ycrdt.NewDoc()
	update, err := ycrdt.ExtractUpdate(got)
	if err != nil {
		log.Fatal("extract:", err)
	}
	if err := replica.ApplyUpdate(update); err != nil {
		log.Fatal("apply:", err)
	}
	if text := replica.Text("monaco-content"); text != "hello from e2e" {
		log.Fatalf("replica text mismatch: %q", text)
	}
	log.Println("   Replica text matches ✓")

	// --- File tree room: typed JSON relay ---
	log.Println(">> Connecting file tree clients...")
	ta := dial(*relayURL + treeRoom)
	defer ta.Close()
	tb := dial(*relayURL + treeRoom)
	defer tb.Close()

	event := []byte(`{"type":"fileTree","action":"create","data":{"fileId":9,"fileName":"x.ts"}}`)
	log.Println(">> A sending file tree event...")
	if err := ta.WriteMessage(websocket.BinaryMessage, event); err != nil {
		log.Fatal("send:", err)
	}
	if got := read(tb); !bytes.Equal(got, event) {
		log.Fatalf("file tree event differs: %s", got)
	}
	log.Println("   Received identical bytes ✓")

	fmt.Println()
	log.Println("═══════════════════════════════")
	log.Println("  E2E TEST PASSED ✓")
	log.Println("═══════════════════════════════")
}

func dial(url string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", url, err)
	}
	// Give the relay a moment to finish admission before traffic flows.
	time.Sleep(100 * time.Millisecond)
	return conn
}

func read(conn *websocket.Conn) []byte {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		log.Fatal("read:", err)
	}
	return msg
}
