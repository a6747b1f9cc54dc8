package history

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/coder/hnsw"
	"github.com/sahilm/fuzzy"
)

// DefaultMaxEntries caps the number of commands kept in an Index.
const DefaultMaxEntries = 1000

// minSemanticQuery is the shortest query sent to the graph; shorter ones use
// fuzzy matching, where trigram vectors carry too little signal.
const minSemanticQuery = 3

// Index stores redacted commands in an HNSW graph for similarity search.
// It is safe for concurrent use.
type Index struct {
	embedder   *Embedder
	maxEntries int

	mu       sync.RWMutex
	graph    *hnsw.Graph[string] // keyed by command hash
	commands map[string]string   // hash -> redacted command
	order    []string            // hashes, oldest first
}

// NewIndex creates an empty index.
func NewIndex(embedder *Embedder, maxEntries int) *Index {
	if embedder == nil {
		embedder = NewEmbedder(DefaultDimensions)
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Index{
		embedder:   embedder,
		maxEntries: maxEntries,
		graph:      hnsw.NewGraph[string](),
		commands:   make(map[string]string),
	}
}

// Len returns the number of indexed commands.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.order)
}

// Add redacts and indexes cmd. Re-adding a known command moves it to the
// most recent position.
func (idx *Index) Add(cmd string) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return
	}
	clean := RedactCommand(cmd)
	vec, ok := idx.embedder.Embed(clean)
	if !ok {
		return
	}
	hash := hashCommand(clean)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.commands[hash]; exists {
		idx.removeOrder(hash)
		idx.order = append(idx.order, hash)
		return
	}
	idx.graph.Add(hnsw.MakeNode(hash, vec))
	idx.commands[hash] = clean
	idx.order = append(idx.order, hash)
	idx.evict()
}

// evict drops the oldest commands beyond maxEntries.
func (idx *Index) evict() {
	for len(idx.order) > idx.maxEntries {
		oldest := idx.order[0]
		idx.order = idx.order[1:]
		idx.graph.Delete(oldest)
		delete(idx.commands, oldest)
	}
}

// Search returns up to topK stored commands most similar to query.
func (idx *Index) Search(query string, topK int) []string {
	query = strings.TrimSpace(query)
	if query == "" || topK <= 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.order) == 0 {
		return nil
	}
	if len([]rune(query)) < minSemanticQuery {
		return idx.fuzzySearch(query, topK)
	}

	vec, ok := idx.embedder.Embed(RedactCommand(query))
	if !ok {
		return nil
	}
	neighbors := idx.graph.Search(vec, topK)
	out := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		if cmd, ok := idx.commands[n.Key]; ok {
			out = append(out, cmd)
		}
	}
	return out
}

// fuzzySearch matches query against commands, newest first on ties.
func (idx *Index) fuzzySearch(query string, topK int) []string {
	cmds := make([]string, len(idx.order))
	for i, hash := range idx.order {
		cmds[len(cmds)-1-i] = idx.commands[hash]
	}
	matches := fuzzy.Find(query, cmds)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Str
	}
	return out
}

// Commands returns the indexed commands, oldest first.
func (idx *Index) Commands() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, len(idx.order))
	for i, hash := range idx.order {
		out[i] = idx.commands[hash]
	}
	return out
}

func (idx *Index) removeOrder(hash string) {
	for i, h := range idx.order {
		if h == hash {
			idx.order = append(idx.order[:i], idx.order[i+1:]...)
			return
		}
	}
}

type cacheFile struct {
	Dimensions int          `json:"dimensions"`
	Entries    []cacheEntry `json:"entries"`
}

type cacheEntry struct {
	Hash      string    `json:"hash"`
	Command   string    `json:"command"`
	Embedding []float32 `json:"embedding"`
}

// SaveCache writes the index (commands + embeddings) to path, oldest first.
func (idx *Index) SaveCache(path string) error {
	idx.mu.RLock()
	entries := make([]cacheEntry, 0, len(idx.order))
	for _, hash := range idx.order {
		vec, ok := idx.graph.Lookup(hash)
		if !ok {
			continue
		}
		entries = append(entries, cacheEntry{
			Hash:      hash,
			Command:   idx.commands[hash],
			Embedding: vec,
		})
	}
	idx.mu.RUnlock()

	data, err := json.Marshal(cacheFile{
		Dimensions: idx.embedder.Dimensions(),
		Entries:    entries,
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadCache loads a previously saved index. Cached commands are older than
// anything already added, and the oldest are evicted past maxEntries. A cache
// built with different dimensions is skipped.
func (idx *Index) LoadCache(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("parse history cache: %w", err)
	}
	if cf.Dimensions != idx.embedder.Dimensions() {
		slog.Info("history cache dimensions changed, skipping", "cached", cf.Dimensions, "want", idx.embedder.Dimensions())
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	nodes := make([]hnsw.Node[string], 0, len(cf.Entries))
	loaded := make([]string, 0, len(cf.Entries))
	for _, e := range cf.Entries {
		if _, exists := idx.commands[e.Hash]; exists || len(e.Embedding) != cf.Dimensions {
			continue
		}
		nodes = append(nodes, hnsw.MakeNode(e.Hash, e.Embedding))
		idx.commands[e.Hash] = e.Command
		loaded = append(loaded, e.Hash)
	}
	if len(nodes) > 0 {
		idx.graph.Add(nodes...)
	}
	idx.order = append(loaded, idx.order...)
	idx.evict()
	return nil
}

func hashCommand(cmd string) string {
	h := sha256.Sum256([]byte(cmd))
	return fmt.Sprintf("%x", h)
}
