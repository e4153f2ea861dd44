// Package tapindex implements C4: a lazy, cached name -> formula-file
// mapping across one or more taps, with prefix/substring search.
package tapindex

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/velo-pm/velo/internal/config"
	"github.com/velo-pm/velo/internal/formula"
	"github.com/velo-pm/velo/internal/layout"
	"github.com/velo-pm/velo/internal/vlog"
)

// Index maps formula name -> absolute formula file path across every tap
// rooted under the Layout's Taps() directory, i.e. Taps()/<org>/<repo>/Formula/...
type Index struct {
	l      *layout.Layout
	log    vlog.Logger
	mu     sync.RWMutex
	byName map[string]string // name -> absolute .rb path
	built  time.Time
}

// cacheDoc is the on-disk shape persisted under Layout.TapCache().
type cacheDoc struct {
	BuiltAt time.Time         `json:"built_at"`
	Entries map[string]string `json:"entries"`
}

func cachePath(l *layout.Layout) string {
	return filepath.Join(l.TapCache(), "index.json")
}

// New constructs an Index over l. The index starts empty; call
// BuildFullIndex or Load before Find/Search.
func New(l *layout.Layout, log vlog.Logger) *Index {
	if log == nil {
		log = vlog.NewNoop()
	}
	return &Index{l: l, log: log, byName: map[string]string{}}
}

// Load reads a previously persisted index from disk, honoring the tap
// cache TTL and stale-fallback policy. Returns (false, nil) if there is
// no cache, or if the cache is past its TTL and the stale fallback is
// disabled, its maximum staleness is 0, or that maximum is also
// exceeded; in that case the caller should call BuildFullIndex.
func (idx *Index) Load() (bool, error) {
	data, err := os.ReadFile(cachePath(idx.l))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("tapindex: read cache: %w", err)
	}

	var doc cacheDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("tapindex: decode cache: %w", err)
	}

	age := time.Since(doc.BuiltAt)
	if age > config.GetTapCacheTTL() {
		maxStale := config.GetTapCacheMaxStale()
		if maxStale == 0 || !config.GetTapCacheStaleFallback() || age > maxStale {
			idx.log.Debug("tap cache too stale to use", "age", age)
			return false, nil
		}
		idx.log.Warn("serving stale tap index", "age", age)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byName = doc.Entries
	idx.built = doc.BuiltAt
	return true, nil
}

// BuildFullIndex walks every tap once, populating the name -> path map
// and persisting it to the on-disk cache. Formula files are not parsed
// here; an org or shard directory that cannot be read is logged and
// skipped without aborting the index build.
func (idx *Index) BuildFullIndex() error {
	entries := map[string]string{}

	orgs, err := os.ReadDir(idx.l.Taps())
	if err != nil {
		if os.IsNotExist(err) {
			idx.mu.Lock()
			idx.byName = entries
			idx.built = time.Now()
			idx.mu.Unlock()
			return idx.persist(entries)
		}
		return fmt.Errorf("tapindex: read taps root: %w", err)
	}

	for _, org := range orgs {
		if !org.IsDir() {
			continue
		}
		orgDir := filepath.Join(idx.l.Taps(), org.Name())
		repos, err := os.ReadDir(orgDir)
		if err != nil {
			idx.log.Warn("tapindex: read org dir failed", "org", org.Name(), "error", err)
			continue
		}
		for _, repo := range repos {
			if !repo.IsDir() {
				continue
			}
			formulaRoot := filepath.Join(orgDir, repo.Name(), "Formula")
			idx.walkFormulaTree(formulaRoot, entries)
		}
	}

	idx.mu.Lock()
	idx.byName = entries
	idx.built = time.Now()
	idx.mu.Unlock()

	return idx.persist(entries)
}

// walkFormulaTree handles both the flat (Formula/<name>.rb) and sharded
// (Formula/<letter>/<name>.rb) layouts.
func (idx *Index) walkFormulaTree(root string, entries map[string]string) {
	topEntries, err := os.ReadDir(root)
	if err != nil {
		return // tap without a Formula tree is simply skipped
	}

	for _, e := range topEntries {
		full := filepath.Join(root, e.Name())
		if e.IsDir() {
			// sharded: Formula/<letter>/<name>.rb
			shardEntries, err := os.ReadDir(full)
			if err != nil {
				idx.log.Warn("tapindex: read shard dir failed", "dir", full, "error", err)
				continue
			}
			for _, se := range shardEntries {
				if se.IsDir() || !strings.HasSuffix(se.Name(), ".rb") {
					continue
				}
				name := strings.TrimSuffix(se.Name(), ".rb")
				entries[name] = filepath.Join(full, se.Name())
			}
			continue
		}
		if strings.HasSuffix(e.Name(), ".rb") {
			name := strings.TrimSuffix(e.Name(), ".rb")
			entries[name] = full
		}
	}
}

func (idx *Index) persist(entries map[string]string) error {
	if err := os.MkdirAll(idx.l.TapCache(), 0o755); err != nil {
		return fmt.Errorf("tapindex: create cache dir: %w", err)
	}
	doc := cacheDoc{BuiltAt: time.Now(), Entries: entries}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("tapindex: encode cache: %w", err)
	}
	tmp := cachePath(idx.l) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("tapindex: write cache: %w", err)
	}
	return os.Rename(tmp, cachePath(idx.l))
}

// Find returns the formula file path for name. An exact key match is
// always preferred. If name carries no "@version_slot" and no exact key
// exists, the first indexed entry sharing name as its base name is
// returned (e.g. a lookup for "python" may resolve to "python@3.12"'s
// file if that is the only python formula indexed).
func (idx *Index) Find(name string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if path, ok := idx.byName[name]; ok {
		return path, true
	}
	if strings.Contains(name, "@") {
		return "", false
	}

	var candidates []string
	for key := range idx.byName {
		if formula.BaseName(key) == name {
			candidates = append(candidates, key)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Strings(candidates)
	return idx.byName[candidates[0]], true
}

// LoadFormula finds and parses the Formula named name.
func (idx *Index) LoadFormula(name string) (*formula.Formula, error) {
	path, ok := idx.Find(name)
	if !ok {
		return nil, fmt.Errorf("tapindex: formula %q not indexed", name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tapindex: read formula file: %w", err)
	}
	return formula.Parse(name, string(data))
}

// Search returns formula names containing term as a substring. When
// includeDescriptions is true, formulae whose description contains term
// are also included (requires parsing every candidate, so it is more
// expensive).
func (idx *Index) Search(term string, includeDescriptions bool) ([]string, error) {
	idx.mu.RLock()
	names := make([]string, 0, len(idx.byName))
	for name := range idx.byName {
		names = append(names, name)
	}
	paths := make(map[string]string, len(idx.byName))
	for k, v := range idx.byName {
		paths[k] = v
	}
	idx.mu.RUnlock()

	lowTerm := strings.ToLower(term)
	seen := map[string]bool{}
	var out []string

	for _, name := range names {
		if strings.Contains(strings.ToLower(name), lowTerm) {
			out = append(out, name)
			seen[name] = true
		}
	}

	if includeDescriptions {
		for _, name := range names {
			if seen[name] {
				continue
			}
			data, err := os.ReadFile(paths[name])
			if err != nil {
				continue
			}
			f, err := formula.Parse(name, string(data))
			if err != nil {
				idx.log.Debug("tapindex: search skip unparsable formula", "name", name, "error", err)
				continue
			}
			if strings.Contains(strings.ToLower(f.Description), lowTerm) {
				out = append(out, name)
			}
		}
	}

	sort.Strings(out)
	return out, nil
}

// Size returns the number of indexed formulae.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byName)
}
