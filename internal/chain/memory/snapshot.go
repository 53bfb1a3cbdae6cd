package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mrz1836/harvest/internal/chain"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// maxSnapshotSize bounds snapshot files read from disk.
const maxSnapshotSize = 64 << 20

// Snapshot is the on-disk form of a chain state.
//
//	{
//	  "specVersion": 9430,
//	  "fee": "15000000",
//	  "consts": {"staking.maxNominations": 16},
//	  "calls": {"staking.bond": 2},
//	  "storage": {"staking.ledger": [{"args": ["5Grw..."], "value": {"active": "100"}}]},
//	  "runtime": {"nominationPoolsApi.pendingRewards": [{"args": ["5Grw..."], "value": "10"}]}
//	}
type Snapshot struct {
	SpecVersion uint32                     `json:"specVersion"`
	Fee         chain.Balance              `json:"fee"`
	Consts      map[string]json.RawMessage `json:"consts"`
	Calls       map[string]int             `json:"calls"`
	Storage     map[string][]SnapshotItem  `json:"storage"`
	Runtime     map[string][]SnapshotItem  `json:"runtime"`
}

// SnapshotItem is one stored value with its key arguments.
type SnapshotItem struct {
	Args  []json.RawMessage `json:"args,omitempty"`
	Value json.RawMessage   `json:"value"`
}

// LoadFile reads a snapshot file into a new ready Chain.
func LoadFile(path string) (*Chain, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from user configuration
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: snapshot %s", harvesterr.ErrNotFound, path)
		}
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Load(f)
}

// Load decodes a snapshot into a new ready Chain.
func Load(r io.Reader) (*Chain, error) {
	var snap Snapshot
	dec := json.NewDecoder(io.LimitReader(r, maxSnapshotSize))
	dec.UseNumber()
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: decode snapshot: %w", harvesterr.ErrConfigInvalid, err)
	}
	return FromSnapshot(snap)
}

// FromSnapshot builds a Chain from decoded snapshot data.
func FromSnapshot(snap Snapshot) (*Chain, error) {
	c := New(WithSpecVersion(snap.SpecVersion), WithFee(snap.Fee))

	for name, raw := range snap.Consts {
		if _, _, ok := splitPath(name); !ok {
			return nil, fmt.Errorf("%w: constant %q", harvesterr.ErrConfigInvalid, name)
		}
		c.consts[name] = raw
	}
	for name, arity := range snap.Calls {
		c.calls[name] = arity
	}
	for path, items := range snap.Storage {
		if _, _, ok := splitPath(path); !ok {
			return nil, fmt.Errorf("%w: storage %q", harvesterr.ErrConfigInvalid, path)
		}
		c.storage[path] = make(map[string]item, len(items))
		for _, it := range items {
			args := normalizeArgs(it.Args)
			c.storage[path][rawKey(args)] = item{args: args, value: it.Value}
		}
	}
	for method, items := range snap.Runtime {
		c.runtime[method] = make(map[string]json.RawMessage, len(items))
		for _, it := range items {
			c.runtime[method][rawKey(normalizeArgs(it.Args))] = it.Value
		}
	}
	return c, nil
}

// Snapshot exports the current state in a deterministic order.
func (c *Chain) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		SpecVersion: c.spec,
		Fee:         c.fee,
		Consts:      make(map[string]json.RawMessage, len(c.consts)),
		Calls:       make(map[string]int, len(c.calls)),
		Storage:     make(map[string][]SnapshotItem, len(c.storage)),
		Runtime:     make(map[string][]SnapshotItem, len(c.runtime)),
	}
	for k, v := range c.consts {
		snap.Consts[k] = v
	}
	for k, v := range c.calls {
		snap.Calls[k] = v
	}
	for path, items := range c.storage {
		snap.Storage[path] = sortedItems(items)
	}
	for method, values := range c.runtime {
		items := make(map[string]item, len(values))
		for k, v := range values {
			items[k] = item{args: parseRawKey(k), value: v}
		}
		snap.Runtime[method] = sortedItems(items)
	}
	return snap
}

func sortedItems(items map[string]item) []SnapshotItem {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]SnapshotItem, 0, len(keys))
	for _, k := range keys {
		out = append(out, SnapshotItem{Args: items[k].args, Value: items[k].value})
	}
	return out
}

// rawKey rebuilds the canonical key for already-encoded args.
func rawKey(args []json.RawMessage) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, string(a))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// normalizeArgs re-encodes raw args so snapshot keys match keys built by encodeArgs.
func normalizeArgs(args []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		dec := json.NewDecoder(bytes.NewReader(a))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err == nil {
			if b, err := json.Marshal(v); err == nil {
				out = append(out, b)
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

func parseRawKey(key string) []json.RawMessage {
	var out []json.RawMessage
	if err := json.Unmarshal([]byte(key), &out); err != nil {
		return nil
	}
	return out
}

func splitPath(path string) (string, string, bool) {
	section, name, ok := strings.Cut(path, ".")
	return section, name, ok && section != "" && name != ""
}
