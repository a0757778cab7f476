package store

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"

	"ethiogram/pkg/logger"
)

// Pebble is the durable backend. Keys are laid out as
// conv:<convID>:msg:<seq zero-padded to 20> so a prefix iteration yields a
// conversation's log in sequence order.
type Pebble struct {
	mu sync.RWMutex
	db *pebble.DB
}

// OpenPebble opens (or creates) a pebble database at path.
func OpenPebble(path string) (*Pebble, error) {
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("pebble_opened", "path", path)
	return &Pebble{db: db}, nil
}

func (p *Pebble) Mode() Mode { return ModeDurable }

func (p *Pebble) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.db != nil
}

func (p *Pebble) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return err
	}
	p.db = nil
	logger.Info("pebble_closed")
	return nil
}

func msgKey(convID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("conv:%s:msg:%020d", convID, seq))
}

func convPrefix(convID string) []byte {
	return []byte("conv:" + convID + ":msg:")
}

func (p *Pebble) handle() (*pebble.DB, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return nil, fmt.Errorf("pebble not opened; call OpenPebble first")
	}
	return p.db, nil
}

func (p *Pebble) Append(convID string, seq uint64, data []byte) error {
	db, err := p.handle()
	if err != nil {
		return err
	}
	key := msgKey(convID, seq)
	if err := db.Set(key, data, pebble.Sync); err != nil {
		logger.Error("append_message_failed", "conversation", convID, "seq", seq, "error", err)
		return err
	}
	logger.Debug("message_appended", "conversation", convID, "seq", seq)
	return nil
}

// Replace overwrites an existing entry in place; edits, tombstones and
// reaction changes all land here.
func (p *Pebble) Replace(convID string, seq uint64, data []byte) error {
	db, err := p.handle()
	if err != nil {
		return err
	}
	key := msgKey(convID, seq)
	if _, closer, err := db.Get(key); err != nil {
		return err
	} else if closer != nil {
		_ = closer.Close()
	}
	return db.Set(key, data, pebble.Sync)
}

func (p *Pebble) Delete(convID string, seq uint64) error {
	db, err := p.handle()
	if err != nil {
		return err
	}
	return db.Delete(msgKey(convID, seq), pebble.Sync)
}

func (p *Pebble) List(convID string, limit int) ([][]byte, error) {
	db, err := p.handle()
	if err != nil {
		return nil, err
	}
	prefix := convPrefix(convID)
	upper := append(append([]byte(nil), prefix...), 0xff)
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out [][]byte
	if limit > 0 {
		// most recent page: walk backwards then reverse
		for ok := iter.Last(); ok && len(out) < limit; ok = iter.Prev() {
			out = append(out, append([]byte(nil), iter.Value()...))
		}
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	} else {
		for iter.First(); iter.Valid(); iter.Next() {
			out = append(out, append([]byte(nil), iter.Value()...))
		}
	}
	return out, iter.Error()
}

func (p *Pebble) LastSeq(convID string) (uint64, error) {
	db, err := p.handle()
	if err != nil {
		return 0, err
	}
	prefix := convPrefix(convID)
	upper := append(append([]byte(nil), prefix...), 0xff)
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, iter.Error()
	}
	var seq uint64
	key := string(iter.Key())
	if _, err := fmt.Sscanf(key[len(prefix):], "%d", &seq); err != nil {
		return 0, fmt.Errorf("malformed message key %q: %w", key, err)
	}
	return seq, iter.Error()
}

func (p *Pebble) Conversations() ([]string, error) {
	db, err := p.handle()
	if err != nil {
		return nil, err
	}
	prefix := []byte("conv:")
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	seen := map[string]struct{}{}
	for iter.First(); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		rest := string(k[len(prefix):])
		idx := strings.LastIndex(rest, ":msg:")
		if idx < 0 {
			continue
		}
		id := rest[:idx]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, iter.Error()
}
