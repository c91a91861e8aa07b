package migrate

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/porter"
)

// Checkpoint records the progress of a run so an interrupted run can be
// resumed.
type Checkpoint struct {
	RunID    uuid.UUID               `msgpack:"run_id"`
	PlanHash string                  `msgpack:"plan_hash"`
	Updated  time.Time               `msgpack:"updated"`
	Entities map[string]*EntityState `msgpack:"entities"`
	// Fixups holds the pending second-pass values per entity.
	Fixups map[string][]*Fixup `msgpack:"fixups"`
	// Truncated reports that the pre-flight truncation completed.
	Truncated bool `msgpack:"truncated"`
}

// EntityState is the recorded progress of one entity.
type EntityState struct {
	Done      bool   `msgpack:"done"`
	Status    Status `msgpack:"status"`
	LastKey   []any  `msgpack:"last_key"`
	Attempted int64  `msgpack:"attempted"`
	Migrated  int64  `msgpack:"migrated"`
	Skipped   int64  `msgpack:"skipped"`
}

// ReadCheckpoint reads the checkpoint file at path.
func ReadCheckpoint(path string) (*Checkpoint, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	// Keys decode as int64, uint64, float64, string or time.Time.
	dec.UseLooseInterfaceDecoding(true)
	cp := &Checkpoint{}
	if err := dec.Decode(cp); err != nil {
		return nil, fmt.Errorf("migrate: decode checkpoint %s: %w", path, err)
	}
	if cp.Entities == nil {
		cp.Entities = make(map[string]*EntityState)
	}
	if cp.Fixups == nil {
		cp.Fixups = make(map[string][]*Fixup)
	}
	return cp, nil
}

// checkpointer writes the checkpoint after every change. A nil checkpointer
// records nothing.
type checkpointer struct {
	mu   sync.Mutex
	path string
	cp   *Checkpoint
}

// openCheckpoint starts a new checkpoint, or loads the existing one when
// resuming. The existing checkpoint must belong to the same plan.
func openCheckpoint(path string, resume bool, id uuid.UUID, hash string) (*checkpointer, error) {
	if path == "" {
		return nil, nil
	}
	if resume {
		cp, err := ReadCheckpoint(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		case cp.PlanHash != hash:
			return nil, porter.NewPlanMismatchError("", fmt.Sprintf("checkpoint %s was written for plan %.12s, not %.12s", path, cp.PlanHash, hash))
		default:
			return &checkpointer{path: path, cp: cp}, nil
		}
	}
	c := &checkpointer{path: path, cp: &Checkpoint{
		RunID:    id,
		PlanHash: hash,
		Entities: make(map[string]*EntityState),
		Fixups:   make(map[string][]*Fixup),
	}}
	return c, c.save()
}

// state returns a copy of the recorded state of the entity.
func (c *checkpointer) state(name string) (EntityState, bool) {
	if c == nil {
		return EntityState{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.cp.Entities[name]
	if !ok {
		return EntityState{}, false
	}
	return *s, true
}

func (c *checkpointer) pendingFixups() map[string][]*Fixup {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]*Fixup, len(c.cp.Fixups))
	for k, v := range c.cp.Fixups {
		out[k] = v
	}
	return out
}

// update applies f to the checkpoint and writes it.
func (c *checkpointer) update(f func(*Checkpoint)) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	f(c.cp)
	return c.save()
}

// save writes the checkpoint to a temporary file and renames it over the
// previous one.
func (c *checkpointer) save() error {
	c.cp.Updated = time.Now().UTC()
	b, err := msgpack.Marshal(c.cp)
	if err != nil {
		return fmt.Errorf("migrate: encode checkpoint: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), filepath.Base(c.path)+".*")
	if err != nil {
		return fmt.Errorf("migrate: write checkpoint: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("migrate: write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("migrate: write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("migrate: write checkpoint: %w", err)
	}
	return nil
}
