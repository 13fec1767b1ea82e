package ecs

import (
	"fmt"
	"iter"

	"github.com/TheBitDrifter/table"
)

// Ensure Cursor implements iCursor interface
var _ iCursor = &Cursor{}

// iCursor defines the interface for iterating over entities in storage
type iCursor interface {
	Entities() iter.Seq2[int, table.Table]
	Next() bool
}

// Cursor provides iteration over filtered entities in storage
type Cursor struct {
	query            QueryNode
	storage          Storage
	currentArchetype ArchetypeImpl
	storageIndex     int
	entityIndex      int
	remaining        int

	// includeDisabled makes the cursor yield entities with Enabled() ==
	// false. Off by default (spec.md §4.5 step 3).
	includeDisabled bool

	// postFilters are evaluated against the current entity's id after the
	// archetype mask and enabled check pass; all must return true for the
	// entity to be yielded. Set via Matcher.AlsoRequires.
	postFilters []func(entityID uint32) bool

	initialized     bool
	matchedStorages []ArchetypeImpl

	// precomputed, when non-nil, is a matched-archetype set the caller
	// already scanned (Matcher's per-version cache) — Initialize uses it
	// directly instead of re-evaluating the query against every archetype.
	precomputed []ArchetypeImpl

	// snapshotMode, when set, makes the cursor iterate a frozen entity id
	// set (Matcher.Snapshot) instead of walking live archetypes. No
	// storage lock is taken: the whole point of a snapshot is to let the
	// caller mutate storage during its own pass.
	snapshotMode bool
	snapshotIDs  []uint32
	snapshotPos  int
}

// newSnapshotCursor builds a Cursor that iterates a frozen entity id set
// instead of live archetypes.
func newSnapshotCursor(storage Storage, ids []uint32) *Cursor {
	return &Cursor{
		storage:      storage,
		snapshotMode: true,
		snapshotIDs:  ids,
		snapshotPos:  -1,
	}
}

// withPrecomputedArchetypes attaches an already-scanned matched-archetype
// set, letting Initialize skip its own scan.
func (c *Cursor) withPrecomputedArchetypes(archetypes []ArchetypeImpl) *Cursor {
	c.precomputed = archetypes
	return c
}

// withPostFilter attaches additional entity-id predicates to the cursor.
func (c *Cursor) withPostFilter(checks []func(uint32) bool) *Cursor {
	c.postFilters = append(c.postFilters, checks...)
	return c
}

// newCursor creates a new cursor for the given query and storage
func newCursor(query QueryNode, storage Storage) *Cursor {
	return &Cursor{
		query:   query,
		storage: storage,
	}
}

// IncludeDisabled makes the cursor also yield disabled entities.
func (c *Cursor) IncludeDisabled(include bool) *Cursor {
	c.includeDisabled = include
	return c
}

// Next advances to the next entity and returns whether one exists
func (c *Cursor) Next() bool {
	for {
		var ok bool
		if c.snapshotMode {
			ok = c.advanceSnapshot()
		} else {
			ok = c.advanceLive()
		}
		if !ok {
			return false
		}
		if c.currentEntityEnabled() {
			return true
		}
	}
}

// advanceLive moves to the next entity within the current live archetype,
// or to the next matching archetype if the current one is exhausted.
func (c *Cursor) advanceLive() bool {
	if c.entityIndex < c.remaining {
		c.entityIndex++
		return true
	}
	return c.advance()
}

// advanceSnapshot moves to the next id in the frozen snapshot set.
func (c *Cursor) advanceSnapshot() bool {
	if c.snapshotPos+1 >= len(c.snapshotIDs) {
		return false
	}
	c.snapshotPos++
	return true
}

// currentID returns the entity id at the cursor's current position.
func (c *Cursor) currentID() (uint32, bool) {
	if c.snapshotMode {
		if c.snapshotPos < 0 || c.snapshotPos >= len(c.snapshotIDs) {
			return 0, false
		}
		return c.snapshotIDs[c.snapshotPos], true
	}
	entry, err := c.currentArchetype.table.Entry(c.entityIndex - 1)
	if err != nil {
		return 0, false
	}
	return uint32(entry.ID()), true
}

// currentEntityEnabled reports whether the entity at the cursor's current
// position should be yielded, honoring includeDisabled and any attached
// post-filters. A snapshot id whose entity no longer resolves (destroyed
// since the snapshot was taken) is skipped rather than yielded; a live
// cursor's lookup failure keeps its historical behavior of yielding
// anyway, since advance() only ever positions it on a real table slot.
func (c *Cursor) currentEntityEnabled() bool {
	en, err := c.CurrentEntity()
	if err != nil {
		return !c.snapshotMode
	}
	if !en.Valid() {
		return false
	}
	if !c.includeDisabled && !en.Enabled() {
		return false
	}
	for _, check := range c.postFilters {
		if !check(uint32(en.ID())) {
			return false
		}
	}
	return true
}

// advance moves to the next available archetype with entities
func (c *Cursor) advance() bool {
	if !c.initialized {
		c.Initialize()
	}

	for c.storageIndex < len(c.matchedStorages) {
		c.currentArchetype = c.matchedStorages[c.storageIndex]
		c.remaining = c.currentArchetype.table.Length()
		if c.entityIndex < c.remaining {
			c.entityIndex++
			return true
		}
		c.storageIndex++
		c.entityIndex = 0
	}

	c.Reset()
	return false
}

// Entities returns an iterator sequence over entities matching the query.
// Not supported in snapshot mode (a snapshot's ids may span archetypes
// with no single backing table to hand the iterator); use Next/
// CurrentEntity instead for a snapshot Cursor.
func (c *Cursor) Entities() iter.Seq2[int, table.Table] {
	return func(yield func(int, table.Table) bool) {
		if c.snapshotMode {
			return
		}
		c.Initialize()

		for c.storageIndex < len(c.matchedStorages) {
			c.currentArchetype = c.matchedStorages[c.storageIndex]
			c.remaining = c.currentArchetype.table.Length()

			for c.entityIndex < c.remaining {
				if !yield(c.entityIndex, c.currentArchetype.table) {
					c.Reset()
					return
				}
				c.entityIndex++
			}

			c.entityIndex = 0
			c.storageIndex++
		}

		c.Reset()
	}
}

// Initialize sets up the cursor by finding matching archetypes
func (c *Cursor) Initialize() {
	if c.initialized {
		return
	}

	c.storage.AddLock(cursorLockBit)

	if c.precomputed != nil {
		c.matchedStorages = c.precomputed
	} else {
		c.matchedStorages = make([]ArchetypeImpl, 0)
		for _, arch := range c.storage.Archetypes() {
			if c.query.Evaluate(arch, c.storage) {
				c.matchedStorages = append(c.matchedStorages, arch)
			}
		}
	}

	if len(c.matchedStorages) > 0 {
		c.storageIndex = 0
		c.currentArchetype = c.matchedStorages[0]
		c.remaining = c.currentArchetype.table.Length()
	}

	c.initialized = true
}

// Reset clears cursor state and releases the storage lock. A no-op for a
// snapshot cursor, which never takes the lock.
func (c *Cursor) Reset() {
	if c.snapshotMode {
		c.snapshotPos = -1
		return
	}
	c.storageIndex = 0
	c.entityIndex = 0
	c.remaining = 0
	c.matchedStorages = nil
	c.initialized = false
	c.storage.RemoveLock(cursorLockBit)
}

// CurrentEntity returns the entity at the current cursor position
func (c *Cursor) CurrentEntity() (Entity, error) {
	id, ok := c.currentID()
	if !ok {
		return nil, fmt.Errorf("cursor has no current entity")
	}
	return c.storage.Entity(int(id))
}

// EntityAtOffset returns an entity at the specified offset from current position
func (c *Cursor) EntityAtOffset(offset int) (Entity, error) {
	if c.snapshotMode {
		pos := c.snapshotPos + offset
		if pos < 0 || pos >= len(c.snapshotIDs) {
			return nil, fmt.Errorf("offset %d out of range", offset)
		}
		return c.storage.Entity(int(c.snapshotIDs[pos]))
	}
	entry, err := c.currentArchetype.table.Entry(c.entityIndex - 1 + offset)
	if err != nil {
		return nil, err
	}
	entityID := entry.ID()
	return c.storage.Entity(int(entityID))
}

// EntityIndex returns the current entity index within the current archetype
// (or within the snapshot set, for a snapshot cursor).
func (c *Cursor) EntityIndex() int {
	if c.snapshotMode {
		return c.snapshotPos
	}
	return c.entityIndex
}

// RemainingInArchetype returns the number of entities left in the current
// archetype (or left in the snapshot set, for a snapshot cursor).
func (c *Cursor) RemainingInArchetype() int {
	if c.snapshotMode {
		return len(c.snapshotIDs) - c.snapshotPos - 1
	}
	return c.remaining - c.entityIndex
}

// TotalMatched returns the total number of entities matching the query.
func (c *Cursor) TotalMatched() int {
	if c.snapshotMode {
		return len(c.snapshotIDs)
	}

	if !c.initialized {
		c.Initialize()
	}

	total := 0
	for _, arch := range c.matchedStorages {
		total += arch.table.Length()
	}

	c.Reset()
	return total
}
