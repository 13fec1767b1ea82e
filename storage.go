package ecs

import (
	"fmt"

	"github.com/TheBitDrifter/mask"
	"github.com/TheBitDrifter/table"
)

// Ensure storage implements Storage interface
var _ Storage = &storage{}

// cursorLockBit is the lock bit reserved for query cursors so iteration
// never observes a structural mutation mid-pass. User code locks/unlocks
// with its own bits via AddLock/RemoveLock.
const cursorLockBit uint32 = 0

// Storage defines the interface for entity storage and manipulation.
// Each Storage owns its own entity table and entry index: scenes built on
// independent Storages never share entity identity, so multiple scenes
// can coexist in the same process (spec: Scene is the unit of isolation).
type Storage interface {
	Entity(id int) (Entity, error)
	NewEntities(int, ...Component) ([]Entity, error)
	NewOrExistingArchetype(components ...Component) (Archetype, error)
	EnqueueNewEntities(int, ...Component) error
	DestroyEntities(...Entity) error
	EnqueueDestroyEntities(...Entity) error
	RowIndexFor(Component) uint32
	Locked() bool
	AddLock(bit uint32)
	RemoveLock(bit uint32)
	Register(...Component)

	// ArchetypeVersion increments every time a new archetype is created.
	// Matcher uses it to invalidate its per-storage archetype result cache
	// without rescanning on every Build call.
	ArchetypeVersion() int

	TransferEntities(target Storage, entities ...Entity) error
	Enqueue(EntityOperation)

	// Drain applies any operations queued via Enqueue, if storage is
	// fully unlocked. The Scheduler calls this once per tick so
	// operations enqueued off its own goroutine (e.g. a Worker Entity
	// System's write-back) are guaranteed to apply on the scheduler
	// thread even absent an incidental lock/unlock cycle that tick.
	Drain() error

	Archetypes() []ArchetypeImpl

	tableFor(...Component) (table.Table, error)
	entryIndex() table.EntryIndex
}

// storage implements the Storage interface
type storage struct {
	locks          mask.Mask256
	schema         table.Schema
	archetypes     *archetypes
	operationQueue EntityOperationsQueue
	entries        table.EntryIndex
	entities       []entity
	archVersion    int
}

// archetypes manages archetype collections and identification
type archetypes struct {
	nextID           archetypeID
	asSlice          []ArchetypeImpl
	idsGroupedByMask map[mask.Mask]archetypeID
}

// newStorage creates a new Storage implementation with the given schema
func newStorage(schema table.Schema) Storage {
	arches := &archetypes{
		nextID:           1,
		idsGroupedByMask: make(map[mask.Mask]archetypeID),
	}
	return &storage{
		archetypes:     arches,
		schema:         schema,
		operationQueue: &entityOperationsQueue{},
		entries:        table.Factory.NewEntryIndex(),
	}
}

// Entity retrieves an entity by ID
func (sto *storage) Entity(id int) (Entity, error) {
	if id < 1 || id > len(sto.entities) {
		return nil, fmt.Errorf("no entity with id %d", id)
	}
	return &sto.entities[id-1], nil
}

// entryIndex exposes the storage's entry index for entity handles.
func (sto *storage) entryIndex() table.EntryIndex {
	return sto.entries
}

// maskFor registers the given components and computes their combined mask.
func (sto *storage) maskFor(components ...Component) mask.Mask {
	var m mask.Mask
	for _, component := range components {
		sto.schema.Register(component)
		bit := sto.schema.RowIndexFor(component)
		m.Mark(bit)
	}
	return m
}

// NewOrExistingArchetype gets an existing archetype matching the component signature or creates a new one
func (sto *storage) NewOrExistingArchetype(components ...Component) (Archetype, error) {
	entityMask := sto.maskFor(components...)
	id, archetypeFound := sto.archetypes.idsGroupedByMask[entityMask]
	if archetypeFound {
		return sto.archetypes.asSlice[id-1], nil
	}

	created, err := newArchetype(sto, sto.entries, sto.archetypes.nextID, components...)
	if err != nil {
		return nil, err
	}
	sto.archetypes.asSlice = append(sto.archetypes.asSlice, created)
	sto.archetypes.idsGroupedByMask[entityMask] = created.id
	sto.archetypes.nextID++
	sto.archVersion++
	return created, nil
}

// ArchetypeVersion returns the current archetype-creation version.
func (sto *storage) ArchetypeVersion() int {
	return sto.archVersion
}

// NewEntities creates n new entities with the specified components
func (sto *storage) NewEntities(n int, components ...Component) ([]Entity, error) {
	if sto.Locked() {
		return nil, LockedStorageError{}
	}
	entityArchetype, err := sto.NewOrExistingArchetype(components...)
	if err != nil {
		return nil, err
	}
	entries, err := entityArchetype.Table().NewEntries(n)
	if err != nil {
		return nil, err
	}

	currentLen := len(sto.entities)
	neededCap := currentLen + n
	if cap(sto.entities) < neededCap {
		newCap := max(neededCap, 2*cap(sto.entities))
		newEntities := make([]entity, currentLen, newCap)
		copy(newEntities, sto.entities)
		sto.entities = newEntities
	}
	sto.entities = sto.entities[:neededCap]

	entities := make([]Entity, n)
	for i, entry := range entries {
		sto.entities[currentLen+i] = entity{
			Entry:      entry,
			sto:        sto,
			id:         entry.ID(),
			components: append([]Component{}, components...),
			enabled:    true,
		}
		entities[i] = &sto.entities[currentLen+i]
	}

	return entities, nil
}

// RowIndexFor returns the bit index for a component in the schema
func (sto *storage) RowIndexFor(c Component) uint32 {
	return sto.schema.RowIndexFor(c)
}

// Locked checks if the storage is currently locked
func (sto *storage) Locked() bool {
	return !sto.locks.IsEmpty()
}

// AddLock marks the given bit as held, preventing structural mutation.
func (sto *storage) AddLock(bit uint32) {
	sto.locks.Mark(bit)
}

// RemoveLock releases a specific bit lock and drains queued operations if
// fully unlocked
func (sto *storage) RemoveLock(bit uint32) {
	sto.locks.Unmark(bit)

	// Only drain once no locks remain
	if sto.locks.IsEmpty() {
		if err := sto.Drain(); err != nil {
			logger().WithError(err).Error("failed to process queued entity operations")
		}
	}
}

// Drain applies any operations queued via Enqueue, provided storage is
// currently fully unlocked.
func (sto *storage) Drain() error {
	return sto.operationQueue.ProcessAll(sto)
}

// EnqueueNewEntities either creates entities immediately or queues creation if storage is locked
func (sto *storage) EnqueueNewEntities(count int, components ...Component) error {
	if !sto.Locked() {
		_, err := sto.NewEntities(count, components...)
		if err != nil {
			return fmt.Errorf("failed to create entities directly: %w", err)
		}
		return nil
	}
	sto.operationQueue.Enqueue(
		NewEntityOperation{
			count:      count,
			components: components,
		},
	)
	return nil
}

// DestroyEntities removes entities from storage
func (sto *storage) DestroyEntities(entities ...Entity) error {
	if sto.Locked() {
		return LockedStorageError{}
	}
	tableGroups := make(map[table.Table][]int)
	for _, en := range entities {
		if en == nil || !en.Valid() {
			continue
		}
		tableGroups[en.Table()] = append(tableGroups[en.Table()], en.Index())
	}
	for tbl, indices := range tableGroups {
		if _, err := tbl.DeleteEntries(indices...); err != nil {
			return fmt.Errorf("failed to delete entries: %w", err)
		}
	}
	for _, en := range entities {
		if en == nil {
			continue
		}
		index := int(en.ID()) - 1
		if index >= 0 && index < len(sto.entities) {
			sto.entities[index] = entity{}
		}
	}
	return nil
}

// EnqueueDestroyEntities either destroys entities immediately or queues destruction if storage is locked
func (sto *storage) EnqueueDestroyEntities(entities ...Entity) error {
	if !sto.Locked() {
		return sto.DestroyEntities(entities...)
	}
	for _, en := range entities {
		sto.operationQueue.Enqueue(
			DestroyEntityOperation{
				entity:   en,
				recycled: en.Recycled(),
			})
	}
	return nil
}

// TransferEntities moves entities from this storage to the target storage
func (sto *storage) TransferEntities(target Storage, entities ...Entity) error {
	if sto.Locked() {
		return LockedStorageError{}
	}
	for _, en := range entities {
		comps := en.Components()
		target.Register(comps...)
		targetTbl, err := target.tableFor(comps...)
		if err != nil {
			return err
		}

		if err := en.Table().TransferEntries(targetTbl, en.Index()); err != nil {
			return err
		}
		en.SetStorage(target)
	}
	return nil
}

// Register adds components to the storage schema
func (sto *storage) Register(comps ...Component) {
	ets := make([]table.ElementType, len(comps))
	for i, c := range comps {
		ets[i] = c
	}
	sto.schema.Register(ets...)
}

// Enqueue adds an operation to the queue
func (sto *storage) Enqueue(op EntityOperation) {
	sto.operationQueue.Enqueue(op)
}

// Archetypes returns all archetypes in this storage
func (sto *storage) Archetypes() []ArchetypeImpl {
	return sto.archetypes.asSlice
}

// tableFor gets or creates a table for the given component set
func (sto *storage) tableFor(comps ...Component) (table.Table, error) {
	arche, err := sto.NewOrExistingArchetype(comps...)
	if err != nil {
		return nil, err
	}
	return arche.Table(), nil
}
