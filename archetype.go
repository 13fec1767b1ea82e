package ecs

import "github.com/TheBitDrifter/table"

type archetypeID uint32

// Archetype is the group of entities sharing an identical component mask,
// stored contiguously in a single backing table.
type Archetype interface {
	ID() uint32
	Table() table.Table
}

// ArchetypeImpl is the concrete Archetype backing a single component
// signature within a Storage.
type ArchetypeImpl struct {
	id    archetypeID
	table table.Table
}

// newArchetype builds a new archetype backed by a fresh table scoped to
// the owning storage's schema and entry index.
func newArchetype(sto *storage, entryIndex table.EntryIndex, id archetypeID, components ...Component) (ArchetypeImpl, error) {
	elementTypes := make([]table.ElementType, len(components))
	for i, comp := range components {
		elementTypes[i] = comp
	}
	tbl, err := table.NewTableBuilder().
		WithSchema(sto.schema).
		WithEntryIndex(entryIndex).
		WithElementTypes(elementTypes...).
		WithEvents(Config.tableEvents).
		Build()
	if err != nil {
		return ArchetypeImpl{}, err
	}
	return ArchetypeImpl{
		table: tbl,
		id:    id,
	}, nil
}

// ID returns the archetype's dense identifier within its storage.
func (a ArchetypeImpl) ID() uint32 {
	return uint32(a.id)
}

// Table returns the backing table for this archetype.
func (a ArchetypeImpl) Table() table.Table {
	return a.table
}
