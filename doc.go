/*
Package ecs provides an Entity-Component-System (ECS) framework for games and simulations.

ecsforge offers a performant approach to managing game entities through component-based design.
It's built on an archetype-based storage system that keeps entities with the same component types
together for optimal cache utilization.

Core Concepts:

  - Entity: A unique identifier that represents a game object.
  - Component: A data container that defines entity attributes.
  - Archetype: A collection of entities sharing the same component types.
  - Query: A way to find entities with specific component combinations.

Basic Usage:

	// Create storage with schema
	schema := table.Factory.NewSchema()
	storage := ecs.Factory.NewStorage(schema)

	// Define components
	position := ecs.FactoryNewComponent[Position]()
	velocity := ecs.FactoryNewComponent[Velocity]()

	// Create entities
	entities, _ := storage.NewEntities(100, position, velocity)

	// Query entities and process them
	query := ecs.Factory.NewQuery()
	queryNode := query.And(position, velocity)
	cursor := ecs.Factory.NewCursor(queryNode, storage)

	for cursor.Next() {
		pos := position.GetFromCursor(cursor)
		vel := velocity.GetFromCursor(cursor)
		pos.X += vel.X
		pos.Y += vel.Y
	}

Beyond storage and queries, ecsforge provides a Scene (entity manager +
archetype index + system scheduler + event bus, the unit of isolation),
a System Scheduler with ordered begin/process/end lifecycles, a typed
Event Bus with priority/once/batching semantics, and an opt-in
Structure-of-Arrays storage strategy for components that need packed
numeric columns for vectorized field access.
*/
package ecs
