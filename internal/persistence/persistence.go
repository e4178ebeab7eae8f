package persistence

// Persistence bundles the store interfaces so the engine and the
// exception recorder can depend on a single value.
type Persistence struct {
	Instances  InstanceStore
	Steps      StepStore
	Exceptions ExceptionStore
}

// NewInMemory returns a Persistence backed by a single InMemoryStore.
func NewInMemory() Persistence {
	s := NewInMemoryStore()
	return Persistence{Instances: s, Steps: s, Exceptions: s}
}
