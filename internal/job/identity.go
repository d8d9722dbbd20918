package job

// Identity pairs the adapter-internal job name with the scheduler-assigned
// external id. Until submission output has been parsed the identity is
// provisional; the external id is only reachable once confirmed, so an
// unset id cannot be used by accident.
type Identity struct {
	internal  string
	external  string
	confirmed bool
}

// Provisional creates an identity known only by its internal name.
func Provisional(internal string) Identity {
	return Identity{internal: internal}
}

// Confirm returns a copy of the identity carrying the external id.
func (id Identity) Confirm(external string) Identity {
	id.external = external
	id.confirmed = true
	return id
}

// Internal returns the adapter-internal job name.
func (id Identity) Internal() string { return id.internal }

// External returns the scheduler-assigned id and whether it is known yet.
func (id Identity) External() (string, bool) {
	return id.external, id.confirmed
}
