package brick

// Instance is a brick tuple: {vtable, state, name} (spec §3, "Brick
// instance"). A Subvolume is just an Instance referenced by another brick.
type Instance struct {
	Name  string
	Ops   *Ops
	State any

	halt HaltFunc
}

// Call returns a Context pointed at this instance's state, for invoking
// one of its own Ops from outside (e.g. a mount bridge populating a fresh
// Context per host call).
func (i *Instance) Call(uid, gid uint32) *Context {
	return &Context{UID: uid, GID: gid, State: i.State}
}

// String identifies the instance in log lines and panics, never in control
// flow.
func (i *Instance) String() string {
	if i == nil {
		return "<nil brick>"
	}
	return i.Name
}
