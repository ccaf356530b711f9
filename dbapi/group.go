package dbapi

import (
	"go.uber.org/multierr"

	"github.com/tomyedwab/fbdriver/dberr"
)

// ConnectionGroup runs one distributed transaction across its member
// connections. A connection belongs to at most one group, a group holds at
// most MaxAttachments members, and membership is frozen while the group
// transaction is active.
type ConnectionGroup struct {
	handle  Handle
	members []Handle
	tr      Handle
	tpb     []byte
	closed  bool
}

// NewConnectionGroup creates a group holding conns. tpb nil uses the first
// member's default transaction parameters.
func NewConnectionGroup(tpb []byte, conns ...*Connection) (*ConnectionGroup, error) {
	g := &ConnectionGroup{tpb: tpb}
	g.handle = groups.add(g)
	for _, c := range conns {
		if err := g.Add(c); err != nil {
			g.Disband()
			return nil, err
		}
	}
	return g, nil
}

// Handle returns the arena handle of g.
func (g *ConnectionGroup) Handle() Handle { return g.handle }

// Members returns the live member connections.
func (g *ConnectionGroup) Members() []*Connection {
	return connections.resolve(g.members)
}

// Count returns the number of members.
func (g *ConnectionGroup) Count() int { return len(g.members) }

// Contains reports whether c is a member.
func (g *ConnectionGroup) Contains(c *Connection) bool {
	for _, h := range g.members {
		if h == c.handle {
			return true
		}
	}
	return false
}

// Active reports whether the group transaction is running.
func (g *ConnectionGroup) Active() bool {
	t, ok := transactions.get(g.tr)
	return ok && t.active
}

func (g *ConnectionGroup) checkMutable() error {
	if g.closed {
		return dberr.NewInterfaceError("connection group is disbanded")
	}
	if g.Active() {
		return dberr.NewInterfaceError("cannot change group membership while the group transaction is active")
	}
	return nil
}

// Add makes c a member.
func (g *ConnectionGroup) Add(c *Connection) error {
	if err := g.checkMutable(); err != nil {
		return err
	}
	if c == nil || c.closed {
		return dberr.NewInterfaceError("cannot add a closed connection to a group")
	}
	if g.Contains(c) {
		return nil
	}
	if c.group != 0 && groups.alive(c.group) {
		return dberr.NewInterfaceError("connection %d already belongs to group %d", c.handle, c.group)
	}
	if len(g.members) >= MaxAttachments {
		return dberr.NewInterfaceError("a connection group holds at most %d connections", MaxAttachments)
	}
	if err := g.dropTransaction(); err != nil {
		return err
	}
	g.members = append(g.members, c.handle)
	c.group = g.handle
	return nil
}

// Remove takes c out of the group.
func (g *ConnectionGroup) Remove(c *Connection) error {
	if err := g.checkMutable(); err != nil {
		return err
	}
	if !g.Contains(c) {
		return dberr.NewInterfaceError("connection %d is not a member of the group", c.handle)
	}
	if err := g.dropTransaction(); err != nil {
		return err
	}
	g.members = removeHandle(g.members, c.handle)
	c.group = 0
	return nil
}

// Clear removes every member.
func (g *ConnectionGroup) Clear() error {
	if err := g.checkMutable(); err != nil {
		return err
	}
	var err error
	for _, c := range g.Members() {
		err = multierr.Append(err, g.Remove(c))
	}
	g.members = nil
	return err
}

// dropTransaction closes the group transaction so the next use creates
// one over the current members.
func (g *ConnectionGroup) dropTransaction() error {
	t, ok := transactions.get(g.tr)
	g.tr = 0
	if !ok {
		return nil
	}
	return t.Close()
}

// Transaction returns the group transaction, creating it over the current
// members if needed.
func (g *ConnectionGroup) Transaction() (*Transaction, error) {
	if g.closed {
		return nil, dberr.NewInterfaceError("connection group is disbanded")
	}
	if t, ok := transactions.get(g.tr); ok {
		return t, nil
	}
	members := g.Members()
	if len(members) != len(g.members) {
		return nil, dberr.NewInterfaceError("a member of the group has been closed")
	}
	t, err := NewTransaction(members, g.tpb)
	if err != nil {
		return nil, err
	}
	t.group = g.handle
	g.tr = t.handle
	return t, nil
}

// Begin starts the group transaction on every member.
func (g *ConnectionGroup) Begin(tpb []byte) error {
	t, err := g.Transaction()
	if err != nil {
		return err
	}
	return t.Begin(tpb)
}

// Prepare runs the first phase of the two-phase commit.
func (g *ConnectionGroup) Prepare() error {
	t, err := g.Transaction()
	if err != nil {
		return err
	}
	return t.Prepare()
}

// Commit commits on every member, preparing first when needed.
func (g *ConnectionGroup) Commit(retaining bool) error {
	t, err := g.Transaction()
	if err != nil {
		return err
	}
	return t.Commit(retaining)
}

// Rollback rolls back on every member.
func (g *ConnectionGroup) Rollback(retaining bool) error {
	t, err := g.Transaction()
	if err != nil {
		return err
	}
	return t.Rollback(retaining)
}

// Savepoint creates a savepoint on every member.
func (g *ConnectionGroup) Savepoint(name string) error {
	t, err := g.Transaction()
	if err != nil {
		return err
	}
	return t.Savepoint(name)
}

// Cursor opens a cursor on member conn within the group transaction.
func (g *ConnectionGroup) Cursor(conn *Connection) (*Cursor, error) {
	if conn == nil || !g.Contains(conn) {
		return nil, dberr.NewInterfaceError("a group cursor needs a member connection")
	}
	t, err := g.Transaction()
	if err != nil {
		return nil, err
	}
	return t.Cursor(conn)
}

// Disband closes the group transaction, resolving it with its default
// action, and releases every member.
func (g *ConnectionGroup) Disband() error {
	if g.closed {
		return nil
	}
	err := g.dropTransaction()
	for _, c := range g.Members() {
		c.group = 0
	}
	g.members = nil
	g.closed = true
	groups.remove(g.handle)
	return err
}
