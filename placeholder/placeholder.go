// Package placeholder implements the "only known keys" substitution engine:
// a ${name} token is replaced only when name is a recognized built-in or a
// user-registered key, and is otherwise left verbatim. This is the one
// deliberate departure from the reference tool, which substitutes (and
// errors on) every ${...} token it sees.
package placeholder

import "regexp"

// Namespace is the prefix under which built-in keys are recognized.
const Namespace = "flyway:"

// Built-in key names, without the namespace prefix.
const (
	KeyDefaultSchema = "defaultSchema"
	KeyTimestamp     = "timestamp"
	KeyDatabase      = "database"
	KeyUser          = "user"
	KeyFilename      = "filename"
	KeyTable         = "table"
)

// Context supplies the values for built-in flyway: keys. Only keys set
// through a With* setter are registered (an empty value set that way is
// substituted as empty); a key whose setter wasn't used passes through
// verbatim, e.g. ${flyway:filename} when WithFilename wasn't called, even if
// the Filename field was assigned directly.
type Context struct {
	DefaultSchema string
	Timestamp     string
	Database      string
	User          string
	Filename      string
	Table         string
	set           map[string]bool // which fields were explicitly set
}

// NewContext returns a Context with no built-ins set. Use the With* setters
// to register values; unset built-ins pass ${flyway:...} through verbatim.
func NewContext() Context {
	return Context{set: make(map[string]bool)}
}

func (c Context) with(key, value string) Context {
	c2 := Context{
		DefaultSchema: c.DefaultSchema,
		Timestamp:     c.Timestamp,
		Database:      c.Database,
		User:          c.User,
		Filename:      c.Filename,
		Table:         c.Table,
		set:           make(map[string]bool, len(c.set)+1),
	}
	for k, v := range c.set {
		c2.set[k] = v
	}
	c2.set[key] = true
	switch key {
	case KeyDefaultSchema:
		c2.DefaultSchema = value
	case KeyTimestamp:
		c2.Timestamp = value
	case KeyDatabase:
		c2.Database = value
	case KeyUser:
		c2.User = value
	case KeyFilename:
		c2.Filename = value
	case KeyTable:
		c2.Table = value
	}
	return c2
}

// WithDefaultSchema registers ${flyway:defaultSchema}.
func (c Context) WithDefaultSchema(v string) Context { return c.with(KeyDefaultSchema, v) }

// WithTimestamp registers ${flyway:timestamp}.
func (c Context) WithTimestamp(v string) Context { return c.with(KeyTimestamp, v) }

// WithDatabase registers ${flyway:database}.
func (c Context) WithDatabase(v string) Context { return c.with(KeyDatabase, v) }

// WithUser registers ${flyway:user}.
func (c Context) WithUser(v string) Context { return c.with(KeyUser, v) }

// WithFilename registers ${flyway:filename}.
func (c Context) WithFilename(v string) Context { return c.with(KeyFilename, v) }

// WithTable registers ${flyway:table}.
func (c Context) WithTable(v string) Context { return c.with(KeyTable, v) }

func (c Context) lookupBuiltin(name string) (string, bool) {
	if c.set == nil {
		return "", false
	}
	switch name {
	case KeyDefaultSchema:
		return c.DefaultSchema, c.set[KeyDefaultSchema]
	case KeyTimestamp:
		return c.Timestamp, c.set[KeyTimestamp]
	case KeyDatabase:
		return c.Database, c.set[KeyDatabase]
	case KeyUser:
		return c.User, c.set[KeyUser]
	case KeyFilename:
		return c.Filename, c.set[KeyFilename]
	case KeyTable:
		return c.Table, c.set[KeyTable]
	default:
		return "", false
	}
}

// rePlaceholder matches ${name}, non-greedy over the closing brace, where
// name is any non-empty run of characters excluding '}'.
var rePlaceholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// Substitute performs a single left-to-right pass over sql, replacing each
// ${name} whose name is either present in userMap (which shadows a built-in
// of the same name) or is a registered flyway: built-in in ctx. Every other
// ${...} sequence, recognized or not, is copied through verbatim; no nested
// expansion of a replacement value is performed.
func Substitute(sql string, userMap map[string]string, ctx Context) string {
	return rePlaceholder.ReplaceAllStringFunc(sql, func(token string) string {
		name := token[2 : len(token)-1]
		if v, ok := userMap[name]; ok {
			return v
		}
		if after, ok := cutNamespace(name); ok {
			if v, ok := ctx.lookupBuiltin(after); ok {
				return v
			}
		}
		return token
	})
}

func cutNamespace(name string) (string, bool) {
	if len(name) <= len(Namespace) || name[:len(Namespace)] != Namespace {
		return "", false
	}
	return name[len(Namespace):], true
}
