package operations

import (
	"github.com/pkg/errors"
)

var ErrUnknownOperation = errors.New("unknown operation")

// Catalogue is the immutable, ordered set of operations offered to the model.
type Catalogue struct {
	ops    []*Operation
	byName map[string]*Operation
}

func NewCatalogue(ops ...*Operation) (*Catalogue, error) {
	c := &Catalogue{byName: map[string]*Operation{}}
	for _, o := range ops {
		if o == nil {
			continue
		}
		if _, ok := c.byName[o.Name]; ok {
			return nil, errors.Errorf("duplicate operation %s", o.Name)
		}
		c.byName[o.Name] = o
		c.ops = append(c.ops, o)
	}
	return c, nil
}

// Lookup returns the named operation or an error wrapping ErrUnknownOperation.
func (c *Catalogue) Lookup(name string) (*Operation, error) {
	if c != nil {
		if o, ok := c.byName[name]; ok {
			return o, nil
		}
	}
	return nil, errors.Wrapf(ErrUnknownOperation, "Called function %s doesn't exist.", name)
}

func (c *Catalogue) Has(name string) bool {
	if c == nil {
		return false
	}
	_, ok := c.byName[name]
	return ok
}

func (c *Catalogue) Len() int {
	if c == nil {
		return 0
	}
	return len(c.ops)
}

func (c *Catalogue) List() []*Operation {
	if c == nil {
		return nil
	}
	return append([]*Operation(nil), c.ops...)
}

func (c *Catalogue) Names() []string {
	ret := make([]string, 0, c.Len())
	for _, o := range c.List() {
		ret = append(ret, o.Name)
	}
	return ret
}

// ReadOnly returns the names of the operations that do not change the chat.
func (c *Catalogue) ReadOnly() []string {
	var ret []string
	for _, o := range c.List() {
		if o.ReadOnly {
			ret = append(ret, o.Name)
		}
	}
	return ret
}

// Subset returns a catalogue restricted to names, keeping the catalogue
// order. An empty list selects every operation.
func (c *Catalogue) Subset(names []string) (*Catalogue, error) {
	if len(names) == 0 {
		return c, nil
	}
	selected := map[string]bool{}
	for _, n := range names {
		if !c.Has(n) {
			return nil, errors.Wrapf(ErrUnknownOperation, "cannot enable %s", n)
		}
		selected[n] = true
	}
	var ops []*Operation
	for _, o := range c.ops {
		if selected[o.Name] {
			ops = append(ops, o)
		}
	}
	return NewCatalogue(ops...)
}
