// Package snapshot captures object graphs as serializable trees of their
// array projections and encodes them as canonical CBOR.
//
// A snapshot holds one record per reachable object, keyed by object id, so
// shared objects and cycles are captured once. Restore rebuilds the graph
// in a (possibly different) runtime.
package snapshot

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/objcore/vm"
)

var log = commonlog.GetLogger("objcore.snapshot")

// MaxDepth bounds nesting of arrays inside a single projection.
const MaxDepth = 64

var (
	ErrTooDeep     = errors.New("snapshot: array nesting too deep")
	ErrUnknownRoot = errors.New("snapshot: root object missing")
	ErrBadNode     = errors.New("snapshot: malformed node")
)

// Snapshot is a captured object graph.
type Snapshot struct {
	Task    string   `cbor:"1,keyasint"`
	Root    uint32   `cbor:"2,keyasint"`
	Objects []Record `cbor:"3,keyasint"`
}

// Record is one captured object: its class and projected properties in
// projection order. Keys keep their visibility mangling.
type Record struct {
	ID    uint32  `cbor:"1,keyasint"`
	Class string  `cbor:"2,keyasint"`
	Props []Entry `cbor:"3,keyasint,omitempty"`
}

// Entry is one key/value pair of an array.
type Entry struct {
	Key   string `cbor:"1,keyasint"`
	Value Node   `cbor:"2,keyasint"`
}

// Node is a captured value. Refs are flattened to their target; objects
// are stored as the id of their Record.
type Node struct {
	Kind   vm.Kind `cbor:"1,keyasint"`
	Bool   bool    `cbor:"2,keyasint,omitempty"`
	Int    int64   `cbor:"3,keyasint,omitempty"`
	Double float64 `cbor:"4,keyasint,omitempty"`
	Str    string  `cbor:"5,keyasint,omitempty"`
	Object uint32  `cbor:"6,keyasint,omitempty"`
	Array  []Entry `cbor:"7,keyasint,omitempty"`
}

// Lookup returns the record for id, or nil.
func (s *Snapshot) Lookup(id uint32) *Record {
	for i := range s.Objects {
		if s.Objects[i].ID == id {
			return &s.Objects[i]
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Capture
// ---------------------------------------------------------------------------

type capturer struct {
	rt    *vm.Runtime
	seen  map[uint32]bool
	queue []*vm.Object
}

// Capture walks the graph reachable from root. Objects whose class defines
// __sleep contribute only the properties it names.
func Capture(rt *vm.Runtime, root *vm.Object) (*Snapshot, error) {
	c := &capturer{rt: rt, seen: map[uint32]bool{}}
	snap := &Snapshot{Task: rt.ID.String(), Root: root.ID()}
	c.enqueue(root)
	for len(c.queue) > 0 {
		obj := c.queue[0]
		c.queue = c.queue[1:]
		rec, err := c.record(obj)
		if err != nil {
			return nil, fmt.Errorf("snapshot: capturing %s#%d: %w", obj.ClassName(), obj.ID(), err)
		}
		snap.Objects = append(snap.Objects, rec)
	}
	log.Debugf("captured %d objects from %s#%d", len(snap.Objects), root.ClassName(), root.ID())
	return snap, nil
}

func (c *capturer) enqueue(obj *vm.Object) {
	if c.seen[obj.ID()] {
		return
	}
	c.seen[obj.ID()] = true
	c.queue = append(c.queue, obj)
}

func (c *capturer) record(obj *vm.Object) (Record, error) {
	arr, err := c.rt.ToArray(obj, false)
	if err != nil {
		return Record{}, err
	}
	defer arr.Discard()

	keep, err := c.sleepFilter(obj)
	if err != nil {
		return Record{}, err
	}

	rec := Record{ID: obj.ID(), Class: obj.ClassName()}
	var walkErr error
	arr.Each(func(key string, v vm.Value) bool {
		if keep != nil {
			if _, name := vm.UnmangleName(key); !keep[name] {
				return true
			}
		}
		var n Node
		if n, walkErr = c.node(v, 0); walkErr != nil {
			return false
		}
		rec.Props = append(rec.Props, Entry{Key: key, Value: n})
		return true
	})
	return rec, walkErr
}

// sleepFilter returns the property names selected by __sleep, or nil if the
// class does not define it.
func (c *capturer) sleepFilter(obj *vm.Object) (map[string]bool, error) {
	v, ok, err := c.rt.InvokeSleep(obj)
	if err != nil || !ok {
		return nil, err
	}
	keep := map[string]bool{}
	if names := v.Deref().Array(); names != nil {
		defer names.Discard()
		names.Each(func(_ string, n vm.Value) bool {
			s, err := c.rt.ToStringValue(n.Deref())
			if err == nil {
				keep[s] = true
			}
			return true
		})
	}
	return keep, nil
}

func (c *capturer) node(v vm.Value, depth int) (Node, error) {
	v = v.Deref()
	n := Node{Kind: v.Kind()}
	switch v.Kind() {
	case vm.KindUninit:
		n.Kind = vm.KindNull
	case vm.KindBool:
		n.Bool = v.Bool()
	case vm.KindInt:
		n.Int = v.Int()
	case vm.KindDouble:
		n.Double = v.Double()
	case vm.KindString:
		n.Str = v.Str()
	case vm.KindObject:
		obj := v.Object()
		n.Object = obj.ID()
		c.enqueue(obj)
	case vm.KindArray:
		if depth >= MaxDepth {
			return Node{}, ErrTooDeep
		}
		var err error
		v.Array().Each(func(key string, e vm.Value) bool {
			var child Node
			if child, err = c.node(e, depth+1); err != nil {
				return false
			}
			n.Array = append(n.Array, Entry{Key: key, Value: child})
			return true
		})
		if err != nil {
			return Node{}, err
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Restore
// ---------------------------------------------------------------------------

// Restore rebuilds the captured graph in rt and returns the root, owned by
// the caller. Records whose class is registered in rt (and is not a
// built-in kind) become instances of that class; the rest become plain
// property bags. __wakeup runs on every restored object after all
// properties are set.
func Restore(rt *vm.Runtime, snap *Snapshot) (*vm.Object, error) {
	if snap.Lookup(snap.Root) == nil {
		return nil, fmt.Errorf("%w: #%d", ErrUnknownRoot, snap.Root)
	}

	objs := make(map[uint32]*vm.Object, len(snap.Objects))
	release := func() {
		for _, obj := range objs {
			obj.DecRef()
		}
	}
	for _, rec := range snap.Objects {
		cls := rt.Classes.Lookup(rec.Class)
		if cls == nil || cls.Finalize().Kind != vm.BuiltinNone {
			cls = rt.StdClass()
		}
		obj, err := rt.NewInstance(cls)
		if err != nil {
			release()
			return nil, fmt.Errorf("snapshot: restoring %s#%d: %w", rec.Class, rec.ID, err)
		}
		objs[rec.ID] = obj
	}

	for _, rec := range snap.Objects {
		obj := objs[rec.ID]
		props, err := restoreArray(rec.Props, objs)
		if err == nil {
			err = obj.RestoreProps(props)
			props.Discard()
		}
		if err != nil {
			release()
			return nil, fmt.Errorf("snapshot: restoring %s#%d: %w", rec.Class, rec.ID, err)
		}
	}

	for _, rec := range snap.Objects {
		if _, err := rt.InvokeWakeup(objs[rec.ID]); err != nil {
			release()
			return nil, fmt.Errorf("snapshot: waking %s#%d: %w", rec.Class, rec.ID, err)
		}
	}

	root := objs[snap.Root]
	delete(objs, snap.Root)
	release()
	return root, nil
}

func restoreArray(entries []Entry, objs map[uint32]*vm.Object) (*vm.Array, error) {
	arr := vm.NewArray()
	for _, e := range entries {
		v, err := restoreNode(e.Value, objs)
		if err != nil {
			arr.Discard()
			return nil, err
		}
		arr.Set(e.Key, v)
	}
	return arr, nil
}

func restoreNode(n Node, objs map[uint32]*vm.Object) (vm.Value, error) {
	switch n.Kind {
	case vm.KindNull, vm.KindUninit:
		return vm.Null, nil
	case vm.KindBool:
		return vm.FromBool(n.Bool), nil
	case vm.KindInt:
		return vm.FromInt(n.Int), nil
	case vm.KindDouble:
		return vm.FromDouble(n.Double), nil
	case vm.KindString:
		return vm.FromString(n.Str), nil
	case vm.KindObject:
		obj, ok := objs[n.Object]
		if !ok {
			return vm.Null, fmt.Errorf("%w: reference to unknown object #%d", ErrBadNode, n.Object)
		}
		return vm.FromObject(obj), nil
	case vm.KindArray:
		arr, err := restoreArray(n.Array, objs)
		if err != nil {
			return vm.Null, err
		}
		return vm.FromArray(arr), nil
	}
	return vm.Null, fmt.Errorf("%w: kind %v", ErrBadNode, n.Kind)
}
