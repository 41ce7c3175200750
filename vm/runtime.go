package vm

import (
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("objcore.vm")

// Options control a Runtime.
type Options struct {
	// EnableDestructors runs __destruct when objects are released.
	EnableDestructors bool
	// DebugChecks verifies slot types on release and clone.
	DebugChecks bool
	// MemoryLimit caps the bytes the default heap hands out (0 = unlimited).
	MemoryLimit int64
	// WarnUndefined emits a notice when an undefined property is read.
	WarnUndefined bool
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		EnableDestructors: true,
		WarnUndefined:     true,
	}
}

// Runtime is the per-task context of the object runtime. Everything that
// would otherwise be ambient state (the id high-water mark, the dynamic
// property side-table, the magic accessor recursion guard) hangs off it, so
// independent runtimes can run on independent goroutines.
//
// A Runtime is not safe for concurrent use.
type Runtime struct {
	ID      uuid.UUID
	Classes *ClassTable

	opts      Options
	alloc     Allocator
	objects   *ObjectRegistry
	weak      *WeakRegistry
	builtins  map[BuiltinKind]*Builtin
	recur     propRecurInfo
	diag      Diagnostics
	observer  Observer
	unwinding bool

	stdClass *Class
}

// NewRuntime creates a runtime with the builtin classes registered.
func NewRuntime(opts Options) *Runtime {
	rt := &Runtime{
		ID:       uuid.New(),
		Classes:  NewClassTable(),
		opts:     opts,
		alloc:    NewHeap(opts.MemoryLimit),
		objects:  NewObjectRegistry(),
		weak:     NewWeakRegistry(),
		builtins: defaultBuiltins(),
		diag:     logDiagnostics{},
		observer: nopObserver{},
	}
	rt.bootstrap()
	log.Debugf("runtime %s started", rt.ID)
	return rt
}

// Options returns the runtime's options.
func (rt *Runtime) Options() Options { return rt.opts }

// SetDiagnostics replaces the diagnostics sink.
func (rt *Runtime) SetDiagnostics(d Diagnostics) {
	if d == nil {
		d = logDiagnostics{}
	}
	rt.diag = d
}

// SetObserver replaces the lifecycle observer.
func (rt *Runtime) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	rt.observer = o
}

// SetAllocator replaces the allocator. Must be called before the first
// allocation.
func (rt *Runtime) SetAllocator(a Allocator) {
	if rt.objects.LiveCount() != 0 {
		panic("Runtime.SetAllocator: objects already allocated")
	}
	rt.alloc = a
}

// Allocator returns the runtime's allocator.
func (rt *Runtime) Allocator() Allocator { return rt.alloc }

// Objects returns the per-task object registry.
func (rt *Runtime) Objects() *ObjectRegistry { return rt.objects }

// WeakRefs returns the weak reference registry.
func (rt *Runtime) WeakRefs() *WeakRegistry { return rt.weak }

// StdClass returns the class used for plain property bags.
func (rt *Runtime) StdClass() *Class { return rt.stdClass }

// SetUnwinding marks the task as unwinding a fault. Destructors do not run
// while it is set.
func (rt *Runtime) SetUnwinding(on bool) { rt.unwinding = on }

// ---------------------------------------------------------------------------
// Observer
// ---------------------------------------------------------------------------

// EventKind identifies a lifecycle event.
type EventKind uint8

const (
	EventAlloc EventKind = iota
	EventFree
	EventResurrect
	EventDestructorFault
	EventClone
	EventSweep
)

var eventNames = [...]string{
	EventAlloc:           "alloc",
	EventFree:            "free",
	EventResurrect:       "resurrect",
	EventDestructorFault: "destructor-fault",
	EventClone:           "clone",
	EventSweep:           "sweep",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Event describes one lifecycle transition of an object.
type Event struct {
	Kind     EventKind
	Class    string
	ObjectID uint32
	Detail   string
}

// Observer receives lifecycle events. Implementations must not call back
// into the runtime.
type Observer interface {
	ObjectEvent(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

func (f ObserverFunc) ObjectEvent(ev Event) { f(ev) }

type nopObserver struct{}

func (nopObserver) ObjectEvent(Event) {}

func (rt *Runtime) emit(kind EventKind, obj *Object, detail string) {
	ev := Event{Kind: kind, Detail: detail}
	if obj != nil {
		ev.Class = obj.ClassName()
		ev.ObjectID = obj.id
	}
	rt.observer.ObjectEvent(ev)
}
