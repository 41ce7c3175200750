package vm

import "fmt"

// SweepStats reports the work done by Shutdown.
type SweepStats struct {
	Destructed int   // destructors run by DestructForExit
	Freed      int   // objects bulk-freed regardless of reference count
	BytesFreed int64 // bytes returned by the bulk free
}

// Shutdown ends the task. Destructors still pending run first, in allocation
// order; then every object that is still live is freed en masse, whatever
// its reference count. This is what reclaims reference cycles, which plain
// reference counting never frees.
//
// Objects must not be used after Shutdown. The runtime's id high-water mark
// and dynamic property side-table are empty afterwards.
func (rt *Runtime) Shutdown() SweepStats {
	var stats SweepStats

	for _, obj := range rt.objects.liveInOrder() {
		if obj.attrs&(AttrNoDestruct|AttrFreed) != 0 || !rt.opts.EnableDestructors || !obj.class.HasAttr(HasDestructor) {
			continue
		}
		rt.DestructForExit(obj)
		stats.Destructed++
	}

	// Destructors may have allocated; take a fresh snapshot and free newest
	// first.
	live := rt.objects.liveInOrder()
	for _, obj := range live {
		obj.attrs |= AttrNoDestruct
	}
	for i := len(live) - 1; i >= 0; i-- {
		obj := live[i]
		if obj.attrs&AttrFreed != 0 {
			continue
		}
		stats.BytesFreed += int64(obj.size)
		stats.Freed++
		rt.forceFree(obj)
	}

	// Gaps left by earlier out-of-order frees survive the newest-first
	// reclamation; nothing is live now, so start ids over.
	rt.objects.resetIDs()
	rt.recur = propRecurInfo{}
	log.Infof("task %s swept: %d destructed, %d freed (%d bytes)",
		rt.ID, stats.Destructed, stats.Freed, stats.BytesFreed)
	rt.emit(EventSweep, nil, fmt.Sprintf("destructed=%d freed=%d", stats.Destructed, stats.Freed))
	return stats
}

// forceFree frees obj without releasing what its slots hold: everything
// reachable from it is being swept too.
func (rt *Runtime) forceFree(obj *Object) {
	rt.objects.untrack(obj)
	for i := range obj.props {
		obj.props[i] = Uninit
	}
	if obj.attrs&AttrHasDynProps != 0 {
		delete(rt.objects.dynProps, obj)
		obj.attrs &^= AttrHasDynProps
	}
	obj.native = nil
	rt.objects.reclaimID(obj.id)
	rt.weak.Invalidate(obj)
	rt.freeMemory(obj)
	rt.emit(EventFree, obj, "sweep")
}
