package main

import (
	"fmt"
	"io"
	"time"

	"github.com/chazu/objcore/vm"
)

func newAccountClass(w io.Writer) *vm.Class {
	account := vm.NewClass("Account", nil,
		vm.PropDecl{Name: "owner", Visibility: vm.Public, Default: vm.FromString("")},
		vm.PropDecl{Name: "balance", Visibility: vm.Private, Default: vm.FromInt(0), Type: vm.KindInt},
		vm.PropDecl{Name: "memo", Visibility: vm.Public, Attrs: vm.PropNoDup, Default: vm.Null},
	)
	account.AddMethodFunc(vm.MethodGet, func(rt *vm.Runtime, this *vm.Object, args []vm.Value) (vm.Value, error) {
		if args[0].Str() != "summary" {
			return vm.Null, nil
		}
		owner, err := this.Prop(account, "owner")
		if err != nil {
			return vm.Null, err
		}
		balance, err := this.Prop(account, "balance")
		if err != nil {
			return vm.Null, err
		}
		return vm.FromString(fmt.Sprintf("%s: %d", owner.Str(), balance.Int())), nil
	})
	account.AddMethodFunc(vm.MethodClone, func(rt *vm.Runtime, this *vm.Object, _ []vm.Value) (vm.Value, error) {
		return vm.Null, this.SetProp(account, "balance", vm.FromInt(0))
	})
	account.AddMethodFunc(vm.MethodDestruct, func(rt *vm.Runtime, this *vm.Object, _ []vm.Value) (vm.Value, error) {
		fmt.Fprintf(w, "  ~Account #%d\n", this.ID())
		return vm.Null, nil
	})
	return account
}

// runScenario exercises the runtime and returns the root of the object
// graph it built, owned by the caller. Two accounts end up in a reference
// cycle so that Shutdown has something to sweep.
func runScenario(rt *vm.Runtime, w io.Writer) (*vm.Object, error) {
	account := newAccountClass(w)
	rt.Classes.Register(account)

	fmt.Fprintln(w, "lifecycle:")
	a, err := rt.NewInstance(account)
	if err != nil {
		return nil, err
	}
	if err := a.SetProp(nil, "owner", vm.FromString("ann")); err != nil {
		return nil, err
	}
	if err := a.SetProp(account, "balance", vm.FromInt(100)); err != nil {
		return nil, err
	}
	if err := a.SetProp(nil, "memo", vm.FromString("cached")); err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "  new %s#%d refcount=%d\n", a.ClassName(), a.ID(), a.RefCount())

	fmt.Fprintln(w, "magic:")
	summary, err := a.Prop(nil, "summary")
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "  a->summary = %q\n", summary.Str())
	if err := a.SetProp(nil, "balance", vm.FromInt(1)); err != nil {
		fmt.Fprintf(w, "  a->balance = 1: %v\n", err)
	}

	fmt.Fprintln(w, "projection:")
	if err := printProjection(rt, w, a); err != nil {
		return nil, err
	}

	fmt.Fprintln(w, "clone:")
	b, err := rt.Clone(a)
	if err != nil {
		return nil, err
	}
	if err := b.SetProp(nil, "owner", vm.FromString("bob")); err != nil {
		return nil, err
	}
	memo, _ := b.Prop(nil, "memo")
	fmt.Fprintf(w, "  %s#%d cloned to #%d, memo=%v\n", a.ClassName(), a.ID(), b.ID(), memo)

	fmt.Fprintln(w, "comparison:")
	eq, err := rt.Equal(a, b)
	if err != nil {
		return nil, err
	}
	less, err := rt.Less(a, b)
	if err != nil {
		return nil, err
	}
	cmp, err := rt.Compare(a, b)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "  a == b: %v, a < b: %v, a <=> b: %d\n", eq, less, cmp)

	m, err := rt.NewMap(vm.NewArrayFrom("ann", vm.FromObject(a), "bob", vm.FromObject(b)))
	if err != nil {
		return nil, err
	}
	if _, err := rt.Less(m, a); err != nil {
		fmt.Fprintf(w, "  map < a: %v\n", err)
	}
	m.DecRef()

	opened, err := rt.NewDateTime(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC))
	if err != nil {
		return nil, err
	}
	if err := a.SetProp(nil, "opened", vm.FromObject(opened)); err != nil {
		return nil, err
	}
	opened.DecRef()
	ts, err := rt.ToInt64(opened)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "  (int) a->opened = %d\n", ts)

	fmt.Fprintln(w, "cycle:")
	if err := a.SetProp(nil, "peer", vm.FromObject(b)); err != nil {
		return nil, err
	}
	if err := b.SetProp(nil, "peer", vm.FromObject(a)); err != nil {
		return nil, err
	}
	b.DecRef()
	fmt.Fprintf(w, "  a refcount=%d, b refcount=%d, live=%d\n", a.RefCount(), b.RefCount(), rt.Objects().LiveCount())

	return a, nil
}

func printProjection(rt *vm.Runtime, w io.Writer, obj *vm.Object) error {
	arr, err := rt.ToArray(obj, false)
	if err != nil {
		return err
	}
	defer arr.Discard()
	var outErr error
	arr.Each(func(key string, v vm.Value) bool {
		s, err := rt.ToStringValue(v.Deref())
		if err != nil {
			outErr = err
			return false
		}
		fmt.Fprintf(w, "  %q => %s\n", key, s)
		return true
	})
	return outErr
}
