package registration

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ppiankov/lockwatch/internal/model"
	"github.com/ppiankov/lockwatch/internal/policy"
	"github.com/ppiankov/lockwatch/internal/registry"
	"github.com/ppiankov/lockwatch/internal/store"
	"github.com/ppiankov/lockwatch/internal/tracker"
)

func newProtocol(containers, processes int) (*Protocol, *registry.Registry) {
	reg := registry.New(registry.Capacity{Containers: containers, Processes: processes})
	return New(reg, nil), reg
}

func TestAddContainer(t *testing.T) {
	p, reg := newProtocol(4, 8)
	id := model.MustContainerID("c1")

	ret := Status(99)
	p.AddContainer(&ret, id, 100, int32(model.Restricted))
	if ret != OK {
		t.Fatalf("ret = %v", ret)
	}
	if got := policy.Resolve(reg, 100); got != model.Restricted {
		t.Errorf("Resolve = %v", got)
	}
}

func TestAddContainerLevelIsImmutable(t *testing.T) {
	p, reg := newProtocol(4, 8)
	id := model.MustContainerID("c1")

	var ret Status
	p.AddContainer(&ret, id, 100, int32(model.Restricted))
	if ret != OK {
		t.Fatalf("first add: ret = %v", ret)
	}

	for _, level := range []model.PolicyLevel{model.Privileged, model.Baseline} {
		p.AddContainer(&ret, id, 101, int32(level))
		if ret != Exists {
			t.Errorf("re-add at %v: ret = %v, want exists", level, ret)
		}
	}
	if got := policy.Resolve(reg, 100); got != model.Restricted {
		t.Errorf("Resolve(100) = %v after re-add, want restricted", got)
	}
	if _, ok := reg.Processes.Lookup(101); ok {
		t.Error("rejected re-add must not register its init process")
	}

	// Same level again is a no-op for the container and adds the process.
	p.AddContainer(&ret, id, 102, int32(model.Restricted))
	if ret != OK {
		t.Fatalf("same-level re-add: ret = %v", ret)
	}
	if got := policy.Resolve(reg, 102); got != model.Restricted {
		t.Errorf("Resolve(102) = %v", got)
	}
}

func TestAddContainerRejectsBadLevel(t *testing.T) {
	p, reg := newProtocol(4, 8)
	for _, level := range []int32{-1, -2, 3, 1 << 20} {
		var ret Status
		p.AddContainer(&ret, model.MustContainerID("c"), 1, level)
		if ret != Invalid {
			t.Errorf("level %d: ret = %v, want invalid", level, ret)
		}
	}
	if reg.Containers.Len() != 0 || reg.Processes.Len() != 0 {
		t.Error("rejected calls must not write")
	}
}

func TestAddContainerPartialFailure(t *testing.T) {
	p, reg := newProtocol(4, 1)
	_ = reg.Processes.Update(1, model.Process{ContainerID: model.MustContainerID("other")})

	id := model.MustContainerID("c1")
	var ret Status
	p.AddContainer(&ret, id, 2, int32(model.Baseline))
	if ret != Full {
		t.Fatalf("ret = %v, want full", ret)
	}
	// The container record is left behind.
	if _, ok := reg.Containers.Lookup(id); !ok {
		t.Error("container should remain after process insert failure")
	}
}

func TestAddProcess(t *testing.T) {
	p, reg := newProtocol(4, 8)
	id := model.MustContainerID("c1")

	var ret Status
	p.AddContainer(&ret, id, 100, int32(model.Baseline))
	p.AddProcess(&ret, id, 200)
	if ret != OK {
		t.Fatalf("ret = %v", ret)
	}
	if got := policy.Resolve(reg, 200); got != model.Baseline {
		t.Errorf("Resolve = %v", got)
	}

	// Overwrite moves the process.
	other := model.MustContainerID("c2")
	p.AddProcess(&ret, other, 200)
	if got := policy.Resolve(reg, 200); got != model.Inconsistent {
		t.Errorf("process in unknown container resolved to %v", got)
	}

	p.AddProcess(&ret, model.ContainerID{}, 300)
	if ret != Invalid {
		t.Errorf("zero id: ret = %v", ret)
	}
}

func TestDeleteContainer(t *testing.T) {
	p, reg := newProtocol(4, 64)
	a := model.MustContainerID("a")
	b := model.MustContainerID("b")

	var ret Status
	p.AddContainer(&ret, a, 1, int32(model.Restricted))
	p.AddContainer(&ret, b, 2, int32(model.Restricted))
	for pid := int32(10); pid < 40; pid++ {
		id := a
		if pid%3 == 0 {
			id = b
		}
		p.AddProcess(&ret, id, pid)
	}

	p.DeleteContainer(&ret, a)
	if ret != OK {
		t.Fatalf("ret = %v", ret)
	}
	if _, ok := reg.Containers.Lookup(a); ok {
		t.Error("container a still registered")
	}
	for pid, proc := range reg.Processes.All() {
		if proc.ContainerID == a {
			t.Errorf("pid %d still references deleted container", pid)
		}
	}
	if got := policy.Resolve(reg, 12); got != model.Restricted {
		t.Errorf("process of b resolved to %v", got)
	}
	if got := policy.Resolve(reg, 11); got != model.NotFound {
		t.Errorf("process of a resolved to %v", got)
	}
}

func TestDeleteContainerIdempotent(t *testing.T) {
	p, reg := newProtocol(4, 8)
	id := model.MustContainerID("c1")

	var ret Status
	p.AddContainer(&ret, id, 100, int32(model.Privileged))
	for i := range 3 {
		ret = Status(99)
		p.DeleteContainer(&ret, id)
		if ret != OK {
			t.Errorf("delete #%d: ret = %v", i+1, ret)
		}
	}
	if reg.Containers.Len() != 0 || reg.Processes.Len() != 0 {
		t.Error("registry should be empty")
	}
}

func TestDeleteRemovesOrphans(t *testing.T) {
	p, reg := newProtocol(4, 8)
	id := model.MustContainerID("ghost")
	_ = reg.Processes.Update(5, model.Process{ContainerID: id})

	var ret Status
	p.DeleteContainer(&ret, id)
	if ret != OK {
		t.Fatalf("ret = %v", ret)
	}
	if _, ok := reg.Processes.Lookup(5); ok {
		t.Error("orphaned process should be removed")
	}
}

func TestNilRet(t *testing.T) {
	p, reg := newProtocol(4, 8)
	id := model.MustContainerID("c1")
	p.AddContainer(nil, id, 1, int32(model.Baseline))
	p.AddProcess(nil, id, 2)
	if reg.Processes.Len() != 2 {
		t.Errorf("Len = %d", reg.Processes.Len())
	}
	p.DeleteContainer(nil, id)
	if reg.Processes.Len() != 0 {
		t.Errorf("Len = %d", reg.Processes.Len())
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, OK},
		{fmt.Errorf("x: %w", store.ErrFull), Full},
		{fmt.Errorf("x: %w", store.ErrNotFound), NotFound},
		{fmt.Errorf("x: %w", store.ErrExists), Exists},
		{fmt.Errorf("x: %w", model.ErrInvalidLevel), Invalid},
		{model.ErrInvalidID, Invalid},
		{tracker.ErrInconsistent, Inconsistent},
		{errors.New("surprise"), Inconsistent},
	}
	for _, tt := range tests {
		got := StatusOf(tt.err)
		if got != tt.want {
			t.Errorf("StatusOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
		if tt.want != Invalid && tt.err != nil && tt.want != Inconsistent {
			if !errors.Is(got.Err(), tt.err) && !errors.Is(tt.err, got.Err()) {
				t.Errorf("%v.Err() = %v, not related to %v", got, got.Err(), tt.err)
			}
		}
	}
	if OK.Err() != nil {
		t.Error("OK.Err() should be nil")
	}
	if err := Status(-99).Err(); !errors.Is(err, ErrUnknownStatus) {
		t.Errorf("Status(-99).Err() = %v", err)
	}
	if Full.String() != "table full" {
		t.Errorf("Full.String() = %q", Full.String())
	}
}

func TestStatusRoundTrip(t *testing.T) {
	for _, s := range []Status{OK, Inconsistent, NotFound, Full, Exists, Invalid} {
		if got := StatusOf(s.Err()); got != s {
			t.Errorf("StatusOf(%v.Err()) = %v", s, got)
		}
	}
}
