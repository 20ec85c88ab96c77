package policy

import (
	"testing"

	"github.com/Sternrassler/group-scanner/pkg/groupapi"
)

func TestDecide(t *testing.T) {
	present := func(owner bool) Observation { return Observation{Present: true, HasOwner: owner} }
	absent := Observation{}

	tests := []struct {
		name    string
		id      uint64
		tracked bool
		obs     Observation
		cutoff  uint64
		want    Action
	}{
		{name: "absent without cutoff", id: 12, obs: absent, cutoff: 0, want: Retire},
		{name: "absent tracked without cutoff", id: 12, tracked: true, obs: absent, cutoff: 0, want: Retire},
		{name: "absent below cutoff", id: 500, obs: absent, cutoff: 1000, want: Keep},
		{name: "absent tracked below cutoff", id: 500, tracked: true, obs: absent, cutoff: 1000, want: Keep},
		{name: "absent above cutoff", id: 1500, obs: absent, cutoff: 1000, want: Retire},
		{name: "absent at cutoff", id: 1000, obs: absent, cutoff: 1000, want: Retire},
		{name: "untracked owned", id: 10, obs: present(true), want: Track},
		{name: "untracked ownerless", id: 11, obs: present(false), want: Retire},
		{name: "tracked owned", id: 10, tracked: true, obs: present(true), want: Keep},
		{name: "tracked ownerless", id: 11, tracked: true, obs: present(false), want: Inspect},
		{name: "cutoff ignored when present", id: 1500, tracked: true, obs: present(false), cutoff: 1000, want: Inspect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.id, tt.tracked, tt.obs, tt.cutoff); got != tt.want {
				t.Errorf("Decide(%d, %v, %+v, %d) = %v, want %v", tt.id, tt.tracked, tt.obs, tt.cutoff, got, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		detail *groupapi.GroupDetail
		want   Action
	}{
		{
			name:   "claimable",
			detail: &groupapi.GroupDetail{PublicEntryAllowed: true},
			want:   Report,
		},
		{
			name:   "approval only",
			detail: &groupapi.GroupDetail{PublicEntryAllowed: false},
			want:   Retire,
		},
		{
			name:   "owner came back",
			detail: &groupapi.GroupDetail{PublicEntryAllowed: true, HasOwner: true},
			want:   Retire,
		},
		{
			name:   "locked",
			detail: &groupapi.GroupDetail{PublicEntryAllowed: true, Locked: true},
			want:   Retire,
		},
		{
			name:   "nil detail",
			detail: nil,
			want:   Retire,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.detail); got != tt.want {
				t.Errorf("Resolve(%+v) = %v, want %v", tt.detail, got, tt.want)
			}
		})
	}
}

func TestObserve(t *testing.T) {
	result := groupapi.BatchResult{10: true, 11: false}

	if got := Observe(result, 10); got != (Observation{Present: true, HasOwner: true}) {
		t.Errorf("Observe(10) = %+v", got)
	}
	if got := Observe(result, 11); got != (Observation{Present: true}) {
		t.Errorf("Observe(11) = %+v", got)
	}
	if got := Observe(result, 12); got.Present {
		t.Errorf("Observe(12) = %+v, want absent", got)
	}
}

func TestAction_String(t *testing.T) {
	for a, want := range map[Action]string{Keep: "keep", Retire: "retire", Track: "track", Inspect: "inspect", Report: "report", Action(99): "unknown"} {
		if got := a.String(); got != want {
			t.Errorf("Action(%d).String() = %q, want %q", a, got, want)
		}
	}
}
