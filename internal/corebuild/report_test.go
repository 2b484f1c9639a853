package corebuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintPlan_AlreadyInstalledOnlyForUserRequested(t *testing.T) {
	w := newDiscardWriter()
	r := &ConsoleReporter{Out: w}
	actions := []AnyAction{
		{Install: &InstallPlanAction{Spec: PackageSpec{Name: "a", Triplet: "x64"}, PlanType: PlanAlreadyInstalled, RequestType: RequestUserRequested}},
		{Install: &InstallPlanAction{Spec: PackageSpec{Name: "b", Triplet: "x64"}, PlanType: PlanAlreadyInstalled, RequestType: RequestAutoSelected}},
	}
	require.NoError(t, r.PrintPlan(actions, false))
	assert.Equal(t, 2, w.count, "one heading plus one line for a; auto-selected b is not printed")
}

func TestPrintPlan_RemoveWithoutRecursiveFails(t *testing.T) {
	r := &ConsoleReporter{Out: newDiscardWriter()}
	actions := []AnyAction{
		{Remove: &RemovePlanAction{Spec: PackageSpec{Name: "a", Triplet: "x64"}}},
	}
	err := r.PrintPlan(actions, false)
	assert.Error(t, err)
}

func TestPrintPlan_RemoveWithRecursiveSucceeds(t *testing.T) {
	r := &ConsoleReporter{Out: newDiscardWriter()}
	actions := []AnyAction{
		{Remove: &RemovePlanAction{Spec: PackageSpec{Name: "a", Triplet: "x64"}}},
		{Install: &InstallPlanAction{Spec: PackageSpec{Name: "a", Triplet: "x64"}, PlanType: PlanBuildAndInstall, RequestType: RequestUserRequested}},
	}
	require.NoError(t, r.PrintPlan(actions, true))
}

func TestBufferingReporter(t *testing.T) {
	r := &BufferingReporter{}
	r.Status("building %s", "zlib")
	r.Warn("careful %s", "zlib")
	r.Fatal("dead %s", "zlib")
	r.Debugf("trace %s", "zlib")

	assert.Equal(t, []string{"building zlib"}, r.StatusLines)
	assert.Equal(t, []string{"careful zlib"}, r.WarnLines)
	assert.Equal(t, []string{"dead zlib"}, r.FatalLines)
	assert.Equal(t, []string{"trace zlib"}, r.DebugLines)
}

func TestConsoleReporter_DebugGatedByFlag(t *testing.T) {
	w := newDiscardWriter()
	r := NewConsoleReporter(w, false)
	r.Debugf("hidden")
	assert.Equal(t, 0, w.count)

	r = NewConsoleReporter(w, true)
	r.Debugf("shown")
	assert.Equal(t, 1, w.count)
}
