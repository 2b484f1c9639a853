package corebuild

import (
	"fmt"
	"io"
	"sort"

	"github.com/gookit/color"
)

// color helpers, grounded on internal/hokuto/globals.go's colInfo/colWarn/...
// palette.
var (
	colInfo    = color.Info
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
)

// Reporter is the narrow logging surface the planner and orchestrator write
// through, so tests can inject a buffering implementation instead of
// talking to os.Stdout directly.
type Reporter interface {
	Status(format string, args ...any)
	Warn(format string, args ...any)
	Fatal(format string, args ...any)
	Debugf(format string, args ...any)
}

// ConsoleReporter writes colorized status lines to w, matching the
// teacher's color-tagged Printf calls throughout build.go/deps.go.
type ConsoleReporter struct {
	Out   io.Writer
	Debug bool
}

func NewConsoleReporter(w io.Writer, debug bool) *ConsoleReporter {
	return &ConsoleReporter{Out: w, Debug: debug}
}

func (r *ConsoleReporter) Status(format string, args ...any) {
	fmt.Fprint(r.Out, colArrow.Sprint("-> "))
	fmt.Fprintln(r.Out, colSuccess.Sprintf(format, args...))
}

func (r *ConsoleReporter) Warn(format string, args ...any) {
	fmt.Fprintln(r.Out, colWarn.Sprintf("warning: "+format, args...))
}

func (r *ConsoleReporter) Fatal(format string, args ...any) {
	fmt.Fprintln(r.Out, colError.Sprintf("error: "+format, args...))
}

func (r *ConsoleReporter) Debugf(format string, args ...any) {
	if !r.Debug {
		return
	}
	fmt.Fprintln(r.Out, colInfo.Sprintf("debug: "+format, args...))
}

// BufferingReporter records every call for assertions in tests, rather than
// writing anywhere.
type BufferingReporter struct {
	StatusLines []string
	WarnLines   []string
	FatalLines  []string
	DebugLines  []string
}

func (r *BufferingReporter) Status(format string, args ...any) {
	r.StatusLines = append(r.StatusLines, fmt.Sprintf(format, args...))
}
func (r *BufferingReporter) Warn(format string, args ...any) {
	r.WarnLines = append(r.WarnLines, fmt.Sprintf(format, args...))
}
func (r *BufferingReporter) Fatal(format string, args ...any) {
	r.FatalLines = append(r.FatalLines, fmt.Sprintf(format, args...))
}
func (r *BufferingReporter) Debugf(format string, args ...any) {
	r.DebugLines = append(r.DebugLines, fmt.Sprintf(format, args...))
}

// PlanClass is the print_plan classification bucket (spec.md §7).
type PlanClass int

const (
	ClassExcluded PlanClass = iota
	ClassAlreadyInstalled
	ClassRebuilt
	ClassNewInstall
	ClassOnlyInstall
)

func (c PlanClass) heading() string {
	switch c {
	case ClassExcluded:
		return "The following packages are excluded:"
	case ClassAlreadyInstalled:
		return "The following packages are already installed:"
	case ClassRebuilt:
		return "The following packages will be rebuilt:"
	case ClassNewInstall:
		return "The following packages will be newly installed:"
	default:
		return "The following packages will be built and installed:"
	}
}

// PrintPlan classifies and prints a serialized plan, grounded on
// original_source/toolsrc/src/vcpkg/commands.integrate.cpp's convention of
// grouping actions under headings, and on spec.md §7/§9's exact rules:
//   - ALREADY_INSTALLED is reported only for USER_REQUESTED actions.
//   - "rebuilt" means a spec has both a RemovePlanAction and an
//     InstallPlanAction in the same serialized plan.
//   - if any RemovePlanAction is present and isRecursive is false, emit a
//     warning and fail: the caller must re-invoke with explicit opt-in.
func (r *ConsoleReporter) PrintPlan(actions []AnyAction, isRecursive bool) error {
	// discovery-order search, per spec.md §9's recommendation to preserve
	// discovery order rather than switch to a set.
	var removeOrder []string
	removed := map[string]bool{}
	for _, a := range actions {
		if a.Remove != nil {
			key := a.Remove.Spec.String()
			if !removed[key] {
				removeOrder = append(removeOrder, key)
				removed[key] = true
			}
		}
	}

	if len(removeOrder) > 0 && !isRecursive {
		r.Warn("the following packages will be removed; re-run with --recursive to confirm")
		for _, key := range removeOrder {
			fmt.Fprintln(r.Out, "  ", key)
		}
		return fmt.Errorf("refusing to remove packages without --recursive")
	}

	buckets := map[PlanClass][]string{}
	auto := map[string]bool{}
	for _, a := range actions {
		if a.Install == nil {
			continue
		}
		ia := a.Install
		key := ia.Spec.String()
		if ia.RequestType == RequestAutoSelected {
			auto[key] = true
		}
		switch ia.PlanType {
		case PlanExcluded:
			buckets[ClassExcluded] = append(buckets[ClassExcluded], key)
		case PlanAlreadyInstalled:
			if ia.RequestType != RequestUserRequested {
				// auto-selected already-installed items are dropped entirely
				// from the report, per spec.md §9.
				continue
			}
			buckets[ClassAlreadyInstalled] = append(buckets[ClassAlreadyInstalled], key)
		case PlanBuildAndInstall:
			if contains(removeOrder, key) {
				buckets[ClassRebuilt] = append(buckets[ClassRebuilt], key)
			} else {
				buckets[ClassNewInstall] = append(buckets[ClassNewInstall], key)
			}
		}
	}

	order := []PlanClass{ClassExcluded, ClassAlreadyInstalled, ClassRebuilt, ClassNewInstall, ClassOnlyInstall}
	for _, class := range order {
		names := buckets[class]
		if len(names) == 0 {
			continue
		}
		sort.Strings(names)
		fmt.Fprintln(r.Out, colInfo.Sprint(class.heading()))
		for _, n := range names {
			marker := ""
			if auto[n] {
				marker = "*"
			}
			fmt.Fprintf(r.Out, "  * %s%s\n", n, marker)
		}
	}
	return nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
