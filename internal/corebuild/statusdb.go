package corebuild

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// StatusDB is the Status Database: a snapshot of currently installed
// package views, keyed by canonical "name:triplet".
type StatusDB struct {
	views map[string]*InstalledPackageView
}

func NewStatusDB() *StatusDB {
	return &StatusDB{views: make(map[string]*InstalledPackageView)}
}

// Put inserts or replaces a view, used by tests and by LoadStatusDB.
func (db *StatusDB) Put(view *InstalledPackageView) {
	db.views[view.Core.Spec.String()] = view
}

// Get looks up the installed view for a spec, nil if not installed.
func (db *StatusDB) Get(spec PackageSpec) *InstalledPackageView {
	return db.views[spec.String()]
}

// All returns every installed view, for iteration during graph construction.
func (db *StatusDB) All() []*InstalledPackageView {
	out := make([]*InstalledPackageView, 0, len(db.views))
	for _, v := range db.views {
		out = append(out, v)
	}
	return out
}

// LoadStatusDB reads <installedDir>/<name>/{version,abi,depends,
// default-features,feature-list} plus features/<feature>/depends for every
// installed package, grounded on
// internal/hokuto/pkgdb.go's manifest scanning and deps.go's
// getInstalledDeps. triplet is the triplet every installed entry is assumed
// to belong to (hokuto, unlike vcpkg, is single-triplet per root; this core
// generalizes that into the PackageSpec model by stamping the configured
// triplet onto every loaded entry).
func LoadStatusDB(installedDir, triplet string) (*StatusDB, error) {
	db := NewStatusDB()
	entries, err := os.ReadDir(installedDir)
	if err != nil {
		if os.IsNotExist(err) {
			return db, nil
		}
		return nil, fmt.Errorf("failed to read installed db: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		dir := filepath.Join(installedDir, name)
		view, err := loadInstalledView(dir, name, triplet)
		if err != nil {
			return nil, &ParseError{Path: dir, Err: err}
		}
		db.Put(view)
	}
	return db, nil
}

func loadInstalledView(dir, name, triplet string) (*InstalledPackageView, error) {
	spec := PackageSpec{Name: name, Triplet: triplet}
	version := readFirstField(filepath.Join(dir, "version"))
	abi := readFirstField(filepath.Join(dir, "abi"))
	defaultFeatures := splitCommaList(strings.TrimSpace(readWhole(filepath.Join(dir, "default-features"))))

	depNames, err := readDepends(filepath.Join(dir, "depends"))
	if err != nil {
		return nil, err
	}
	deps := make([]PackageSpec, 0, len(depNames))
	for _, d := range depNames {
		deps = append(deps, PackageSpec{Name: d, Triplet: triplet})
	}

	view := &InstalledPackageView{
		Core: BinaryParagraph{
			Spec:            spec,
			Version:         version,
			Abi:             abi,
			DefaultFeatures: defaultFeatures,
			Depends:         deps,
		},
	}

	featureNames := splitCommaList(readWhole(filepath.Join(dir, "feature-list")))
	for _, fname := range featureNames {
		fdeps, err := readDepends(filepath.Join(dir, "features", fname, "depends"))
		if err != nil {
			return nil, err
		}
		fd := make([]PackageSpec, 0, len(fdeps))
		for _, d := range fdeps {
			fd = append(fd, PackageSpec{Name: d, Triplet: triplet})
		}
		view.Features = append(view.Features, BinaryParagraph{
			Spec:    spec,
			Feature: fname,
			Version: version,
			Abi:     abi,
			Depends: fd,
		})
	}
	return view, nil
}

func readDepends(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var deps []string
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, _, _, _, _, _ := parseDepToken(line)
		if name != "" {
			deps = append(deps, name)
		}
	}
	return deps, nil
}

func readFirstField(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func readWhole(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// parseDepToken parses tokens like "pkg", "pkg<=1.2.3 optional", "pkg rebuild",
// grounded on internal/hokuto/deps.go's parseDepToken.
func parseDepToken(token string) (name, op, version string, optional, rebuild, makeDep bool) {
	parts := strings.Fields(token)
	if len(parts) == 0 {
		return
	}
	pkgSpec := parts[0]
	for _, p := range parts[1:] {
		switch p {
		case "optional":
			optional = true
		case "rebuild":
			rebuild = true
		case "make":
			makeDep = true
		}
	}
	ops := []string{"<=", ">=", "==", "<", ">"}
	for _, o := range ops {
		if idx := strings.Index(pkgSpec, o); idx != -1 {
			return strings.TrimSpace(pkgSpec[:idx]), o, strings.TrimSpace(pkgSpec[idx+len(o):]), optional, rebuild, makeDep
		}
	}
	return pkgSpec, "", "", optional, rebuild, makeDep
}
