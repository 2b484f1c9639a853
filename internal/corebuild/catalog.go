package corebuild

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PortProvider resolves a package name to its parsed manifest (§4.1).
type PortProvider interface {
	GetControlFile(name string) (*SourceControlFile, error)
}

// MapPortProvider is the in-memory implementation, keyed by package name.
type MapPortProvider struct {
	Ports map[string]*SourceControlFile
}

func NewMapPortProvider() *MapPortProvider {
	return &MapPortProvider{Ports: make(map[string]*SourceControlFile)}
}

func (p *MapPortProvider) GetControlFile(name string) (*SourceControlFile, error) {
	scf, ok := p.Ports[name]
	if !ok {
		return nil, nil
	}
	return scf, nil
}

// DirPortProvider loads port manifests on demand from a directory tree
// (<root>/<name>/CONTROL, see parsePortDir) and memoizes the parse result
// keyed by name, grounded on
// internal/hokuto/deps.go's findPackageDir + parseDependsFile pair.
type DirPortProvider struct {
	Root    string
	cache   map[string]*SourceControlFile
	missing map[string]bool
}

func NewDirPortProvider(root string) *DirPortProvider {
	return &DirPortProvider{Root: root, cache: make(map[string]*SourceControlFile), missing: make(map[string]bool)}
}

func (p *DirPortProvider) GetControlFile(name string) (*SourceControlFile, error) {
	if scf, ok := p.cache[name]; ok {
		return scf, nil
	}
	if p.missing[name] {
		return nil, nil
	}
	dir := filepath.Join(p.Root, name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		p.missing[name] = true
		return nil, nil
	}
	scf, err := parsePortDir(name, dir)
	if err != nil {
		return nil, &ParseError{Path: dir, Err: err}
	}
	p.cache[name] = scf
	return scf, nil
}

// parsePortDir reads a port directory's manifest files. Layout: a single
// "CONTROL" file of Key: Value paragraphs (core paragraph first, then one
// paragraph per feature), blank-line separated, matching spec.md §6's Port
// file layout.
func parsePortDir(name, dir string) (*SourceControlFile, error) {
	data, err := os.ReadFile(filepath.Join(dir, "CONTROL"))
	if err != nil {
		return nil, err
	}
	return ParseSourceControlFile(name, data)
}

// ParseSourceControlFile parses the Key: Value paragraph format described in
// spec.md §6.
func ParseSourceControlFile(defaultTriplet string, data []byte) (*SourceControlFile, error) {
	paragraphs, err := splitParagraphs(data)
	if err != nil {
		return nil, err
	}
	if len(paragraphs) == 0 {
		return nil, fmt.Errorf("empty control file")
	}

	scf := &SourceControlFile{}
	core := paragraphs[0]
	scf.Core.Name = core["Source"]
	scf.Core.Version = core["Version"]
	scf.Core.Description = core["Description"]
	scf.Core.Homepage = core["Homepage"]
	if scf.Core.Name == "" {
		return nil, fmt.Errorf("core paragraph missing required field 'Source'")
	}
	scf.Core.Depends, err = ParseDependsList(core["Build-Depends"])
	if err != nil {
		return nil, fmt.Errorf("core paragraph: %w", err)
	}
	scf.Core.DefaultFeatures = splitCommaList(core["Default-Features"])

	for _, para := range paragraphs[1:] {
		fname := para["Feature"]
		if fname == "" {
			return nil, fmt.Errorf("feature paragraph missing required field 'Feature'")
		}
		deps, err := ParseDependsList(para["Build-Depends"])
		if err != nil {
			return nil, fmt.Errorf("feature paragraph %q: %w", fname, err)
		}
		scf.Features = append(scf.Features, FeatureParagraph{Name: fname, Depends: deps})
	}
	return scf, nil
}

// splitParagraphs parses RFC822-ish "Key: Value" lines, blank-line
// separated, per spec.md §6.
func splitParagraphs(data []byte) ([]map[string]string, error) {
	var paragraphs []map[string]string
	current := map[string]string{}
	var lastKey string

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(current) > 0 {
				paragraphs = append(paragraphs, current)
				current = map[string]string{}
				lastKey = ""
			}
			continue
		}
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && lastKey != "" {
			// continuation line
			current[lastKey] = strings.TrimSpace(current[lastKey] + "\n" + trimmed)
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, fmt.Errorf("malformed paragraph line %q: missing ':'", line)
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		current[key] = val
		lastKey = key
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(current) > 0 {
		paragraphs = append(paragraphs, current)
	}
	return paragraphs, nil
}

func splitCommaList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseDependsList parses the Build-Depends grammar (spec.md §6):
// comma-separated entries of "name[feature,feature]:triplet" with an
// optional trailing platform expression "(expr)". The expression is kept
// verbatim on DependEntry.Platform; buildEdgesFor (cluster.go) evaluates it
// against the dependent's triplet and drops entries that don't match.
func ParseDependsList(s string) ([]DependEntry, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var entries []DependEntry
	for _, raw := range splitTopLevelCommas(s) {
		entry, err := parseDependEntry(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// splitTopLevelCommas splits on commas that are not inside [...] or (...).
func splitTopLevelCommas(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '[', '(':
			depth++
		case ']', ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

func parseDependEntry(tok string) (DependEntry, error) {
	var platform string
	if i := strings.IndexByte(tok, '('); i >= 0 {
		if !strings.HasSuffix(tok, ")") {
			return DependEntry{}, fmt.Errorf("malformed depends entry %q: unmatched '('", tok)
		}
		platform = strings.TrimSpace(tok[i+1 : len(tok)-1])
		tok = strings.TrimSpace(tok[:i])
	}

	var entry DependEntry
	entry.Platform = platform
	name := tok

	if i := strings.IndexByte(name, '['); i >= 0 {
		end := strings.IndexByte(name, ']')
		if end < i {
			return DependEntry{}, fmt.Errorf("malformed depends entry %q: unmatched '['", tok)
		}
		featureList := name[i+1 : end]
		for _, f := range strings.Split(featureList, ",") {
			f = strings.TrimSpace(f)
			if f != "" {
				entry.Features = append(entry.Features, f)
			}
		}
		name = name[:i] + name[end+1:]
	}

	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		entry.Triplet = name[i+1:]
		name = name[:i]
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return DependEntry{}, fmt.Errorf("malformed depends entry %q: empty package name", tok)
	}
	entry.Name = name
	return entry, nil
}
