package policy

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

// BuiltinPrefix selects a built-in policy instead of a file, e.g.
// "builtin:pinned-versions".
const BuiltinPrefix = "builtin:"

// Loader resolves policy references: Rego files, directories of Rego files
// and built-in names.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a loader logging under the "policy-loader" component.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "policy-loader").Logger()}
}

// LoadFromPaths resolves every reference in order. Policies found in one
// directory are sorted by path.
func (l *Loader) LoadFromPaths(refs []string) ([]Policy, error) {
	var all []Policy
	for _, ref := range refs {
		found, err := l.resolve(ref)
		if err != nil {
			return nil, fmt.Errorf("failed to load policies from %s: %w", ref, err)
		}
		all = append(all, found...)
	}

	l.logger.Debug().Int("policies", len(all)).Strs("refs", refs).Msg("Policies loaded")
	return all, nil
}

func (l *Loader) resolve(ref string) ([]Policy, error) {
	if name, ok := strings.CutPrefix(ref, BuiltinPrefix); ok {
		p, err := Builtin(name)
		if err != nil {
			return nil, err
		}
		return []Policy{p}, nil
	}

	info, err := os.Stat(ref)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		p, err := l.readFile(ref)
		if err != nil {
			return nil, err
		}
		return []Policy{p}, nil
	}

	var found []Policy
	walkErr := filepath.WalkDir(ref, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isPolicyFile(d.Name()) {
			return err
		}
		p, err := l.readFile(path)
		if err == nil {
			found = append(found, p)
		}
		return err
	})
	if walkErr != nil {
		return nil, walkErr
	}
	if len(found) == 0 {
		return nil, errors.New("directory holds no .rego files")
	}

	slices.SortFunc(found, func(a, b Policy) int { return strings.Compare(a.Source, b.Source) })
	return found, nil
}

// isPolicyFile accepts Rego modules and leaves out their unit tests.
func isPolicyFile(name string) bool {
	return filepath.Ext(name) == ".rego" && !strings.HasSuffix(name, "_test.rego")
}

func (l *Loader) readFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, err
	}

	p := Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: extractDescription(string(data)),
		Source:      path,
		Rego:        string(data),
	}
	l.logger.Debug().Str("policy", p.Name).Str("path", path).Msg("Read policy file")
	return p, nil
}

// extractDescription joins the comment lines before the first statement of
// a Rego module.
func extractDescription(module string) string {
	var words []string
	sc := bufio.NewScanner(strings.NewReader(module))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		text, ok := strings.CutPrefix(line, "#")
		if !ok {
			break
		}
		if text = strings.TrimSpace(text); text != "" {
			words = append(words, text)
		}
	}
	return strings.Join(words, " ")
}
