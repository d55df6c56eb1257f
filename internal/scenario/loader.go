// internal/scenario/loader.go
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/xkilldash9x/walkthrough/api/schemas"
	"github.com/xkilldash9x/walkthrough/internal/config"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Loader reads scenario definitions from disk and turns them into validated
// schemas.Scenario values.
type Loader struct {
	logger    *zap.Logger
	variables map[string]string
	opts      Options
	// lookupEnv is swapped in tests.
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader using the scenario section of the configuration.
func NewLoader(cfg config.ScenarioConfig, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		logger:    logger.Named("scenario_loader"),
		variables: cfg.Variables,
		opts:      Options{RequireLogin: cfg.RequireLogin},
		lookupEnv: os.LookupEnv,
	}
}

// Load accepts any mix of files and directories and returns every scenario
// they define, in a stable order. Scenario names must be unique across the set.
func (l *Loader) Load(paths ...string) ([]*schemas.Scenario, error) {
	if len(paths) == 0 {
		return nil, errors.New("no scenario paths given")
	}

	var all []*schemas.Scenario
	for _, p := range paths {
		expanded, err := homedir.Expand(p)
		if err != nil {
			return nil, fmt.Errorf("failed to expand path %q: %w", p, err)
		}
		info, err := os.Stat(expanded)
		if err != nil {
			return nil, fmt.Errorf("failed to stat scenario path: %w", err)
		}

		var loaded []*schemas.Scenario
		if info.IsDir() {
			loaded, err = l.LoadDir(expanded)
		} else {
			loaded, err = l.LoadFile(expanded)
		}
		if err != nil {
			return nil, err
		}
		all = append(all, loaded...)
	}

	if err := checkUniqueNames(all); err != nil {
		return nil, err
	}
	return all, nil
}

// LoadDir walks dir and loads every .yaml, .yml and .json file in lexical order.
// Hidden directories are skipped.
func (l *Loader) LoadDir(dir string) ([]*schemas.Scenario, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsScenarioFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk scenario directory %s: %w", dir, err)
	}
	sort.Strings(files)

	var all []*schemas.Scenario
	for _, f := range files {
		loaded, err := l.LoadFile(f)
		if err != nil {
			return nil, err
		}
		all = append(all, loaded...)
	}
	l.logger.Debug("Loaded scenario directory", zap.String("dir", dir), zap.Int("files", len(files)), zap.Int("scenarios", len(all)))
	return all, nil
}

// LoadFile loads the scenarios defined in a single file.
func (l *Loader) LoadFile(path string) ([]*schemas.Scenario, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand path: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	scenarios, err := l.Parse(data, path)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("Loaded scenario file", zap.String("path", path), zap.Int("scenarios", len(scenarios)))
	return scenarios, nil
}

// Parse decodes, interpolates and validates the scenarios in data. A file may
// contain several YAML documents. source is only used in error messages.
func (l *Loader) Parse(data []byte, source string) ([]*schemas.Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var raws []rawScenario
	for {
		var doc document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: failed to parse scenario document: %w", sourceName(source), err)
		}

		switch {
		case len(doc.Scenarios) > 0 && !doc.rawScenario.isZero():
			return nil, fmt.Errorf("%s: a document holds either a single scenario or a scenarios list, not both", sourceName(source))
		case len(doc.Scenarios) > 0:
			raws = append(raws, doc.Scenarios...)
		case !doc.rawScenario.isZero():
			raws = append(raws, doc.rawScenario)
		}
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("%s: no scenarios defined", sourceName(source))
	}

	scenarios := make([]*schemas.Scenario, 0, len(raws))
	for _, raw := range raws {
		sc, err := l.build(raw, source)
		if err != nil {
			return nil, err
		}
		if err := Validate(sc, l.opts); err != nil {
			return nil, err
		}
		scenarios = append(scenarios, sc)
	}

	if err := checkUniqueNames(scenarios); err != nil {
		return nil, err
	}
	return scenarios, nil
}

// build interpolates the raw scenario and converts it to the shared model.
func (l *Loader) build(raw rawScenario, source string) (*schemas.Scenario, error) {
	fail := func(step int, err error) error {
		return &ValidationError{Source: source, Scenario: raw.Name, Step: step, Reason: err.Error()}
	}

	// Scenario variables may themselves refer to configured or environment values.
	outer := &resolver{layers: []map[string]string{l.variables}, env: l.lookupEnv}
	vars := make(map[string]string, len(raw.Vars))
	for k, v := range raw.Vars {
		expanded, err := outer.expand(v)
		if err != nil {
			return nil, fail(-1, fmt.Errorf("vars.%s: %w", k, err))
		}
		vars[k] = expanded
	}
	res := &resolver{layers: []map[string]string{vars, l.variables}, env: l.lookupEnv}

	sc := &schemas.Scenario{
		Name:        raw.Name,
		Description: raw.Description,
		Tags:        raw.Tags,
		Source:      source,
		Steps:       make([]schemas.Step, 0, len(raw.Steps)),
	}
	if len(vars) > 0 {
		sc.Vars = vars
	}
	if err := res.expandAll(&sc.Name, &sc.Description); err != nil {
		return nil, fail(-1, err)
	}

	for i, rs := range raw.Steps {
		step, err := buildStep(rs, res)
		if err != nil {
			return nil, fail(i, err)
		}
		sc.Steps = append(sc.Steps, step)
	}
	return sc, nil
}

func buildStep(rs rawStep, res *resolver) (schemas.Step, error) {
	f := rs.Fields
	step := schemas.Step{Name: rs.Name}
	if err := res.expandAll(&step.Name, &f.Target, &f.Text, &f.Payload, &f.Expected); err != nil {
		return step, err
	}

	if rs.Timeout != "" {
		d, err := time.ParseDuration(rs.Timeout)
		if err != nil {
			return step, fmt.Errorf("invalid timeout %q: %w", rs.Timeout, err)
		}
		step.Timeout = d
	}

	if f.Kind == "" {
		return step, fmt.Errorf("line %d: kind is required", rs.Line)
	}
	isAction, known := lookupKind(f.Kind)
	if !known {
		return step, fmt.Errorf("line %d: unknown step kind %q", rs.Line, f.Kind)
	}
	if isAction != rs.IsAction {
		want := "assertion"
		if rs.IsAction {
			want = "action"
		}
		return step, fmt.Errorf("line %d: %q is not an %s kind", rs.Line, f.Kind, want)
	}

	if isAction {
		if f.Expected != "" {
			return step, fmt.Errorf("line %d: actions take no expected value", rs.Line)
		}
		step.Action = &schemas.Action{
			Kind:    schemas.ActionKind(f.Kind),
			Target:  f.Target,
			Text:    f.Text,
			Payload: f.Payload,
		}
		return step, nil
	}

	if f.Payload != "" || f.Text != "" {
		return step, fmt.Errorf("line %d: assertions take target and expected only", rs.Line)
	}
	a := &schemas.Assertion{Kind: schemas.AssertionKind(f.Kind), Target: f.Target}
	if a.Kind.IsCount() {
		n, err := strconv.Atoi(strings.TrimSpace(f.Expected))
		if err != nil {
			return step, fmt.Errorf("line %d: %s expects an integer, got %q", rs.Line, f.Kind, f.Expected)
		}
		a.Count = n
	} else {
		a.Expected = f.Expected
	}
	step.Assertion = a
	return step, nil
}

// Filter returns the scenarios carrying at least one of tags. With no tags
// every scenario is returned.
func Filter(scenarios []*schemas.Scenario, tags []string) []*schemas.Scenario {
	if len(tags) == 0 {
		return scenarios
	}
	var out []*schemas.Scenario
	for _, sc := range scenarios {
		for _, t := range tags {
			if sc.HasTag(t) {
				out = append(out, sc)
				break
			}
		}
	}
	return out
}

// IsScenarioFile reports whether path has a scenario file extension.
func IsScenarioFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

func checkUniqueNames(scenarios []*schemas.Scenario) error {
	seen := make(map[string]string, len(scenarios))
	for _, sc := range scenarios {
		if prev, ok := seen[sc.Name]; ok {
			return &ValidationError{
				Source:   sc.Source,
				Scenario: sc.Name,
				Step:     -1,
				Reason:   fmt.Sprintf("duplicate scenario name (first defined in %s)", sourceName(prev)),
			}
		}
		seen[sc.Name] = sc.Source
	}
	return nil
}

func sourceName(source string) string {
	if source == "" {
		return "<inline>"
	}
	return source
}
