// Package plan loads declarative test plans and turns them into runnable
// assemblies of shell command test cases.
package plan

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-testexec/runner"
	"github.com/ethereum-optimism/infra/op-testexec/sinks"
	"github.com/ethereum-optimism/infra/op-testexec/types"
)

const (
	DefaultShell   = "/bin/sh"
	DefaultTimeout = 10 * time.Minute
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the plan format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported plan file extension %q", filepath.Ext(path))
	}
}

// File is the on-disk shape of a plan.
type File struct {
	Name        string                 `yaml:"name" toml:"name"`
	WorkDir     string                 `yaml:"work_dir" toml:"work_dir"`
	Shell       string                 `yaml:"shell" toml:"shell"`
	Timeout     time.Duration          `yaml:"timeout" toml:"timeout"`
	Env         map[string]string      `yaml:"env" toml:"env"`
	Options     types.ExecutionOptions `yaml:"options" toml:"options"`
	Fixtures    []FixtureSpec          `yaml:"fixtures" toml:"fixtures"`
	Collections []CollectionSpec       `yaml:"collections" toml:"collections"`
}

type FixtureSpec struct {
	Name     string        `yaml:"name" toml:"name"`
	Setup    string        `yaml:"setup" toml:"setup"`
	Teardown string        `yaml:"teardown" toml:"teardown"`
	Timeout  time.Duration `yaml:"timeout" toml:"timeout"`
}

type CollectionSpec struct {
	Name                   string                   `yaml:"name" toml:"name"`
	DisableParallelization bool                     `yaml:"disable_parallelization" toml:"disable_parallelization"`
	Traits                 map[string][]string      `yaml:"traits" toml:"traits"`
	Fixtures               []FixtureSpec            `yaml:"fixtures" toml:"fixtures"`
	ClassFixtures          map[string][]FixtureSpec `yaml:"class_fixtures" toml:"class_fixtures"`
	Cases                  []CaseSpec               `yaml:"cases" toml:"cases"`
}

type CaseSpec struct {
	Name   string `yaml:"name" toml:"name"`
	Class  string `yaml:"class" toml:"class"`
	Method string `yaml:"method" toml:"method"`
	Run    string `yaml:"run" toml:"run"`
	Skip   string `yaml:"skip" toml:"skip"`
	// SkipExitCode marks the case skipped when the command exits with it.
	SkipExitCode int                 `yaml:"skip_exit_code" toml:"skip_exit_code"`
	Timeout      time.Duration       `yaml:"timeout" toml:"timeout"`
	Env          map[string]string   `yaml:"env" toml:"env"`
	Traits       map[string][]string `yaml:"traits" toml:"traits"`

	line int
}

func (c *CaseSpec) UnmarshalYAML(value *yaml.Node) error {
	type plain CaseSpec
	if err := value.Decode((*plain)(c)); err != nil {
		return err
	}
	c.line = value.Line
	return nil
}

// Plan is a loaded and validated plan file.
type Plan struct {
	Path string
	File File

	// test case unique ID -> line of its definition
	lines map[string]int
}

// Load reads, validates and parses the plan at path.
func Load(path string) (*Plan, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plan path: %w", err)
	}
	return Parse(data, format, abs)
}

// Parse validates and parses plan data. path is recorded as the assembly
// path and used to resolve a relative work dir.
func Parse(data []byte, format Format, path string) (*Plan, error) {
	var (
		doc  map[string]any
		file File
	)
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML plan: %w", err)
		}
		if err := validateDocument(doc); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to decode YAML plan: %w", err)
		}
	case FormatTOML:
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to parse TOML plan: %w", err)
		}
		if err := validateDocument(doc); err != nil {
			return nil, err
		}
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&file); err != nil {
			return nil, fmt.Errorf("failed to decode TOML plan: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported plan format %q", format)
	}

	p := &Plan{Path: path, File: file}
	if err := p.normalize(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Plan) normalize() error {
	f := &p.File
	if f.Shell == "" {
		f.Shell = DefaultShell
	}
	if f.Timeout == 0 {
		f.Timeout = DefaultTimeout
	}
	if f.WorkDir == "" {
		f.WorkDir = "."
	}
	if !filepath.IsAbs(f.WorkDir) && p.Path != "" {
		f.WorkDir = filepath.Join(filepath.Dir(p.Path), f.WorkDir)
	}
	if err := f.Options.Validate(); err != nil {
		return fmt.Errorf("invalid plan options: %w", err)
	}

	p.lines = make(map[string]int)
	asmID := p.assemblyID()
	collections := make(map[string]bool)
	for _, coll := range f.Collections {
		if collections[coll.Name] {
			return fmt.Errorf("duplicate collection %q", coll.Name)
		}
		collections[coll.Name] = true

		collID := types.CollectionUniqueID(asmID, coll.Name, "")
		for _, c := range coll.Cases {
			if c.Run == "" && c.Skip == "" {
				return fmt.Errorf("case %q in collection %q has nothing to run", c.Name, coll.Name)
			}
			id := caseID(collID, c)
			if _, dup := p.lines[id]; dup {
				return fmt.Errorf("duplicate case %q in collection %q", c.displayName(), coll.Name)
			}
			p.lines[id] = c.line
		}
	}
	return nil
}

func (p *Plan) assemblyID() string {
	return (&runner.Assembly{Name: p.File.Name, Path: p.Path}).UniqueID()
}

func caseID(collectionID string, c CaseSpec) string {
	return types.TestCaseUniqueID(collectionID, c.Class, c.Method, c.Name)
}

func (c CaseSpec) displayName() string {
	parts := make([]string, 0, 3)
	for _, part := range []string{c.Class, c.Method, c.Name} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ".")
}

// Options returns the execution options declared by the plan.
func (p *Plan) Options() types.ExecutionOptions {
	return p.File.Options
}

// Assembly builds a runnable assembly whose cases and fixtures run shell
// commands.
func (p *Plan) Assembly(logger log.Logger) *runner.Assembly {
	f := p.File
	cmds := &commandRunner{
		log:     logger.New("component", "plan-commands"),
		shell:   f.Shell,
		workDir: f.WorkDir,
		env:     f.Env,
	}
	asm := &runner.Assembly{
		Name:     f.Name,
		Path:     p.Path,
		Fixtures: buildFixtures(cmds, "assembly", f.Fixtures, f.Timeout),
	}
	asmID := asm.UniqueID()

	for _, spec := range f.Collections {
		coll := &runner.Collection{
			DisplayName:            spec.Name,
			Traits:                 spec.Traits,
			DisableParallelization: spec.DisableParallelization,
			Fixtures:               buildFixtures(cmds, "collection", spec.Fixtures, f.Timeout),
			ClassFixtures:          make(map[string][]types.Fixture, len(spec.ClassFixtures)),
		}
		for class, fixtures := range spec.ClassFixtures {
			coll.ClassFixtures[class] = buildFixtures(cmds, "class", fixtures, f.Timeout)
		}
		collID := types.CollectionUniqueID(asmID, spec.Name, "")
		for _, c := range spec.Cases {
			timeout := c.Timeout
			if timeout == 0 {
				timeout = f.Timeout
			}
			coll.Cases = append(coll.Cases, &CommandTestCase{
				id:      caseID(collID, c),
				spec:    c,
				timeout: timeout,
				cmds:    cmds,
			})
		}
		asm.Collections = append(asm.Collections, coll)
	}
	return asm
}

func buildFixtures(cmds *commandRunner, level string, specs []FixtureSpec, defaultTimeout time.Duration) []types.Fixture {
	var out []types.Fixture
	for _, spec := range specs {
		timeout := spec.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		out = append(out, &CommandFixture{spec: spec, level: level, timeout: timeout, cmds: cmds})
	}
	return out
}

var _ sinks.SourceInformationProvider = (*Plan)(nil)

// SourceInformation points test cases at their definition in the plan file.
func (p *Plan) SourceInformation(msg types.TestCaseStarting) (sinks.SourceInformation, bool) {
	line, ok := p.lines[msg.TestCaseID]
	if !ok || line == 0 {
		// only YAML plans record lines
		return sinks.SourceInformation{}, false
	}
	return sinks.SourceInformation{File: p.Path, Line: line}, true
}
