package definition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// MaxFileSize bounds a single definition document (1MB).
const MaxFileSize = 1 * 1024 * 1024

// ValidationError marks a definition set that failed validation. The reload
// that produced it is rejected wholesale; the previous AgentMap stays active.
type ValidationError struct {
	File   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("definition %s: %s", e.File, e.Reason)
	}
	return "definition set: " + e.Reason
}

// Load parses every YAML document under dir and assembles a validated
// AgentMap. All-or-nothing: any unresolved reference rejects the whole set.
func Load(dir string) (*AgentMap, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition directory: %w", err)
	}

	var (
		agents  []*AgentDefinition
		shared  []ToolSpec
		sources = make(map[string]string) // agent name -> file, for error messages
	)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			log.Debug().Str("file", entry.Name()).Msg("Skipping non-YAML file in definition directory")
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)

		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", name, err)
		}
		if info.Size() > MaxFileSize {
			return nil, &ValidationError{File: name, Reason: fmt.Sprintf("file size %d exceeds maximum %d", info.Size(), MaxFileSize)}
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}

		var def AgentDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, &ValidationError{File: name, Reason: "invalid YAML: " + err.Error()}
		}

		if def.Name == "" {
			// A document without an agent name is a shared toolset.
			var ts toolsetDoc
			if err := yaml.Unmarshal(data, &ts); err != nil {
				return nil, &ValidationError{File: name, Reason: "invalid YAML: " + err.Error()}
			}
			if len(ts.Tools) == 0 {
				return nil, &ValidationError{File: name, Reason: "document has neither an agent name nor tools"}
			}
			shared = append(shared, ts.Tools...)
			continue
		}

		if prev, dup := sources[def.Name]; dup {
			return nil, &ValidationError{File: name, Reason: fmt.Sprintf("agent %q already defined in %s", def.Name, prev)}
		}
		sources[def.Name] = name
		agents = append(agents, &def)
	}

	if len(agents) == 0 {
		return nil, &ValidationError{Reason: "no agent definitions found"}
	}

	m, err := assemble(agents, shared, sources)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("agents", len(agents)).
		Int("shared_tools", len(shared)).
		Strs("communities", m.Communities()).
		Msg("Agent definitions loaded")

	return m, nil
}

// assemble resolves tool references, builds the arena and runs validation.
func assemble(agents []*AgentDefinition, shared []ToolSpec, sources map[string]string) (*AgentMap, error) {
	sharedIdx := make(map[string]*ToolSpec, len(shared))
	for i := range shared {
		name := shared[i].Name
		if name == "" {
			return nil, &ValidationError{Reason: "shared toolset declares a tool without a name"}
		}
		if _, dup := sharedIdx[name]; dup {
			return nil, &ValidationError{Reason: fmt.Sprintf("shared tool %q declared twice", name)}
		}
		sharedIdx[name] = &shared[i]
	}

	m := &AgentMap{
		agents: agents,
		index:  make(map[string]int, len(agents)),
		opener: -1,
	}

	for i, a := range agents {
		m.index[a.Name] = i

		a.resolvedTools = append(a.resolvedTools, a.Tools...)
		for _, ref := range a.UseTools {
			spec, ok := sharedIdx[ref]
			if !ok {
				return nil, &ValidationError{
					File:   sources[a.Name],
					Reason: fmt.Sprintf("agent %q references undeclared tool %q", a.Name, ref),
				}
			}
			a.resolvedTools = append(a.resolvedTools, *spec)
		}

		if a.Opener {
			if m.opener >= 0 {
				return nil, &ValidationError{
					File:   sources[a.Name],
					Reason: fmt.Sprintf("agent %q marked opener but %q already is", a.Name, agents[m.opener].Name),
				}
			}
			m.opener = i
		}
	}

	if m.opener < 0 {
		return nil, &ValidationError{Reason: "no agent marked as opener"}
	}

	if err := validate(m, sources); err != nil {
		return nil, err
	}

	return m, nil
}
