package blocker

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// definitionEntry is a single blocker as written in a definitions file. Pointer
// fields distinguish absent keys from zero values.
type definitionEntry struct {
	Enabled     *bool    `yaml:"enabled" toml:"enabled"`
	Type        string   `yaml:"type" toml:"type"`
	Material    string   `yaml:"material" toml:"material"`
	ChunkRange  *int     `yaml:"chunk-range" toml:"chunk-range"`
	Name        string   `yaml:"name" toml:"name"`
	Description string   `yaml:"description" toml:"description"`
	Lore        []string `yaml:"lore" toml:"lore"`
}

// LoadDefinitions reads the definitions file at path and returns a Registry
// holding every well-formed entry. Files ending in .toml are decoded as TOML,
// all other files as YAML. A missing file results in an empty Registry. Entries
// that cannot be decoded or fail validation are skipped with a warning.
func LoadDefinitions(path string, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Blocker definitions file not found, spawn blockers disabled.", "path", path)
			return NewRegistry(), nil
		}
		return nil, fmt.Errorf("read blocker definitions: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseDefinitionsTOML(contents, log)
	}
	return ParseDefinitionsYAML(contents, log)
}

// ParseDefinitionsYAML parses definitions keyed by id under a top level
// blockers key.
func ParseDefinitionsYAML(contents []byte, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	var file struct {
		Blockers map[string]yaml.Node `yaml:"blockers"`
	}
	if err := yaml.Unmarshal(contents, &file); err != nil {
		return nil, fmt.Errorf("decode blocker definitions: %w", err)
	}
	ids := make([]string, 0, len(file.Blockers))
	for id := range file.Blockers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	defs := make([]Definition, 0, len(ids))
	for _, id := range ids {
		node := file.Blockers[id]
		var entry definitionEntry
		if err := node.Decode(&entry); err != nil {
			log.Warn("Skipping malformed blocker definition.", "id", id, "err", err)
			continue
		}
		if d, ok := entry.definition(id, log); ok {
			defs = append(defs, d)
		}
	}
	return NewRegistry(defs...), nil
}

// ParseDefinitionsTOML parses definitions held in [blockers.<id>] tables.
func ParseDefinitionsTOML(contents []byte, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	tree, err := toml.LoadBytes(contents)
	if err != nil {
		return nil, fmt.Errorf("decode blocker definitions: %w", err)
	}
	section, ok := tree.Get("blockers").(*toml.Tree)
	if !ok {
		return NewRegistry(), nil
	}
	ids := section.Keys()
	sort.Strings(ids)

	defs := make([]Definition, 0, len(ids))
	for _, id := range ids {
		sub, ok := section.Get(id).(*toml.Tree)
		if !ok {
			log.Warn("Skipping malformed blocker definition.", "id", id, "err", "not a table")
			continue
		}
		var entry definitionEntry
		if err := sub.Unmarshal(&entry); err != nil {
			log.Warn("Skipping malformed blocker definition.", "id", id, "err", err)
			continue
		}
		if d, ok := entry.definition(id, log); ok {
			defs = append(defs, d)
		}
	}
	return NewRegistry(defs...), nil
}

func (e definitionEntry) definition(id string, log *slog.Logger) (Definition, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		log.Warn("Skipping blocker definition without id.")
		return Definition{}, false
	}
	if !ValidID(id) {
		log.Warn("Skipping blocker definition with reserved characters in its id.", "id", id)
		return Definition{}, false
	}
	kind := SourceWorldBlock
	if e.Type != "" {
		parsed, ok := ParseSourceKind(e.Type)
		if !ok {
			log.Warn("Skipping blocker definition with unknown type.", "id", id, "type", e.Type)
			return Definition{}, false
		}
		kind = parsed
	}
	material := NormaliseMaterial(e.Material)
	if material == "" {
		log.Warn("Skipping blocker definition without material.", "id", id)
		return Definition{}, false
	}
	chunkRange := 1
	if e.ChunkRange != nil {
		chunkRange = *e.ChunkRange
	}
	if chunkRange < 1 {
		log.Warn("Skipping blocker definition with chunk range below 1.", "id", id, "chunk-range", chunkRange)
		return Definition{}, false
	}
	if chunkRange > MaxChunkRange {
		log.Warn("Skipping blocker definition with chunk range above maximum.", "id", id, "chunk-range", chunkRange, "max", MaxChunkRange)
		return Definition{}, false
	}
	d := Definition{
		ID:          id,
		Enabled:     e.Enabled == nil || *e.Enabled,
		Kind:        kind,
		Material:    material,
		ChunkRange:  chunkRange,
		DisplayName: e.Name,
		Description: e.Description,
	}
	if d.DisplayName == "" {
		d.DisplayName = defaultDisplayName(id)
	}
	if kind == SourcePortableItem {
		d.Lore = e.Lore
	} else if len(e.Lore) > 0 {
		log.Debug("Ignoring lore of block blocker definition.", "id", id)
	}
	return d, true
}

// defaultDisplayName turns an id such as "warding_beacon" into "Warding Beacon".
func defaultDisplayName(id string) string {
	words := strings.FieldsFunc(id, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	})
	return cases.Title(language.English).String(strings.Join(words, " "))
}
