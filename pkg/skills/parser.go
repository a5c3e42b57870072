package skills

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

// SkillFileName is the conventional skill definition document name.
const SkillFileName = "SKILL.md"

// referencePattern matches file names recognized as reference documents
// during auto-discovery.
const referencePattern = "*.{md,txt,json,yaml,yml}"

// frontmatter is the typed shape of the SKILL.md header. The raw mapping
// from the document is decoded into this struct at the boundary; no internal
// code touches the untyped map.
type frontmatter struct {
	Name        string         `mapstructure:"name"`
	Description string         `mapstructure:"description"`
	Version     string         `mapstructure:"version"`
	Triggers    []string       `mapstructure:"triggers"`
	Author      string         `mapstructure:"author"`
	Tags        []string       `mapstructure:"tags"`
	References  []any          `mapstructure:"references"`
	Scripts     []scriptSpec   `mapstructure:"scripts"`
	Dependency  dependencySpec `mapstructure:"dependency"`
}

type referenceSpec struct {
	Path        string `mapstructure:"path"`
	Condition   string `mapstructure:"condition"`
	Description string `mapstructure:"description"`
	Mode        string `mapstructure:"mode"`
}

type scriptSpec struct {
	Name        string   `mapstructure:"name"`
	Path        string   `mapstructure:"path"`
	Description string   `mapstructure:"description"`
	Args        []string `mapstructure:"args"`
	Timeout     int      `mapstructure:"timeout"`
	Sandbox     *bool    `mapstructure:"sandbox"`
	Outputs     []string `mapstructure:"outputs"`
}

type dependencySpec struct {
	Python []string `mapstructure:"python"`
	System []string `mapstructure:"system"`
}

// Parser turns SKILL.md documents into Skill objects. Metadata-only parsing
// skips the instruction body so discovery stays cheap.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile parses a SKILL.md file from disk.
func (p *Parser) ParseFile(path string, metadataOnly bool) (*Skill, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read skill file")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	return p.Parse(string(content), abs, metadataOnly)
}

// Parse parses SKILL.md content. sourcePath may be empty for in-memory
// documents; reference auto-discovery only runs when it is set.
func (p *Parser) Parse(content, sourcePath string, metadataOnly bool) (*Skill, error) {
	raw, err := extractFrontmatter([]byte(content))
	if err != nil {
		return nil, err
	}

	var fm frontmatter
	if err := mapstructure.WeakDecode(raw, &fm); err != nil {
		return nil, &ValidationError{Reason: "malformed frontmatter: " + err.Error()}
	}

	var missing []string
	if fm.Name == "" {
		missing = append(missing, "name")
	}
	if fm.Description == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return nil, &ValidationError{MissingFields: missing}
	}

	version := fm.Version
	if version == "" {
		version = "1.0.0"
	}

	skill := &Skill{
		Metadata: Metadata{
			Name:        fm.Name,
			Description: fm.Description,
			Version:     version,
			Triggers:    fm.Triggers,
			Author:      fm.Author,
			Tags:        fm.Tags,
		},
		SourcePath: sourcePath,
	}

	skill.Resources, err = p.parseResources(&fm, sourcePath)
	if err != nil {
		return nil, err
	}

	if !metadataOnly {
		body := extractBody(content)
		if body != "" {
			skill.Instruction = &Instruction{Content: body, Raw: content}
		}
	}

	return skill, nil
}

// ParseMetadata is a convenience for discovery-time metadata-only parsing.
func (p *Parser) ParseMetadata(path string) (Metadata, error) {
	skill, err := p.ParseFile(path, true)
	if err != nil {
		return Metadata{}, err
	}
	return skill.Metadata, nil
}

func (p *Parser) parseResources(fm *frontmatter, sourcePath string) (Resources, error) {
	res := Resources{
		Dependency: Dependency{Python: fm.Dependency.Python, System: fm.Dependency.System},
	}

	declared := make(map[string]bool)

	for _, entry := range fm.References {
		switch v := entry.(type) {
		case string:
			declared[v] = true
			res.References = append(res.References, &Reference{
				Path: v,
				Mode: ModeImplicit,
			})
		default:
			var spec referenceSpec
			if err := mapstructure.WeakDecode(entry, &spec); err != nil {
				return Resources{}, &ValidationError{Reason: "malformed reference entry: " + err.Error()}
			}
			declared[spec.Path] = true
			res.References = append(res.References, &Reference{
				Path:        spec.Path,
				Condition:   spec.Condition,
				Description: spec.Description,
				Mode:        ParseReferenceMode(spec.Mode),
			})
		}
	}

	if sourcePath != "" {
		res.References = append(res.References,
			discoverReferences(filepath.Join(filepath.Dir(sourcePath), ReferencesDir), declared)...)
	}

	for _, spec := range fm.Scripts {
		script := &Script{
			Name:        spec.Name,
			Path:        spec.Path,
			Description: spec.Description,
			Args:        spec.Args,
			Timeout:     spec.Timeout,
			Sandbox:     true,
			Outputs:     spec.Outputs,
		}
		if spec.Sandbox != nil {
			script.Sandbox = *spec.Sandbox
		}
		script.ClampTimeout()
		res.Scripts = append(res.Scripts, script)
	}

	return res, nil
}

// discoverReferences walks the references/ directory and registers every
// recognized file not already declared in the header as an implicit
// reference. Skill authors get convenience for plain docs while keeping the
// ability to declare conditions explicitly for targeted loading.
func discoverReferences(dir string, declared map[string]bool) []*Reference {
	var found []*Reference

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if ok, _ := doublestar.Match(referencePattern, strings.ToLower(d.Name())); !ok {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		refPath := ReferencesDir + "/" + filepath.ToSlash(rel)
		if declared[refPath] {
			return nil
		}
		found = append(found, &Reference{
			Path:        refPath,
			Description: "auto-discovered: " + d.Name(),
			Mode:        ModeImplicit,
		})
		return nil
	})

	return found
}

// extractFrontmatter parses the YAML header via goldmark-meta and returns
// the raw mapping. A missing or non-mapping header is a validation error.
func extractFrontmatter(content []byte) (map[string]any, error) {
	md := goldmark.New(goldmark.WithExtensions(meta.Meta))

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, &ValidationError{Reason: "failed to parse document: " + err.Error()}
	}

	raw := meta.Get(pctx)
	if raw == nil {
		return nil, &ValidationError{Reason: "missing frontmatter"}
	}
	return raw, nil
}

// extractBody strips the YAML frontmatter block and returns the markdown
// body.
func extractBody(content string) string {
	if !strings.HasPrefix(content, "---") {
		return strings.TrimSpace(content)
	}

	lines := strings.Split(content, "\n")
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return strings.TrimSpace(content)
	}

	return strings.TrimSpace(strings.Join(lines[end+1:], "\n"))
}
