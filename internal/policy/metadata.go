package policy

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/latticegate/sentry/internal/decision"
	"github.com/latticegate/sentry/internal/event"
)

// Routing declares when a rule is a candidate for matching an event: it
// must need no more than the event kinds and tool names listed (empty
// means "every kind"/"every tool"), and every signal it names must have
// been gathered before evaluation.
type Routing struct {
	RequiredEvents  []event.Kind `yaml:"required_events"`
	RequiredTools   []string     `yaml:"required_tools"`
	RequiredSignals []string     `yaml:"required_signals"`
}

// Metadata is the parsed "# METADATA" comment block preceding a rule (or
// an entire policy file, for package-scoped metadata).
type Metadata struct {
	Title    string           `yaml:"title"`
	Severity decision.Severity `yaml:"severity"`
	ID       string           `yaml:"id"`
	Routing  Routing          `yaml:"routing"`
}

// yamlMetadata is the wire shape used only for unmarshalling; Severity
// is normalised to upper-case after decode since YAML authors write it
// in any case.
type yamlMetadata struct {
	Title    string   `yaml:"title"`
	Severity string   `yaml:"severity"`
	ID       string   `yaml:"id"`
	Routing  Routing  `yaml:"routing"`
}

// metadataBlock is one parsed "# METADATA" block plus the line index
// (0-based, into the original source) where its body ends — i.e. where
// the rule declaration that follows it begins.
type metadataBlock struct {
	Meta      Metadata
	StartLine int
	EndLine   int
}

// scanMetadataBlocks scans source for every "# METADATA" comment block
// and returns them in file order, along with each block's end line. A
// block opens on a line that is exactly "# METADATA" (surrounding
// whitespace ignored) and closes at the first line that is blank or not
// a comment. Every line in between has its leading "#" (and one following
// space, if present) stripped before being handed to the YAML parser as
// one document.
func scanMetadataBlocks(lines []string) ([]metadataBlock, error) {
	var blocks []metadataBlock

	for i := 0; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != "# METADATA" {
			continue
		}
		var body []string
		j := i + 1
		for ; j < len(lines); j++ {
			trimmed := strings.TrimRight(lines[j], " \t")
			if strings.TrimSpace(trimmed) == "" {
				break
			}
			if !strings.HasPrefix(strings.TrimSpace(trimmed), "#") {
				break
			}
			body = append(body, stripCommentPrefix(trimmed))
		}

		var raw yamlMetadata
		if err := yaml.Unmarshal([]byte(strings.Join(body, "\n")), &raw); err != nil {
			return nil, fmt.Errorf("policy: invalid METADATA block at line %d: %w", i+1, err)
		}
		blocks = append(blocks, metadataBlock{
			Meta: Metadata{
				Title:    raw.Title,
				Severity: decision.Severity(strings.ToUpper(raw.Severity)),
				ID:       raw.ID,
				Routing:  raw.Routing,
			},
			StartLine: i,
			EndLine:   j,
		})
		i = j - 1
	}

	return blocks, nil
}

// ParseMetadataBlocks scans source for every "# METADATA" comment block
// and returns their decoded metadata in file order.
func ParseMetadataBlocks(source string) ([]Metadata, error) {
	blocks, err := scanMetadataBlocks(strings.Split(source, "\n"))
	if err != nil {
		return nil, err
	}
	out := make([]Metadata, len(blocks))
	for i, b := range blocks {
		out[i] = b.Meta
	}
	return out, nil
}

func stripCommentPrefix(line string) string {
	trimmed := strings.TrimLeft(line, " \t")
	trimmed = strings.TrimPrefix(trimmed, "#")
	trimmed = strings.TrimPrefix(trimmed, " ")
	return trimmed
}
