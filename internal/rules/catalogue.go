package rules

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/splashkes/eventlinter/pkg/models"
	"gopkg.in/yaml.v3"
)

// ruleDelimiter opens each rule block in a catalogue document.
const ruleDelimiter = "- id:"

// ParseCatalogue reads a rule catalogue document. A YAML mapping with a
// "rules" list is decoded directly; any other document is scanned line by
// line, one block per rule, picking out the known "key: value" lines.
// Fields that cannot be read are left empty rather than failing the load.
func ParseCatalogue(doc []byte) []models.Rule {
	if rules, ok := parseYAML(doc); ok {
		return rules
	}
	return parseBlocks(doc)
}

// parseYAML decodes the "rules" list of a YAML catalogue. Each rule's
// Source is its slice of the document, from its own line up to the next
// rule or the next top-level key.
func parseYAML(doc []byte) ([]models.Rule, bool) {
	var root yaml.Node
	if err := yaml.Unmarshal(doc, &root); err != nil || len(root.Content) == 0 {
		return nil, false
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, false
	}

	lines := strings.Split(string(doc), "\n")
	var (
		seq *yaml.Node
		end = len(lines) + 1
	)
	for i := 0; i+1 < len(top.Content); i += 2 {
		if seq != nil {
			end = top.Content[i].Line
			break
		}
		if top.Content[i].Value == "rules" && top.Content[i+1].Kind == yaml.SequenceNode {
			seq = top.Content[i+1]
		}
	}
	if seq == nil || len(seq.Content) == 0 {
		return nil, false
	}

	out := make([]models.Rule, 0, len(seq.Content))
	for i, item := range seq.Content {
		var r models.Rule
		if err := item.Decode(&r); err != nil {
			return nil, false
		}
		stop := end
		if i+1 < len(seq.Content) {
			stop = seq.Content[i+1].Line
		}
		r.Source = nodeSource(lines, item, stop, seq.Style&yaml.FlowStyle != 0)
		out = append(out, r)
	}
	return out, true
}

// nodeSource returns lines [item.Line, stop) of the document. Items of a
// flow-style list share lines, so they are re-encoded instead.
func nodeSource(lines []string, item *yaml.Node, stop int, flow bool) string {
	start := item.Line
	if !flow && start >= 1 && start < stop && stop-1 <= len(lines) {
		return strings.TrimRight(strings.Join(lines[start-1:stop-1], "\n"), " \t\r\n")
	}
	b, err := yaml.Marshal(item)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(b), "\n")
}

func parseBlocks(doc []byte) []models.Rule {
	var (
		out   []models.Rule
		cur   *models.Rule
		block strings.Builder
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Source = strings.TrimRight(block.String(), "\n")
		if cur.ID != "" {
			out = append(out, *cur)
		}
		cur = nil
		block.Reset()
	}

	sc := bufio.NewScanner(bytes.NewReader(doc))
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, ruleDelimiter) {
			flush()
			cur = &models.Rule{ID: unquote(strings.TrimPrefix(trimmed, ruleDelimiter))}
		}
		if cur == nil {
			continue
		}
		block.WriteString(line)
		block.WriteByte('\n')

		key, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		assign(cur, strings.TrimSpace(key), unquote(value))
	}
	flush()

	if out == nil {
		return []models.Rule{}
	}
	return out
}

// assign sets the first occurrence of each known key in a block.
func assign(r *models.Rule, key, value string) {
	if value == "" {
		return
	}
	switch key {
	case "name":
		if r.Name == "" {
			r.Name = value
		}
	case "severity":
		if r.Severity == "" {
			r.Severity = models.Severity(value)
		}
	case "category":
		if r.Category == "" {
			r.Category = value
		}
	case "description":
		if r.Description == "" {
			r.Description = value
		}
	case "context":
		if r.Context == "" {
			r.Context = value
		}
	}
}

func unquote(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
