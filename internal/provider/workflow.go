package provider

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultWorkflowYAML is the stock text-to-image graph: checkpoint loader,
// positive and negative prompt encoders, empty latent, sampler, decoder and
// image saver.
const defaultWorkflowYAML = `
"3":
  class_type: KSampler
  inputs:
    seed: "{{seed}}"
    steps: "{{steps}}"
    cfg: "{{cfg}}"
    sampler_name: "{{sampler}}"
    scheduler: normal
    denoise: 1
    model: ["4", 0]
    positive: ["6", 0]
    negative: ["7", 0]
    latent_image: ["5", 0]
"4":
  class_type: CheckpointLoaderSimple
  inputs:
    ckpt_name: "{{model}}"
"5":
  class_type: EmptyLatentImage
  inputs:
    width: "{{width}}"
    height: "{{height}}"
    batch_size: 1
"6":
  class_type: CLIPTextEncode
  inputs:
    text: "{{prompt}}"
    clip: ["4", 1]
"7":
  class_type: CLIPTextEncode
  inputs:
    text: "{{negative}}"
    clip: ["4", 1]
"8":
  class_type: VAEDecode
  inputs:
    samples: ["3", 0]
    vae: ["4", 2]
"9":
  class_type: SaveImage
  inputs:
    filename_prefix: ComfyUI
    images: ["8", 0]
`

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Workflow is a ComfyUI job graph template. String values of the form
// "{{name}}" are replaced by typed variables at render time; placeholders
// embedded in longer strings are replaced textually.
type Workflow struct {
	nodes map[string]any
}

// DefaultWorkflow returns the built-in text-to-image template.
func DefaultWorkflow() *Workflow {
	w, err := ParseWorkflow([]byte(defaultWorkflowYAML))
	if err != nil {
		panic(fmt.Sprintf("built-in workflow: %v", err))
	}
	return w
}

// LoadWorkflow reads a YAML (or JSON, which is valid YAML) template file.
func LoadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}
	w, err := ParseWorkflow(data)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", path, err)
	}
	return w, nil
}

func ParseWorkflow(data []byte) (*Workflow, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("workflow has no nodes")
	}

	nodes := make(map[string]any, len(raw))
	for id, v := range raw {
		node, ok := normalize(v).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("node %q is not a mapping", id)
		}
		if ct, _ := node["class_type"].(string); ct == "" {
			return nil, fmt.Errorf("node %q has no class_type", id)
		}
		nodes[id] = node
	}
	return &Workflow{nodes: nodes}, nil
}

// Placeholders lists the distinct variable names used by the template.
func (w *Workflow) Placeholders() []string {
	seen := make(map[string]struct{})
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			for _, child := range t {
				walk(child)
			}
		case []any:
			for _, child := range t {
				walk(child)
			}
		case string:
			for _, m := range placeholderPattern.FindAllStringSubmatch(t, -1) {
				seen[m[1]] = struct{}{}
			}
		}
	}
	walk(w.nodes)

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render returns a fresh graph with placeholders substituted. Unknown
// placeholders are left untouched so the backend reports them.
func (w *Workflow) Render(vars map[string]any) map[string]any {
	return substitute(w.nodes, vars).(map[string]any)
}

func substitute(v any, vars map[string]any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = substitute(child, vars)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = substitute(child, vars)
		}
		return out
	case string:
		if m := placeholderPattern.FindStringSubmatch(t); m != nil && m[0] == strings.TrimSpace(t) {
			if val, ok := vars[m[1]]; ok {
				return val
			}
			return t
		}
		return placeholderPattern.ReplaceAllStringFunc(t, func(match string) string {
			name := placeholderPattern.FindStringSubmatch(match)[1]
			if val, ok := vars[name]; ok {
				return fmt.Sprint(val)
			}
			return match
		})
	default:
		return v
	}
}

// normalize turns map[any]any produced for non-string keys into
// map[string]any so the graph marshals as JSON.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = normalize(child)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[fmt.Sprint(k)] = normalize(child)
		}
		return out
	case []any:
		for i, child := range t {
			t[i] = normalize(child)
		}
		return t
	default:
		return v
	}
}
