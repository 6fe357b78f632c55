package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

const FileName = "prompts.yaml"

//go:embed default.yaml
var defaultCatalog []byte

type Prompt struct {
	System      string `yaml:"system"`
	Instruction string `yaml:"instruction"`
}

// Data is the value templates are executed against.
type Data struct {
	Topic     string
	PartyName string
	Report    map[string]any
}

type Rendered struct {
	System      string
	Instruction string
}

type Catalog struct {
	prompts   map[string]Prompt
	templates map[string]*template.Template
}

type catalogFile struct {
	Prompts map[string]Prompt `yaml:"prompts"`
}

var ErrUnknownPrompt = errors.New("unknown prompt")

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}
	if len(file.Prompts) == 0 {
		return nil, errors.New("prompt catalog has no prompts")
	}
	catalog := &Catalog{
		prompts:   make(map[string]Prompt, len(file.Prompts)),
		templates: make(map[string]*template.Template, len(file.Prompts)),
	}
	for key, prompt := range file.Prompts {
		if err := catalog.add(key, prompt); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// Load starts from the embedded catalog and overlays the prompts found at
// path, or in the nearest prompts.yaml above the working directory when path
// is empty. A missing overlay file is not an error.
func Load(path string) (*Catalog, error) {
	catalog, err := Default()
	if err != nil {
		return nil, err
	}
	var data []byte
	if strings.TrimSpace(path) != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompt catalog %s: %w", path, err)
		}
	} else {
		data, err = ReadFromDisk()
		if errors.Is(err, os.ErrNotExist) {
			return catalog, nil
		}
		if err != nil {
			return nil, err
		}
	}
	overlay, err := Parse(data)
	if err != nil {
		return nil, err
	}
	for key, prompt := range overlay.prompts {
		catalog.prompts[key] = prompt
		catalog.templates[key] = overlay.templates[key]
	}
	return catalog, nil
}

func ReadFromDisk() ([]byte, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	path, err := findInParents(cwd, FileName)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func findInParents(startDir string, filename string) (string, error) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}

func (c *Catalog) add(key string, prompt Prompt) error {
	if strings.TrimSpace(prompt.Instruction) == "" {
		return fmt.Errorf("prompt %s has no instruction", key)
	}
	tmpl, err := template.New(key).Option("missingkey=error").Parse(prompt.Instruction)
	if err != nil {
		return fmt.Errorf("parse prompt %s: %w", key, err)
	}
	c.prompts[key] = prompt
	c.templates[key] = tmpl
	return nil
}

func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.prompts))
	for key := range c.prompts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (c *Catalog) Get(key string) (Prompt, error) {
	prompt, ok := c.prompts[key]
	if !ok {
		return Prompt{}, fmt.Errorf("%w: %s", ErrUnknownPrompt, key)
	}
	return prompt, nil
}

func (c *Catalog) Render(key string, data Data) (Rendered, error) {
	prompt, err := c.Get(key)
	if err != nil {
		return Rendered{}, err
	}
	var b strings.Builder
	if err := c.templates[key].Execute(&b, data); err != nil {
		return Rendered{}, fmt.Errorf("render prompt %s: %w", key, err)
	}
	return Rendered{
		System:      strings.TrimSpace(prompt.System),
		Instruction: strings.TrimSpace(b.String()),
	}, nil
}
