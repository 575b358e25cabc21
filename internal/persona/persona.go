// Package persona holds the bot's character: the directive template sent to
// the completion service and every canned text the bot can answer with.
package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// EmojiPlaceholder is replaced by a random decorative emoji in extras.
const EmojiPlaceholder = "{emoji}"

type Persona struct {
	Awake      string   `yaml:"awake"`
	Greeting   string   `yaml:"greeting"`
	Directive  string   `yaml:"directive"`
	Apology    string   `yaml:"apology"`
	ResetReply string   `yaml:"reset_reply"`
	Help       string   `yaml:"help"`
	Emojis     []string `yaml:"emojis"`
	Extras     []string `yaml:"extras"`
	Jokes      []string `yaml:"jokes"`
	Moods      []string `yaml:"moods"`
}

// Identity is the data the greeting and directive templates render from.
type Identity struct {
	Nickname   string
	AccountTag string
}

// Default returns the built-in persona.
func Default() Persona {
	var p Persona
	if err := yaml.Unmarshal(defaultYAML, &p); err != nil {
		panic(fmt.Sprintf("persona: embedded default is invalid: %v", err))
	}
	return p
}

// Load reads a persona override from path. Fields the file leaves empty keep
// their default values. A missing file yields the default persona and
// found=false.
func Load(path string) (p Persona, found bool, err error) {
	p = Default()
	if path == "" {
		return p, false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, false, nil
	}
	if err != nil {
		return Persona{}, false, fmt.Errorf("read persona %s: %w", path, err)
	}

	var override Persona
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Persona{}, false, fmt.Errorf("decode persona %s: %w", path, err)
	}
	p.merge(override)
	if err := p.Validate(); err != nil {
		return Persona{}, false, fmt.Errorf("persona %s: %w", path, err)
	}
	return p, true, nil
}

func (p *Persona) merge(o Persona) {
	setStr := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	setList := func(dst *[]string, v []string) {
		if len(v) > 0 {
			*dst = v
		}
	}
	setStr(&p.Awake, o.Awake)
	setStr(&p.Greeting, o.Greeting)
	setStr(&p.Directive, o.Directive)
	setStr(&p.Apology, o.Apology)
	setStr(&p.ResetReply, o.ResetReply)
	setStr(&p.Help, o.Help)
	setList(&p.Emojis, o.Emojis)
	setList(&p.Extras, o.Extras)
	setList(&p.Jokes, o.Jokes)
	setList(&p.Moods, o.Moods)
}

// Validate checks that both templates parse and render and that every
// random pool has something to pick from.
func (p Persona) Validate() error {
	var errs []error
	sample := Identity{Nickname: "n", AccountTag: "a"}
	for name, text := range map[string]string{"greeting": p.Greeting, "directive": p.Directive} {
		if _, err := Render(name, text, sample); err != nil {
			errs = append(errs, err)
		}
	}
	for name, list := range map[string][]string{"emojis": p.Emojis, "extras": p.Extras, "jokes": p.Jokes, "moods": p.Moods} {
		if len(list) == 0 {
			errs = append(errs, fmt.Errorf("%s must not be empty", name))
		}
	}
	return errors.Join(errs...)
}

// Render executes a persona template against id.
func Render(name, text string, id Identity) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, id); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return sb.String(), nil
}
