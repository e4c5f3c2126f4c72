// Package skills discovers SKILL.md files under a workspace and extracts
// their YAML frontmatter into a short description list for the system
// prompt. The core never executes a skill specially — a skill is just a
// directory of instructions the model finds and runs as ordinary bash
// commands (spec §9 "Skills discovery").
package skills

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// frontmatter is the YAML header of a SKILL.md file, delimited by `---`
// lines at the top of the document.
type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Skill is one discovered SKILL.md, reduced to what the prompt needs.
type Skill struct {
	Name        string
	Description string
	Path        string // absolute path to the SKILL.md file
}

// Loader discovers skills under <workspace>/skills/*/SKILL.md and caches
// them until Reload is called, so a run doesn't re-walk the filesystem on
// every turn.
type Loader struct {
	root string

	mu     sync.RWMutex
	skills []Skill
}

// NewLoader creates a Loader rooted at <workspace>/skills.
func NewLoader(workspace string) *Loader {
	return &Loader{root: filepath.Join(workspace, "skills")}
}

// Reload re-scans the skills directory. Call it at startup and whenever the
// operator wants hot-reloaded skills picked up without a restart.
func (l *Loader) Reload() error {
	entries, err := os.ReadDir(l.root)
	if os.IsNotExist(err) {
		l.mu.Lock()
		l.skills = nil
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	var found []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(l.root, entry.Name(), "SKILL.md")
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			slog.Warn("skills: failed to read SKILL.md", "path", path, "error", err)
			continue
		}
		fm, err := parseFrontmatter(data)
		if err != nil {
			slog.Warn("skills: failed to parse frontmatter", "path", path, "error", err)
			continue
		}
		name := fm.Name
		if name == "" {
			name = entry.Name()
		}
		found = append(found, Skill{Name: name, Description: fm.Description, Path: path})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })

	l.mu.Lock()
	l.skills = found
	l.mu.Unlock()
	return nil
}

// List returns every discovered skill.
func (l *Loader) List() []Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Skill, len(l.skills))
	copy(out, l.skills)
	return out
}

// Summary renders the discovered skills as a short line-per-skill list for
// inclusion in the system prompt's {availableSkills} slot.
func (l *Loader) Summary() string {
	skills := l.List()
	if len(skills) == 0 {
		return ""
	}
	var b strings.Builder
	for _, s := range skills {
		b.WriteString("- ")
		b.WriteString(s.Name)
		if s.Description != "" {
			b.WriteString(": ")
			b.WriteString(s.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseFrontmatter extracts the leading `---\n...\n---` YAML block from a
// SKILL.md file's bytes.
func parseFrontmatter(data []byte) (frontmatter, error) {
	text := string(data)
	const delim = "---"
	if !strings.HasPrefix(strings.TrimLeft(text, "﻿"), delim) {
		return frontmatter{}, nil
	}
	text = strings.TrimPrefix(strings.TrimLeft(text, "﻿"), delim)
	end := strings.Index(text, "\n"+delim)
	if end < 0 {
		return frontmatter{}, nil
	}
	block := text[:end]

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return frontmatter{}, err
	}
	return fm, nil
}
