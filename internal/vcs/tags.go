package vcs

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/observability/logger"
)

// Tag es un nombre fijo sobre un commit.
type Tag struct {
	Name      string    `yaml:"name" json:"name"`
	Target    string    `yaml:"target" json:"target"`
	Message   string    `yaml:"message,omitempty" json:"message,omitempty"`
	Author    string    `yaml:"author,omitempty" json:"author,omitempty"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	Version   *SemVer   `yaml:"version,omitempty" json:"version,omitempty"`
}

// SemVer son los campos de versión semántica de un tag como v1.2.3-rc.1+build.5.
type SemVer struct {
	Major      int    `yaml:"major" json:"major"`
	Minor      int    `yaml:"minor" json:"minor"`
	Patch      int    `yaml:"patch" json:"patch"`
	Prerelease string `yaml:"prerelease,omitempty" json:"prerelease,omitempty"`
	Build      string `yaml:"build,omitempty" json:"build,omitempty"`
}

var semverRe = regexp.MustCompile(`^v?(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(?:-([0-9A-Za-z.-]+))?(?:\+([0-9A-Za-z.-]+))?$`)

// ParseSemVer interpreta name como versión semántica.
func ParseSemVer(name string) (*SemVer, bool) {
	m := semverRe.FindStringSubmatch(name)
	if m == nil {
		return nil, false
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])
	return &SemVer{Major: major, Minor: minor, Patch: patch, Prerelease: m[4], Build: m[5]}, true
}

func (v SemVer) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	if v.Build != "" {
		s += "+" + v.Build
	}
	return s
}

// Compare ordena por precedencia semver (build no cuenta).
func (v SemVer) Compare(o SemVer) int {
	for _, d := range [3]int{v.Major - o.Major, v.Minor - o.Minor, v.Patch - o.Patch} {
		if d != 0 {
			return sign(d)
		}
	}
	return comparePrerelease(v.Prerelease, o.Prerelease)
}

func comparePrerelease(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	}
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(pa) && i < len(pb); i++ {
		na, errA := strconv.Atoi(pa[i])
		nb, errB := strconv.Atoi(pb[i])
		switch {
		case errA == nil && errB == nil:
			if na != nb {
				return sign(na - nb)
			}
		case errA == nil:
			return -1
		case errB == nil:
			return 1
		default:
			if c := strings.Compare(pa[i], pb[i]); c != 0 {
				return c
			}
		}
	}
	return sign(len(pa) - len(pb))
}

func sign(d int) int {
	switch {
	case d < 0:
		return -1
	case d > 0:
		return 1
	}
	return 0
}

// CreateTag crea un tag sobre target ("" = head de la branch actual).
func (c *Controller) CreateTag(name, target, message, author string) (*Tag, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("tag name is empty: %w", errs.ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tags[name]; exists {
		return nil, fmt.Errorf("tag %q: %w", name, errs.ErrAlreadyExists)
	}
	if target == "" {
		if b, ok := c.branches[c.current]; ok {
			target = b.Head
		}
		if target == "" {
			return nil, fmt.Errorf("tag %q: branch %q has no commits: %w", name, c.current, errs.ErrNoBranch)
		}
	}
	if _, ok := c.commits[target]; !ok {
		return nil, errs.NotFound("commit", target)
	}
	t := &Tag{Name: name, Target: target, Message: message, Author: author, CreatedAt: time.Now().UTC()}
	if v, ok := ParseSemVer(name); ok {
		t.Version = v
	}
	c.tags[name] = t
	c.log.Info("tag created", logger.Tag(name), logger.CommitID(target))
	cp := *t
	return &cp, nil
}

// GetTag retorna una copia del tag.
func (c *Controller) GetTag(name string) (*Tag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tags[name]
	if !ok {
		return nil, errs.NotFound("tag", name)
	}
	cp := *t
	return &cp, nil
}

// DeleteTag borra un tag.
func (c *Controller) DeleteTag(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tags[name]; !ok {
		return errs.NotFound("tag", name)
	}
	delete(c.tags, name)
	return nil
}

// ListTags retorna los tags: primero los semver por precedencia, luego el resto por nombre.
func (c *Controller) ListTags() []Tag {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Tag, 0, len(c.tags))
	for _, t := range c.tags {
		out = append(out, *t)
	}
	sortTags(out)
	return out
}

func sortTags(ts []Tag) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i].Version, ts[j].Version
		switch {
		case a != nil && b != nil:
			if cmp := a.Compare(*b); cmp != 0 {
				return cmp < 0
			}
		case a != nil:
			return true
		case b != nil:
			return false
		}
		return ts[i].Name < ts[j].Name
	})
}
