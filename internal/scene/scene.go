// Package scene loads declarative element trees from YAML scene files.
package scene

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/me/reflow/pkg/model"
)

// Loader parses and validates scene files.
type Loader struct {
	logger *slog.Logger
}

// New creates a Loader with the given logger.
func New(logger *slog.Logger) *Loader {
	return &Loader{logger: logger.With("component", "scene")}
}

// Parse decodes a scene document and validates its tree.
func (l *Loader) Parse(data []byte) (*model.Scene, error) {
	var sc model.Scene
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	if sc.Tree == nil {
		return nil, model.NewValidationError("scene has no tree")
	}
	if err := Validate(sc.Tree); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadFile reads and parses one scene file. An empty name defaults to the
// file name without extension.
func (l *Loader) LoadFile(path string) (*model.Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene file: %w", err)
	}
	sc, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	l.logger.Info("scene loaded", "name", sc.Name, "path", path)
	return sc, nil
}

// LoadDir loads every .yaml/.yml file in dir, sorted by file name.
func (l *Loader) LoadDir(dir string) ([]*model.Scene, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scene dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	scenes := make([]*model.Scene, 0, len(names))
	for _, name := range names {
		sc, err := l.LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		scenes = append(scenes, sc)
	}
	return scenes, nil
}

// Validate walks the tree and collects structural problems: unknown kinds,
// component elements (only constructible in code), missing resource keys or
// expression sources, and children on leaf elements.
func Validate(root *model.Element) error {
	var details []model.FieldError
	validateElement(root, "0", &details)
	if len(details) > 0 {
		return model.NewValidationError("invalid scene tree", details...)
	}
	return nil
}

func validateElement(el *model.Element, path string, details *[]model.FieldError) {
	add := func(msg string) {
		*details = append(*details, model.FieldError{Path: path, Message: msg})
	}

	if !el.Kind.Valid() {
		add(fmt.Sprintf("unknown kind %q", el.Kind))
		return
	}

	switch el.Kind {
	case model.KindComponent:
		add("component elements cannot be loaded from scene files")
		return
	case model.KindText:
		if len(el.Children) > 0 {
			add("text elements cannot have children")
		}
	case model.KindResource:
		if el.Resource == "" {
			add("resource element needs a resource key")
		}
		if len(el.Children) > 0 {
			add("resource elements cannot have children")
		}
	case model.KindExpr:
		if el.Expr == "" {
			add("expr element needs an expression")
		}
		for i, key := range el.Uses {
			if key == "" {
				*details = append(*details, model.FieldError{
					Path:    path,
					Message: fmt.Sprintf("uses[%d] is empty", i),
				})
			}
		}
		if len(el.Children) > 0 {
			add("expr elements cannot have children")
		}
	case model.KindBoundary:
		if el.DelayMS < 0 {
			add("delay_ms cannot be negative")
		}
		if el.Fallback != nil {
			validateElement(el.Fallback, path+".f", details)
		}
	}

	if el.Kind != model.KindBoundary && el.Fallback != nil {
		add("only boundary elements take a fallback")
	}
	if el.Kind != model.KindBoundary && el.DelayMS != 0 {
		add("only boundary elements take delay_ms")
	}

	for i, child := range el.Children {
		validateElement(child, fmt.Sprintf("%s.%d", path, i), details)
	}
}
