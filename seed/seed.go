// Package seed loads a menu file into a backend.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
	"github.com/Zoro-chi/FoodOrderingApp/models"
)

// Menu is the seed file layout.
type Menu struct {
	Products []MenuProduct `yaml:"products"`
	Profiles []MenuProfile `yaml:"profiles"`
}

type MenuProduct struct {
	Name  string  `yaml:"name"`
	Price string  `yaml:"price"`
	Image *string `yaml:"image"`
}

type MenuProfile struct {
	ID    string       `yaml:"id"`
	Group models.Group `yaml:"group"`
	Token *string      `yaml:"expo_push_token"`
}

// ProfileWriter is implemented by backends that can create profiles
// directly. The managed backend creates them on sign-up instead.
type ProfileWriter interface {
	PutProfile(ctx context.Context, p models.Profile) error
}

// Result counts what Apply wrote.
type Result struct {
	Products        int
	SkippedProducts int
	Profiles        int
}

func LoadFile(path string) (*Menu, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a menu and validates every product with the same rules
// as the admin form.
func Decode(r io.Reader) (*Menu, error) {
	var m Menu
	if err := yaml.NewDecoder(r).Decode(&m); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode menu: %w", err)
	}
	for i, p := range m.Products {
		if _, err := p.input().Validate(); err != nil {
			return nil, fmt.Errorf("product %d (%q): %w", i+1, p.Name, err)
		}
	}
	for i, p := range m.Profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("profile %d: id is required", i+1)
		}
		if p.Group == "" {
			m.Profiles[i].Group = models.GroupUser
		} else if p.Group != models.GroupUser && p.Group != models.GroupAdmin {
			return nil, fmt.Errorf("profile %s: unknown group %q", p.ID, p.Group)
		}
	}
	return &m, nil
}

func (p MenuProduct) input() models.ProductInput {
	return models.ProductInput{Name: p.Name, Price: p.Price, Image: p.Image}
}

// Apply inserts products whose name is not on the menu yet, then writes
// profiles when the backend supports it.
func Apply(ctx context.Context, store backend.Products, m *Menu, log logrus.FieldLogger) (Result, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	var res Result

	existing, err := store.ListProducts(ctx)
	if err != nil {
		return res, fmt.Errorf("list products: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p.Name] = true
	}

	for _, mp := range m.Products {
		product, err := mp.input().Validate()
		if err != nil {
			return res, err
		}
		if seen[product.Name] {
			res.SkippedProducts++
			continue
		}
		created, err := store.InsertProduct(ctx, product)
		if err != nil {
			return res, fmt.Errorf("insert %q: %w", product.Name, err)
		}
		seen[product.Name] = true
		res.Products++
		log.WithFields(logrus.Fields{"id": created.ID, "name": created.Name}).Debug("product seeded")
	}

	if len(m.Profiles) == 0 {
		return res, nil
	}
	pw, ok := store.(ProfileWriter)
	if !ok {
		log.WithField("profiles", len(m.Profiles)).Warn("backend cannot write profiles, skipped")
		return res, nil
	}
	for _, mp := range m.Profiles {
		p := models.Profile{ID: mp.ID, Group: mp.Group, ExpoPushToken: mp.Token}
		if err := pw.PutProfile(ctx, p); err != nil {
			return res, fmt.Errorf("profile %s: %w", mp.ID, err)
		}
		res.Profiles++
	}
	return res, nil
}
