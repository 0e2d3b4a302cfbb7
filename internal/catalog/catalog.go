package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"ms-rental/internal/models"

	"gopkg.in/yaml.v3"
)

var ErrUnknownResource = errors.New("unknown resource")

type file struct {
	Vehicles []models.Vehicle `yaml:"vehicles"`
}

// Catalog is the read-only set of rentable vehicles, loaded once at startup.
type Catalog struct {
	vehicles map[string]models.Vehicle
}

func New(vehicles []models.Vehicle) (*Catalog, error) {
	c := &Catalog{vehicles: make(map[string]models.Vehicle, len(vehicles))}
	for _, v := range vehicles {
		if v.ID == "" {
			return nil, errors.New("catalog: vehicle without id")
		}
		if _, dup := c.vehicles[v.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate vehicle id %q", v.ID)
		}
		c.vehicles[v.ID] = v
	}
	return c, nil
}

func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	return New(f.Vehicles)
}

func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

func (c *Catalog) GetResource(_ context.Context, id string) (*models.Vehicle, error) {
	v, ok := c.vehicles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, id)
	}
	return &v, nil
}

// CalendarID maps a vehicle to the external calendar holding its bookings.
func (c *Catalog) CalendarID(resourceID string) (string, bool) {
	v, ok := c.vehicles[resourceID]
	if !ok || v.CalendarID == "" {
		return "", false
	}
	return v.CalendarID, true
}

func (c *Catalog) List() []models.Vehicle {
	out := make([]models.Vehicle, 0, len(c.vehicles))
	for _, v := range c.vehicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
