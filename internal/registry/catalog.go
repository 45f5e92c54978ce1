package registry

import (
	"fmt"
	"strings"

	"loramint/pkg/types"
)

// Catalog is the fixed, ordered set of selectable models. It is never mutated
// after construction; accessors hand out copies.
type Catalog struct {
	models []types.ModelDescriptor
	byID   map[string]int
}

// New validates models (non-empty, unique ids) and builds a Catalog.
func New(models []types.ModelDescriptor) (*Catalog, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}
	c := &Catalog{models: make([]types.ModelDescriptor, 0, len(models)), byID: make(map[string]int, len(models))}
	for i, m := range models {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog entry %d: empty id", i)
		}
		if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
			return nil, fmt.Errorf("catalog entry %d: id %q is not a valid directory name", i, id)
		}
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("catalog entry %d: duplicate id %q", i, id)
		}
		if m.Name == "" {
			m.Name = id
		}
		m.ID = id
		m.IsDownloaded = false
		m.LocalPath = ""
		c.byID[id] = len(c.models)
		c.models = append(c.models, m)
	}
	return c, nil
}

// Get returns the descriptor for id.
func (c *Catalog) Get(id string) (types.ModelDescriptor, bool) {
	i, ok := c.byID[id]
	if !ok {
		return types.ModelDescriptor{}, false
	}
	return c.models[i], true
}

// All returns the descriptors in catalog order.
func (c *Catalog) All() []types.ModelDescriptor {
	out := make([]types.ModelDescriptor, len(c.models))
	copy(out, c.models)
	return out
}

func (c *Catalog) Len() int { return len(c.models) }

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(builtin)
	if err != nil {
		panic(err)
	}
	return c
}

var builtin = []types.ModelDescriptor{
	{
		ID:                "sdxl-base",
		Name:              "SDXL Base 1.0",
		RemoteID:          "stabilityai/stable-diffusion-xl-base-1.0",
		Description:       "The original Stable Diffusion XL model. Best quality and compatibility with LoRAs.",
		MinVRAMGB:         8,
		RecommendedVRAMGB: 12,
		InferenceSteps:    30,
		SpeedRating:       "Medium",
		QualityRating:     "High",
		EstimatedSizeGB:   7,
		SupportsLora:      true,
	},
	{
		ID:                "sdxl-turbo",
		Name:              "SDXL Turbo",
		RemoteID:          "stabilityai/sdxl-turbo",
		Description:       "Distilled SDXL for ultra-fast generation. 4 steps instead of 30.",
		MinVRAMGB:         8,
		RecommendedVRAMGB: 10,
		InferenceSteps:    4,
		SpeedRating:       "Fast",
		QualityRating:     "Good",
		EstimatedSizeGB:   7,
		SupportsLora:      true,
	},
	{
		ID:                "z-image-turbo",
		Name:              "Z-Image Turbo",
		RemoteID:          "Tongyi-MAI/Z-Image-Turbo",
		Description:       "High-quality turbo model. Excellent quality with fast generation.",
		MinVRAMGB:         16,
		RecommendedVRAMGB: 24,
		InferenceSteps:    8,
		SpeedRating:       "Fast",
		QualityRating:     "Excellent",
		EstimatedSizeGB:   12,
		SupportsLora:      false,
	},
}
