package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mbp-platform/envmodel/internal/graph"
	"github.com/mbp-platform/envmodel/internal/models"
)

// PaletteItem is one draggable sub-type of a category.
type PaletteItem struct {
	Name       string  `yaml:"name"`
	ClsName    string  `yaml:"clsName"`
	EntityType string  `yaml:"type"`
	Width      float64 `yaml:"width"`
	Height     float64 `yaml:"height"`
}

// PaletteCategory groups the palette items of one node type. Width and
// Height are the defaults for items that do not set their own.
type PaletteCategory struct {
	Kind   models.NodeType `yaml:"kind"`
	Width  float64         `yaml:"width"`
	Height float64         `yaml:"height"`
	Items  []PaletteItem   `yaml:"items"`
}

// Palette maps palette entries to type descriptors.
type Palette struct {
	Categories []PaletteCategory `yaml:"palette"`
}

// DefaultPalette is used when no palette file is configured.
func DefaultPalette() *Palette {
	p := &Palette{Categories: []PaletteCategory{
		{Kind: models.NodeTypeDevice, Width: 70, Height: 70, Items: []PaletteItem{
			{Name: "raspberry-pi", EntityType: "Raspberry Pi"},
			{Name: "arduino", EntityType: "Arduino"},
			{Name: "computer", EntityType: "Computer"},
			{Name: "laptop", EntityType: "Laptop"},
		}},
		{Kind: models.NodeTypeSensor, Width: 50, Height: 50, Items: []PaletteItem{
			{Name: "temperature", EntityType: "Temperature"},
			{Name: "motion", EntityType: "Motion"},
			{Name: "camera", EntityType: "Camera"},
			{Name: "sound", EntityType: "Sound"},
			{Name: "gas", EntityType: "Gas"},
			{Name: "touch", EntityType: "Touch"},
		}},
		{Kind: models.NodeTypeActuator, Width: 50, Height: 50, Items: []PaletteItem{
			{Name: "light", EntityType: "Light"},
			{Name: "buzzer", EntityType: "Buzzer"},
			{Name: "speaker", EntityType: "Speaker"},
			{Name: "heater", EntityType: "Heater"},
			{Name: "air-conditioner", EntityType: "Air Conditioner"},
			{Name: "switch", EntityType: "Switch"},
		}},
		{Kind: models.NodeTypeRoom, Width: 10, Height: 10},
		{Kind: models.NodeTypeWall, Width: 200, Height: 10},
		{Kind: models.NodeTypeDoor, Width: 60, Height: 60},
		{Kind: models.NodeTypeWindow, Width: 60, Height: 10},
		{Kind: models.NodeTypeStairs, Width: 60, Height: 100},
	}}
	for _, kind := range []models.NodeType{
		models.NodeTypeTable, models.NodeTypeChair, models.NodeTypeCouch, models.NodeTypeBed,
		models.NodeTypeKitchenSink, models.NodeTypeBathtub, models.NodeTypeBathSink, models.NodeTypeToilet,
	} {
		p.Categories = append(p.Categories, PaletteCategory{Kind: kind, Width: 50, Height: 50})
	}
	return p
}

// LoadPalette reads a palette file. An empty path yields the defaults.
func LoadPalette(path string) (*Palette, error) {
	if path == "" {
		return DefaultPalette(), nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParsePalette(file)
}

// ParsePalette parses a palette from an io.Reader.
func ParsePalette(r io.Reader) (*Palette, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var p Palette
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse palette: %w", err)
	}
	for i, c := range p.Categories {
		if _, err := models.ParseNodeType(string(c.Kind)); err != nil {
			return nil, fmt.Errorf("palette entry %d: %w", i, err)
		}
	}
	return &p, nil
}

// Lookup implements editor.Catalog. An empty subType picks the first item of
// the category, or the bare category when it has none.
func (p *Palette) Lookup(kind models.NodeType, subType string) (graph.TypeDescriptor, error) {
	for _, c := range p.Categories {
		if c.Kind != kind {
			continue
		}
		desc := graph.TypeDescriptor{Kind: kind, ClsName: string(kind), Width: c.Width, Height: c.Height}
		if len(c.Items) == 0 {
			if subType != "" && subType != string(kind) {
				break
			}
			return desc, nil
		}
		for _, it := range c.Items {
			if subType != "" && it.Name != subType {
				continue
			}
			desc.ClsName = it.Name
			if it.ClsName != "" {
				desc.ClsName = it.ClsName
			}
			if it.Width > 0 {
				desc.Width = it.Width
			}
			if it.Height > 0 {
				desc.Height = it.Height
			}
			desc.EntityType = it.EntityType
			return desc, nil
		}
		break
	}
	return graph.TypeDescriptor{}, fmt.Errorf("no palette item %s/%s", kind, subType)
}
