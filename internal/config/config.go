// Package config loads the description of a store kept in a flash image file.
package config

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mvaleed/meeprom/internal/flash"
	"github.com/mvaleed/meeprom/internal/meeprom"
)

// Geometry mirrors flash.Geometry for YAML.
type Geometry struct {
	SectorSize uint32    `yaml:"sectorSize"`
	MainBase   uint32    `yaml:"mainBase"`
	MainSize   uint32    `yaml:"mainSize"`
	Redundancy [2]uint32 `yaml:"redundancy"`
}

// Config describes an image file and the store inside it. The image holds
// the whole main flash array.
type Config struct {
	Image          string   `yaml:"image"`
	Base           uint32   `yaml:"base"`
	SectorsPerPage uint32   `yaml:"sectorsPerPage"`
	MaxAddress     uint32   `yaml:"maxAddress"`
	StageSector    uint32   `yaml:"stageSector"`
	Geometry       Geometry `yaml:"geometry"`
}

// Default returns the layout used by the power-fail application: two single
// sector pages at 0x1000D000 and a staging sector right after them.
func Default() Config {
	g := flash.DefaultGeometry
	return Config{
		Image:          "flash.img",
		Base:           0x1000D000,
		SectorsPerPage: 1,
		MaxAddress:     256,
		StageSector:    0x1000F000,
		Geometry: Geometry{
			SectorSize: g.SectorSize,
			MainBase:   g.MainBase,
			MainSize:   g.MainSize,
			Redundancy: g.Redundancy,
		},
	}
}

// Load reads the YAML file at path on top of Default and validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.WithStack(err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "failed to parse %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// FlashGeometry returns the geometry as the flash package uses it.
func (c Config) FlashGeometry() flash.Geometry {
	return flash.Geometry{
		SectorSize: c.Geometry.SectorSize,
		MainBase:   c.Geometry.MainBase,
		MainSize:   c.Geometry.MainSize,
		Redundancy: c.Geometry.Redundancy,
	}
}

// PageSize returns the size of one store page.
func (c Config) PageSize() uint32 {
	return c.SectorsPerPage * c.Geometry.SectorSize
}

// Validate checks that the store and the staging sector fit in the image.
// The store itself checks the rest of its parameters on use.
func (c Config) Validate() error {
	g := c.FlashGeometry()

	if c.Image == "" {
		return errors.New("image path is empty")
	}
	if g.SectorSize == 0 || g.MainSize == 0 || g.MainSize%g.SectorSize != 0 {
		return errors.Errorf("main array size 0x%X is not a multiple of sector size 0x%X", g.MainSize, g.SectorSize)
	}
	if c.SectorsPerPage == 0 {
		return errors.New("sectorsPerPage must be positive")
	}
	// Each page must hold every address twice over.
	if c.MaxAddress == 0 || uint64(c.MaxAddress)*16 > uint64(c.PageSize()) {
		return errors.Errorf("maxAddress %d does not fit pages of 0x%X bytes", c.MaxAddress, c.PageSize())
	}

	storeEnd := uint64(c.Base) + 2*uint64(c.PageSize())
	if !g.InMain(c.Base) || storeEnd > uint64(g.MainEnd()) {
		return errors.Errorf("store 0x%08X-0x%08X outside image 0x%08X-0x%08X", c.Base, storeEnd, g.MainBase, g.MainEnd())
	}

	if c.StageSector != 0 {
		if !g.InMain(c.StageSector) || !g.SectorAligned(c.StageSector) {
			return errors.Errorf("stage sector 0x%08X is not a sector of the image", c.StageSector)
		}
		if uint64(c.StageSector) >= uint64(c.Base) && uint64(c.StageSector) < storeEnd {
			return errors.Errorf("stage sector 0x%08X overlaps the store", c.StageSector)
		}
	}
	return nil
}

// OpenImage opens the image file as a flash driver covering the main array.
func (c Config) OpenImage() (*flash.FileFlash, error) {
	return flash.OpenFile(c.Image, c.Geometry.MainBase, c.Geometry.MainSize, c.Geometry.SectorSize)
}

// StoreConfig returns the store parameters.
func (c Config) StoreConfig(log *zap.Logger) meeprom.Config {
	g := c.FlashGeometry()
	return meeprom.Config{
		Base:           c.Base,
		SectorsPerPage: c.SectorsPerPage,
		MaxAddress:     c.MaxAddress,
		Geometry:       &g,
		Logger:         log,
	}
}

// Stage returns the staging sector on d, and false if none is configured.
func (c Config) Stage(d flash.Driver) (meeprom.Stage, bool) {
	if c.StageSector == 0 {
		return meeprom.Stage{}, false
	}
	return meeprom.Stage{Driver: d, Addr: c.StageSector, Size: c.Geometry.SectorSize}, true
}
