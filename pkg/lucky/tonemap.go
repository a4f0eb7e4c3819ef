package lucky

import (
	"fmt"
	"image"

	"github.com/mdouchement/hdr/tmo"

	"github.com/abworrall/luckystack/pkg/fattal02"
)

var (
	Tonemappers = []string{"drago03", "durand", "fattal02", "icam06", "linear", "reinhard05"}
)

func ListTonemappers() string {
	return fmt.Sprintf("%v", Tonemappers)
}

// Tonemap renders an 8 bit preview of the composite. Planets are small
// bright discs on black, so the defaults are tweaked to hold on to the
// highlights.
func (c *Composite) Tonemap(name string) (image.Image, error) {
	op, err := c.setupTonemapper(name)
	if err != nil {
		return nil, err
	}
	log.Debugf("Tonemapping: %s", name)
	return op.Perform(), nil
}

func (c *Composite) setupTonemapper(name string) (tmo.ToneMappingOperator, error) {
	switch name {
	case "drago03":
		op := tmo.NewDefaultDrago03(c)
		op.Bias = 1.0 // Otherwise the disc overexposes
		return op, nil

	case "durand":
		return tmo.NewDefaultDurand(c), nil

	case "fattal02":
		op := fattal02.NewDefaultFattal02(c)
		op.Saturation = 1.0 // keep the planet's colour, stacking has already muted it
		return op, nil

	case "icam06":
		op := tmo.NewDefaultICam06(c)
		op.Contrast = 0.65
		op.MaxClipping = 0.99999
		return op, nil

	case "linear", "":
		return tmo.NewLinear(c), nil

	case "reinhard05":
		op := tmo.NewDefaultReinhard05(c)
		op.Chromatic = 0.005
		op.Light = 0.005
		return op, nil
	}

	return nil, fmt.Errorf("tonemapper %q not recognized, wanted %s: %w", name, ListTonemappers(), ErrBadConfig)
}
