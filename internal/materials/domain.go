// Package materials is the registry of powder materials and their dosing parameters.
package materials

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/EgorKonstrukt/AutoPlasma/internal/shared"
)

// SeedQuantityGrams is the stock a material starts with when registered.
const SeedQuantityGrams = 5000.0

// Material is a powder type with fixed dosing parameters.
type Material struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Density    float64   `json:"density"`
	FlowFactor float64   `json:"flow_factor"`
	TargetGPM  float64   `json:"target_gpm"`
	CreatedAt  time.Time `json:"-"`
}

// CreateInput describes a request to register a material.
type CreateInput struct {
	Name       string  `validate:"required,max=128,excludesall=/"`
	Density    float64 `validate:"gt=0"`
	FlowFactor float64 `validate:"gt=0"`
	TargetGPM  float64 `validate:"gt=0"`
	Actor      string  `validate:"max=128"`
}

var (
	// ErrNotFound indicates the material name is not registered.
	ErrNotFound = fmt.Errorf("materials: material %w", shared.ErrNotFound)
	// ErrDuplicateName indicates the name is already registered.
	ErrDuplicateName = fmt.Errorf("materials: name already registered: %w", shared.ErrDuplicate)
	// ErrStockNotEmpty blocks removal while stock remains, when that policy is enabled.
	ErrStockNotEmpty = fmt.Errorf("materials: stock must be zero before removal: %w", shared.ErrConflict)
)

// NormalizeName trims and NFC-normalises a material name so visually equal
// names map to the same registry key.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// NewMaterial validates input and builds a Material with a fresh surrogate id.
func NewMaterial(in CreateInput, now time.Time) (Material, error) {
	in.Name = NormalizeName(in.Name)
	if err := shared.ValidateStruct(in); err != nil {
		return Material{}, err
	}
	for field, v := range map[string]float64{"density": in.Density, "flow_factor": in.FlowFactor, "target_gpm": in.TargetGPM} {
		if err := shared.RequireFinite(field, v); err != nil {
			return Material{}, err
		}
	}
	return Material{
		ID:         uuid.New(),
		Name:       in.Name,
		Density:    in.Density,
		FlowFactor: in.FlowFactor,
		TargetGPM:  in.TargetGPM,
		CreatedAt:  now.UTC(),
	}, nil
}
