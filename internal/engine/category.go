package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Category classifies a command type for response-window gating.
type Category string

const (
	// CategoryPhaseControl advances the overall game (end turn, next phase).
	CategoryPhaseControl Category = "phase_control"
	// CategoryStrategic commits a major game action (play a unit, attack).
	CategoryStrategic Category = "strategic"
	// CategoryTactical is a reactive action legal inside a response window.
	CategoryTactical Category = "tactical"
	// CategoryUIInteraction answers a pending prompt or selection.
	CategoryUIInteraction Category = "ui_interaction"
	// CategoryStateManagement adjusts bookkeeping (concede, mark ready).
	CategoryStateManagement Category = "state_management"
	// CategorySystem is reserved for engine-issued commands.
	CategorySystem Category = "system"
)

// SystemCommandPrefix marks engine-owned command types; they are always
// category system and never require a registry entry.
const SystemCommandPrefix = "SYS_"

// CancelInteractionCommand is the reserved synthetic command the
// adjudication executor submits on behalf of a disconnected player. It is
// always category system and always legal against a live interaction owned
// by the authoring player.
const CancelInteractionCommand = "CANCEL_INTERACTION"

// responseWindowAdmissible is the fixed set of categories a command may
// belong to while a response window is open. phase_control and strategic are
// excluded so nobody can advance the game past another player's pending
// reactive decision.
var responseWindowAdmissible = map[Category]bool{
	CategoryTactical:        true,
	CategoryUIInteraction:   true,
	CategoryStateManagement: true,
	CategorySystem:          true,
}

// CategoryRegistry is the static classification of every non-system command
// type. It has no state beyond the mapping and exists so the "what is
// allowed during a response window" rule is auditable in one place instead
// of scattered per game.
type CategoryRegistry struct {
	byType map[string]Category
}

// NewCategoryRegistry builds a registry from a type→category mapping.
func NewCategoryRegistry(mapping map[string]Category) *CategoryRegistry {
	byType := make(map[string]Category, len(mapping))
	for commandType, category := range mapping {
		byType[commandType] = category
	}
	return &CategoryRegistry{byType: byType}
}

// Category returns the category for a command type. System-prefixed types
// and CANCEL_INTERACTION always resolve to CategorySystem.
func (r *CategoryRegistry) Category(commandType string) (Category, bool) {
	if IsSystemCommand(commandType) {
		return CategorySystem, true
	}
	category, ok := r.byType[commandType]
	return category, ok
}

// IsInCategory reports whether commandType belongs to category.
func (r *CategoryRegistry) IsInCategory(commandType string, category Category) bool {
	got, ok := r.Category(commandType)
	return ok && got == category
}

// IsInAnyCategory reports whether commandType belongs to any of the given
// categories.
func (r *CategoryRegistry) IsInAnyCategory(commandType string, categories ...Category) bool {
	got, ok := r.Category(commandType)
	if !ok {
		return false
	}
	for _, category := range categories {
		if got == category {
			return true
		}
	}
	return false
}

// AdmissibleDuringResponseWindow reports whether a command of this type may
// run while a response window is open.
func (r *CategoryRegistry) AdmissibleDuringResponseWindow(commandType string) bool {
	category, ok := r.Category(commandType)
	return ok && responseWindowAdmissible[category]
}

// ValidateAllCategorized asserts every known non-system command type has a
// registry entry. A missing entry is a configuration defect to catch at
// startup, not a silent pass-through at runtime.
func (r *CategoryRegistry) ValidateAllCategorized(knownTypes []string) error {
	var missing []string
	for _, commandType := range knownTypes {
		if IsSystemCommand(commandType) {
			continue
		}
		if _, ok := r.byType[commandType]; !ok {
			missing = append(missing, commandType)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("command types missing category mapping: %s", strings.Join(missing, ", "))
}

// IsSystemCommand reports whether a command type is engine-owned.
func IsSystemCommand(commandType string) bool {
	return commandType == CancelInteractionCommand ||
		strings.HasPrefix(commandType, SystemCommandPrefix)
}
