package printing

import (
	"strings"

	"github.com/noah-isme/movement-gateway/internal/models"
)

// movementFlags maps a normalised movement type to the checkbox it ticks.
var movementFlags = map[string]func(*models.ActionType){
	"probationary":                func(a *models.ActionType) { a.Probationary = true },
	"transfer":                    func(a *models.ActionType) { a.Transfer = true },
	"merit increase":              func(a *models.ActionType) { a.MeritIncrease = true },
	"regularization":              func(a *models.ActionType) { a.Regularization = true },
	"special assignment":          func(a *models.ActionType) { a.SpecialAssignment = true },
	"separation with benefits":    func(a *models.ActionType) { a.SeparationWithBenefits = true },
	"separation without benefits": func(a *models.ActionType) { a.SeparationWithoutBenefits = true },
	"promotion":                   func(a *models.ActionType) { a.Promotion = true },
	"upgrading":                   func(a *models.ActionType) { a.Upgrading = true },
	"developmental assignment":    func(a *models.ActionType) { a.DevelopmentalAssignment = true },
	"downgrading":                 func(a *models.ActionType) { a.Downgrading = true },
	"others":                      func(a *models.ActionType) { a.Others = true },
	"other":                       func(a *models.ActionType) { a.Others = true },
}

// normalizeMovement folds "Merit_Increase", "separation (with benefits)" and
// similar spellings onto the keys of movementFlags.
func normalizeMovement(raw string) string {
	s := strings.ToLower(raw)
	s = strings.NewReplacer("_", " ", "-", " ", "(", " ", ")", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// ActionTypeFromMovement ticks exactly one checkbox for a known movement
// type. Blank or unknown types leave every box unticked.
func ActionTypeFromMovement(movement string) models.ActionType {
	var out models.ActionType
	if set, ok := movementFlags[normalizeMovement(movement)]; ok {
		set(&out)
	}
	return out
}
