package service

import (
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-points-api/internal/models"
)

var refValidator = validator.New()

// sourceSpec describes how one point source is validated and limited.
type sourceSpec struct {
	sourceTypes map[string]struct{}
	// dailySubLimit marks sources that carry a per-source daily cap in the policy.
	dailySubLimit bool
	validRef      func(ref string) bool
}

func typeSet(values ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

// objectIDRef accepts 24 hex digits. hexadecimal alone would also let a 0x prefix through.
func objectIDRef(ref string) bool {
	return refValidator.Var(ref, "len=24,hexadecimal,excludesall=xX") == nil
}

var sourceCatalog = map[models.PointSource]sourceSpec{
	models.SourceTask: {
		sourceTypes:   typeSet("task_completion", "task_bonus", "task_streak"),
		dailySubLimit: true,
		validRef:      objectIDRef,
	},
	models.SourceAttendance: {
		sourceTypes:   typeSet("daily_check_in", "perfect_week", "streak_bonus"),
		dailySubLimit: true,
	},
	models.SourceBehavior: {
		sourceTypes: typeSet("class_participation", "helping_others", "good_conduct"),
	},
	models.SourceBadge: {
		sourceTypes: typeSet("achievement_badge", "milestone_badge", "special_badge"),
		validRef:    objectIDRef,
	},
	models.SourceRedemption: {
		sourceTypes: typeSet("reward_purchase", "reward_refund"),
	},
	models.SourceManualAdjustment: {
		sourceTypes: typeSet("correction", "bonus", "penalty", "system_adjustment"),
	},
}

func lookupSource(source models.PointSource) (sourceSpec, bool) {
	spec, ok := sourceCatalog[source]
	return spec, ok
}

func (s sourceSpec) allowsType(sourceType string) bool {
	_, ok := s.sourceTypes[sourceType]
	return ok
}

func (s sourceSpec) acceptsRef(ref string) bool {
	return s.validRef == nil || s.validRef(ref)
}
