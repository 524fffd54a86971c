package tenant

// PlanConfig defines limits for a pricing tier.
type PlanConfig struct {
	Plan               Plan
	RateLimitRPM       int
	MaxChatbots        int // 0 = unlimited
	MaxMonthlyMessages int
	MonthlyPriceCents  int64
}

// Plans is the hardcoded plan catalogue.
var Plans = map[Plan]PlanConfig{
	PlanFree: {
		Plan:               PlanFree,
		RateLimitRPM:       60,
		MaxChatbots:        1,
		MaxMonthlyMessages: 500,
		MonthlyPriceCents:  0,
	},
	PlanStarter: {
		Plan:               PlanStarter,
		RateLimitRPM:       300,
		MaxChatbots:        3,
		MaxMonthlyMessages: 5000,
		MonthlyPriceCents:  2900,
	},
	PlanGrowth: {
		Plan:               PlanGrowth,
		RateLimitRPM:       1000,
		MaxChatbots:        10,
		MaxMonthlyMessages: 50000,
		MonthlyPriceCents:  9900,
	},
	PlanEnterprise: {
		Plan:               PlanEnterprise,
		RateLimitRPM:       5000,
		MaxChatbots:        0,
		MaxMonthlyMessages: 1000000,
		MonthlyPriceCents:  49900,
	},
}

// DefaultSettingsForPlan returns the Settings populated from a plan's defaults.
func DefaultSettingsForPlan(p Plan) Settings {
	cfg, ok := Plans[p]
	if !ok {
		cfg = Plans[PlanFree]
	}
	return Settings{
		RateLimitRPM:       cfg.RateLimitRPM,
		MaxChatbots:        cfg.MaxChatbots,
		MaxMonthlyMessages: cfg.MaxMonthlyMessages,
	}
}

// ValidPlan returns true if the plan name is recognised.
func ValidPlan(p Plan) bool {
	_, ok := Plans[p]
	return ok
}
