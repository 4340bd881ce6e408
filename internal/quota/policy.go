// Package quota decides whether an account may start new generation work.
package quota

import "github.com/cuongbtq/product-video/internal/domain"

var limits = map[domain.Plan]int{
	domain.PlanTrial: 1,
	domain.PlanBasic: 20,
	domain.PlanPro:   100,
}

// Limit returns the number of videos a plan may generate per billing period.
// Unknown plans get zero.
func Limit(plan domain.Plan) int {
	return limits[plan]
}

// CanStart reports whether an account on plan that has used usedThisPeriod
// videos may start another one. The check is advisory: concurrent
// submissions for one account can each pass it before any of them completes.
func CanStart(plan domain.Plan, usedThisPeriod int) bool {
	return usedThisPeriod < Limit(plan)
}

// Remaining returns how many more videos the plan allows, never negative.
func Remaining(plan domain.Plan, usedThisPeriod int) int {
	if r := Limit(plan) - usedThisPeriod; r > 0 {
		return r
	}
	return 0
}
