package battle

// Scoring constants: a correct answer earns BaseScore plus up to SpeedBonus,
// one point less for every full second spent.
const (
	BaseScore  = 100
	SpeedBonus = 50
)

// Score returns the points awarded for one answer. timeSpentMs must be
// non-negative.
func Score(correct bool, timeSpentMs int64) int {
	if !correct {
		return 0
	}
	bonus := int64(SpeedBonus) - timeSpentMs/1000
	if bonus < 0 {
		bonus = 0
	}
	return BaseScore + int(bonus)
}
