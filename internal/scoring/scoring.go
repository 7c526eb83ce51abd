// Package scoring converts an assignment completion into leaderboard points: a fixed base,
// a timeliness adjustment against the deadline and a competitive bonus from the student's
// provisional percentile among course peers.
package scoring

import (
	"math"
	"time"
)

const (
	BasePoints = 100

	EarlyBonusPerHour  = 3.0
	MaxEarlyBonus      = 72.0
	LatePenaltyPerHour = 10.0
	MaxLatePenalty     = 100.0

	TopQuartileBonus = 25
	UpperHalfBonus   = 15
	SoleStudentBonus = 25
)

// Input describes one assignment completion.
type Input struct {
	Deadline    time.Time
	CompletedAt time.Time
	// Current is the student's running leaderboard total before this award.
	Current int
	// Peers holds the current totals of every other student in the course.
	Peers []int
}

// Result carries every component so callers can log or expose the breakdown.
type Result struct {
	Base             int     `json:"base"`
	HoursFromDue     float64 `json:"hours_from_deadline"`
	AssignmentPoints float64 `json:"assignment_points"`
	Rank             int     `json:"rank"`
	Percentile       float64 `json:"percentile"`
	CompetitiveBonus int     `json:"competitive_bonus"`
	// Points is the amount added to the running total.
	Points int `json:"points"`
}

// Engine scores completions. CompoundBase awards base+adjustment+bonus on every completion;
// with it off only the part above the base is awarded.
type Engine struct {
	CompoundBase bool
}

func NewEngine(compoundBase bool) Engine {
	return Engine{CompoundBase: compoundBase}
}

// Score computes the award for one completion.
func (e Engine) Score(in Input) Result {
	hours := in.CompletedAt.Sub(in.Deadline).Hours()
	adj := TimeAdjustment(hours)

	provisional := float64(in.Current) + BasePoints + adj
	rank, pct, bonus := CompetitiveBonus(provisional, in.Peers)

	gross := adj + float64(bonus)
	if e.CompoundBase {
		gross += BasePoints
	}

	return Result{
		Base:             BasePoints,
		HoursFromDue:     hours,
		AssignmentPoints: adj,
		Rank:             rank,
		Percentile:       pct,
		CompetitiveBonus: bonus,
		Points:           int(math.Floor(math.Max(gross, 0))),
	}
}

// TimeAdjustment returns the early bonus (positive) or late penalty (negative) for a
// completion that happened hours after the deadline; negative hours mean early.
func TimeAdjustment(hours float64) float64 {
	switch {
	case hours < 0:
		return math.Min(-hours*EarlyBonusPerHour, MaxEarlyBonus)
	case hours > 0:
		return -math.Min(hours*LatePenaltyPerHour, MaxLatePenalty)
	default:
		return 0
	}
}

// CompetitiveBonus ranks provisional against peers (descending, the student placed after
// peers with an equal total) and maps the percentile to a bonus.
func CompetitiveBonus(provisional float64, peers []int) (rank int, percentile float64, bonus int) {
	n := len(peers) + 1
	rank = 1
	for _, p := range peers {
		if float64(p) >= provisional {
			rank++
		}
	}
	percentile = float64(n-rank+1) / float64(n) * 100

	switch {
	case n == 1:
		bonus = SoleStudentBonus
	case percentile >= 75:
		bonus = TopQuartileBonus
	case percentile >= 50:
		bonus = UpperHalfBonus
	}
	return rank, percentile, bonus
}
