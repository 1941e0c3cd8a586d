package workflow

import (
	"math"

	"market-analysis-engine/internal/fibonacci"
	"market-analysis-engine/internal/marketdata"
)

// ConfluenceTolerancePct is the matching window around a candidate price,
// as a percentage of that price.
const ConfluenceTolerancePct = 0.5

// Confluence tier labels by total score.
const (
	TierStandard    = "standard"
	TierImportant   = "important"
	TierSignificant = "significant"
	TierMajor       = "major"
)

// LevelSource is one price level available for confluence matching, tagged
// with the tool and timeframe that produced it.
type LevelSource struct {
	Tool      fibonacci.Tool       `json:"tool"`
	Timeframe marketdata.Timeframe `json:"timeframe"`
	Ratio     float64              `json:"ratio"`
	Price     float64              `json:"price"`
}

// Candidate is the level being scored.
type Candidate struct {
	Price     float64              `json:"price"`
	Tool      fibonacci.Tool       `json:"tool"`
	Timeframe marketdata.Timeframe `json:"timeframe"`
	Ratio     float64              `json:"ratio"`
}

// ConfluenceScore is the additive breakdown for one candidate.
type ConfluenceScore struct {
	Total           int    `json:"total"`
	Base            int    `json:"base"`
	SameTimeframe   int    `json:"same_timeframe"`
	HigherTimeframe int    `json:"higher_timeframe"`
	CrossTool       int    `json:"cross_tool"`
	PreviousPivot   int    `json:"previous_pivot"`
	Psychological   int    `json:"psychological"`
	Tier            string `json:"tier"`
}

// ScoreConfluence scores a candidate level against the other known levels,
// prior pivot prices and psychological round numbers. Every candidate
// starts at 1; same-timeframe agreement adds 1 per level, higher-timeframe
// agreement 2 per level, each distinct other tool in agreement 2, a prior
// pivot 2, and a round number 1.
func ScoreConfluence(candidate Candidate, sources []LevelSource, previousPivots []float64) ConfluenceScore {
	score := ConfluenceScore{Base: 1}
	tolerance := math.Abs(candidate.Price) * ConfluenceTolerancePct / 100

	candidateRank := marketdata.HierarchyIndex(candidate.Timeframe)
	matchedTools := map[fibonacci.Tool]bool{}

	for _, src := range sources {
		if src.Tool == candidate.Tool && src.Timeframe == candidate.Timeframe &&
			src.Ratio == candidate.Ratio && src.Price == candidate.Price {
			continue
		}
		if math.Abs(src.Price-candidate.Price) > tolerance {
			continue
		}
		if src.Timeframe == candidate.Timeframe {
			score.SameTimeframe++
		} else if rank := marketdata.HierarchyIndex(src.Timeframe); rank >= 0 && rank < candidateRank {
			score.HigherTimeframe += 2
		}
		if src.Tool != candidate.Tool {
			matchedTools[src.Tool] = true
		}
	}
	score.CrossTool = 2 * len(matchedTools)

	for _, pivot := range previousPivots {
		if math.Abs(pivot-candidate.Price) <= tolerance {
			score.PreviousPivot = 2
			break
		}
	}

	if IsPsychological(candidate.Price) {
		score.Psychological = 1
	}

	score.Total = score.Base + score.SameTimeframe + score.HigherTimeframe +
		score.CrossTool + score.PreviousPivot + score.Psychological
	score.Tier = ConfluenceTier(score.Total)
	return score
}

// IsPsychological reports whether price sits on a round number for its
// magnitude band: multiples of 10 under 100, of 100 under 1000, of 500
// under 10000, and of 1000 beyond.
func IsPsychological(price float64) bool {
	if price <= 0 {
		return false
	}
	var unit float64
	switch {
	case price < 100:
		unit = 10
	case price < 1000:
		unit = 100
	case price < 10000:
		unit = 500
	default:
		unit = 1000
	}
	remainder := math.Mod(price, unit)
	const epsilon = 1e-6
	return remainder < epsilon || unit-remainder < epsilon
}

// ConfluenceTier maps a total score to its label.
func ConfluenceTier(total int) string {
	switch {
	case total >= 7:
		return TierMajor
	case total >= 5:
		return TierSignificant
	case total >= 3:
		return TierImportant
	default:
		return TierStandard
	}
}
