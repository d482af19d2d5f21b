package analysis

import (
	"context"
	"strings"
	"time"

	"guardiand/internal/judge"
)

// LocalAnalyzer is the offline heuristic categorizer used when no
// analysis endpoint is configured (and as an always-available
// last-resort). It only sees text; captured images are ignored.
// Confidence is deliberately modest so the fallback rules stay in play.
type LocalAnalyzer struct{}

// NewLocalAnalyzer returns the heuristic analyzer.
func NewLocalAnalyzer() *LocalAnalyzer {
	return &LocalAnalyzer{}
}

var categoryMarkers = map[judge.Category][]string{
	judge.CategoryDangerous: {
		"suicide", "self-harm", "self harm", "kill", "weapon", "gun",
		"knife", "bomb", "explosive", "poison", "hurt myself",
	},
	judge.CategoryInappropriate: {
		"porn", "nude", "gambling", "drugs",
	},
	judge.CategoryConcerning: {
		"hate", "bully", "cheat on", "steal",
	},
	judge.CategoryEducational: {
		"homework", "math", "science", "history", "learn", "study",
		"how does", "how do", "what is", "why does",
	},
	judge.CategorySocial: {
		"instagram", "tiktok", "snapchat", "discord", "chat with",
		"message", "dm ",
	},
	judge.CategoryEntertainment: {
		"game", "video", "movie", "music", "youtube", "minecraft",
		"roblox", "fortnite",
	},
}

// checkOrder resolves overlaps: danger markers win over everything,
// education over entertainment.
var checkOrder = []judge.Category{
	judge.CategoryDangerous,
	judge.CategoryInappropriate,
	judge.CategoryConcerning,
	judge.CategoryEducational,
	judge.CategorySocial,
	judge.CategoryEntertainment,
}

// Analyze implements judge.Analyzer.
func (a *LocalAnalyzer) Analyze(_ context.Context, req judge.AnalysisRequest) (judge.Verdict, error) {
	text := strings.ToLower(req.Text)
	now := time.Now()

	for _, cat := range checkOrder {
		for _, marker := range categoryMarkers[cat] {
			if strings.Contains(text, marker) {
				confidence := 0.6
				if cat == judge.CategoryDangerous || cat == judge.CategoryInappropriate {
					confidence = 0.75
				}
				return judge.Verdict{
					Category:    cat,
					Confidence:  confidence,
					Explanation: "heuristic match: " + marker,
					Keywords:    []string{marker},
					AnalyzedAt:  now,
				}, nil
			}
		}
	}

	return judge.Verdict{
		Category:    judge.CategoryUnknown,
		Confidence:  0.3,
		Explanation: "no heuristic match",
		AnalyzedAt:  now,
	}, nil
}
