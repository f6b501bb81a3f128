package aidraft

import (
	"fmt"
	"strings"
)

const (
	DraftTemperature    = 0.2
	DraftMaxTokens      = 500
	AnalysisTemperature = 0.3
	AnalysisMaxTokens   = 400

	DefaultAnalysisPeriod = "1 week"
)

const draftTemplate = `You are an expert quantitative trading strategist.

Build a technical trading strategy based on:
- Goal: %s
- Timeframe: %s
- Risk Tolerance: %s

Output only in this format:

Strategy Name:
Indicators Used:
Entry Conditions:
Exit Conditions:
Stop Loss Rules:
Take Profit Rules:
Notes:
`

const analysisTemplate = `Analyze the current market conditions for %s over the %s period.
Provide:
1. Technical analysis
2. Key support/resistance levels
3. Market sentiment
4. Trading recommendations

Keep it concise and actionable.`

func DraftPrompt(goal, timeframe, riskTolerance string) string {
	return fmt.Sprintf(draftTemplate, goal, timeframe, riskTolerance)
}

func AnalysisPrompt(symbol, period string) string {
	if strings.TrimSpace(period) == "" {
		period = DefaultAnalysisPeriod
	}
	return fmt.Sprintf(analysisTemplate, symbol, period)
}
