package models

import "time"

type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe2h  Timeframe = "2h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
	Timeframe1w  Timeframe = "1w"
)

var Timeframes = []Timeframe{
	Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h,
	Timeframe2h, Timeframe4h, Timeframe1d, Timeframe1w,
}

func (t Timeframe) Valid() bool {
	for _, v := range Timeframes {
		if v == t {
			return true
		}
	}
	return false
}

type Duration string

const (
	Duration1Hour        Duration = "1_hour"
	Duration2Hours       Duration = "2_hours"
	Duration1Day         Duration = "1_day"
	Duration1Week        Duration = "1_week"
	Duration1Month       Duration = "1_month"
	DurationUntilStopped Duration = "until_stopped"
)

var Durations = []Duration{
	Duration1Hour, Duration2Hours, Duration1Day,
	Duration1Week, Duration1Month, DurationUntilStopped,
}

func (d Duration) Valid() bool {
	for _, v := range Durations {
		if v == d {
			return true
		}
	}
	return false
}

// After returns start plus the duration. until_stopped and unknown values
// have no end.
func (d Duration) After(start time.Time) (time.Time, bool) {
	switch d {
	case Duration1Hour:
		return start.Add(time.Hour), true
	case Duration2Hours:
		return start.Add(2 * time.Hour), true
	case Duration1Day:
		return start.AddDate(0, 0, 1), true
	case Duration1Week:
		return start.AddDate(0, 0, 7), true
	case Duration1Month:
		return start.AddDate(0, 1, 0), true
	default:
		return time.Time{}, false
	}
}

type ParamType string

const (
	ParamString     ParamType = "string"
	ParamNumber     ParamType = "number"
	ParamBoolean    ParamType = "boolean"
	ParamPercentage ParamType = "percentage"
)

func (p ParamType) Valid() bool {
	switch p {
	case ParamString, ParamNumber, ParamBoolean, ParamPercentage:
		return true
	}
	return false
}

type RiskTolerance string

const (
	RiskLow    RiskTolerance = "low"
	RiskMedium RiskTolerance = "medium"
	RiskHigh   RiskTolerance = "high"
)

func (r RiskTolerance) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

type BrokerName string

const (
	BrokerAlpaca             BrokerName = "alpaca"
	BrokerInteractiveBrokers BrokerName = "interactive_brokers"
	BrokerTDAmeritrade       BrokerName = "td_ameritrade"
	BrokerSchwab             BrokerName = "schwab"
)

func (b BrokerName) Valid() bool {
	switch b {
	case BrokerAlpaca, BrokerInteractiveBrokers, BrokerTDAmeritrade, BrokerSchwab:
		return true
	}
	return false
}
