package models

import (
	"time"
)

// RiskLevel classifies an attempt's aggregate fraud score.
type RiskLevel string

const (
	RiskLevelHigh    RiskLevel = "HIGH"
	RiskLevelMedium  RiskLevel = "MEDIUM"
	RiskLevelLow     RiskLevel = "LOW"
	RiskLevelMinimal RiskLevel = "MINIMAL"
)

// Recommendation is the action the scorer advises for an attempt.
type Recommendation string

const (
	RecommendationBlock          Recommendation = "BLOCK"
	RecommendationManualReview   Recommendation = "MANUAL_REVIEW"
	RecommendationMonitorClosely Recommendation = "MONITOR_CLOSELY"
	RecommendationMonitor        Recommendation = "MONITOR"
	RecommendationAllow          Recommendation = "ALLOW"
)

// FraudAssessment is the scorer's verdict for one attempt.
type FraudAssessment struct {
	AttemptID      int64          `json:"attempt_id"`
	Score          float64        `json:"score"`
	RiskLevel      RiskLevel      `json:"risk_level"`
	Flags          []string       `json:"flags,omitempty"`
	Recommendation Recommendation `json:"recommendation"`
	AssessedAt     time.Time      `json:"assessed_at"`
}
