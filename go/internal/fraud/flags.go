package fraud

// Scorer flags. Stable strings: they are persisted on attempts and
// consumed by review tooling, so renaming one is a data migration.
const (
	FlagIPReuse              = "ip_reuse"
	FlagIPEmailDiversity     = "ip_email_diversity"
	FlagPriorViolations      = "prior_violations"
	FlagProxyIP              = "proxy_ip"
	FlagDeviceReuse          = "device_reuse"
	FlagDeviceEmailDiversity = "device_email_diversity"
	FlagDeviceAutomation     = "device_automation"
	FlagDailyLimit           = "daily_limit"
	FlagRapidRepeat          = "rapid_repeat"
	FlagExcessiveWinRate     = "excessive_win_rate"
	FlagFastAnswers          = "fast_answers"
	FlagUniformTiming        = "uniform_timing"
	FlagRepeatedIntervals    = "repeated_intervals"
)

// Selection-time screen factors, persisted when a re-screen marks an
// attempt fraudulent.
const (
	FactorTotalFloor     = "screen_total_floor"
	FactorAvgFloor       = "screen_avg_floor"
	FactorLowVariance    = "screen_low_variance"
	FactorIPPaidRate     = "screen_ip_paid_rate"
	FactorDevicePaidRate = "screen_device_paid_rate"
)

// deviceFlags drive the MEDIUM-risk manual-review escalation.
var deviceFlags = map[string]bool{
	FlagDeviceReuse:          true,
	FlagDeviceEmailDiversity: true,
	FlagDeviceAutomation:     true,
}
