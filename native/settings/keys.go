package settings

// Canonical parameter-store key names. Per-currency values append ":" plus
// the currency key.
const (
	KeyIssuanceRatio           = "settings.issuanceRatio"
	KeyExternalTokenQuota      = "settings.externalTokenQuota"
	KeyMinimumStakeTime        = "settings.minimumStakeTimeSecs"
	KeyRateStalePeriod         = "settings.rateStalePeriodSecs"
	KeyExchangeFeeRate         = "settings.exchangeFeeRate"
	KeyWaitingPeriod           = "settings.waitingPeriodSecs"
	KeyPriceDeviationThreshold = "settings.priceDeviationThresholdFactor"
	KeyMaxEntriesInQueue       = "settings.maxEntriesInQueue"
	KeyDebtSnapshotStaleTime   = "settings.debtSnapshotStaleTimeSecs"
	KeyInteractionDelay        = "settings.interactionDelaySecs"
	KeyMaxCollateralDebt       = "settings.maxCollateralDebt"
	KeyRetainedPeriods         = "settings.debtShareRetainedPeriods"
	KeyDiscountRate            = "settings.redeemerDiscountRate"
)
