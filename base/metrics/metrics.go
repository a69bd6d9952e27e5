package metrics

const (
	DLLRateH         = "The current cycle timer rate estimate in ticks per microsecond"
	DLLRateN         = "cycletimer_dll_rate"
	DLLWakeupJitterH = "The current wakeup delay estimate of the cycle timer updater in microseconds"
	DLLWakeupJitterN = "cycletimer_dll_wakeup_jitter_usecs"
	DLLLoopErrorH    = "The loop error of the last accepted cycle timer sample in ticks"
	DLLLoopErrorN    = "cycletimer_dll_loop_error_ticks"
	DLLUpdatesH      = "The total number of accepted cycle timer samples"
	DLLUpdatesN      = "cycletimer_dll_updates"
	DLLRejectionsH   = "The total number of rejected cycle timer samples"
	DLLRejectionsN   = "cycletimer_dll_rejections"
	DLLReadFailuresH = "The total number of failed cycle timer or wall clock reads"
	DLLReadFailuresN = "cycletimer_dll_read_failures"
	DLLResyncsH      = "The total number of filter resets after sustained sample rejection"
	DLLResyncsN      = "cycletimer_dll_resyncs"
)
