package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ EligibilityFinder  = EligibilityFinderFunc(nil)
	_ MetricsRecorder    = NopMetricsRecorder{}
	_ ConfigProvider     = (*CfgxConfigProvider)(nil)
	_ OptionsResolver    = GoOptionsResolver{}
	_ NotificationConfig = AnalyticsSeriesConfig{}
	_ NotificationConfig = StaticSeriesConfig{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
