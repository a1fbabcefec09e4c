package config

const (
	defaultLogDir  = "~/.local/share/wavelink/logs"
	defaultDataDir = "~/.local/share/wavelink"
	defaultAPIBind = "127.0.0.1:7519"

	defaultLogLevel  = "info"
	defaultLogFormat = "console"

	defaultEngineSocket         = "/tmp/mpvsocket"
	defaultConnectTimeoutMillis = 2000
	defaultUrgentTimeoutMillis  = 1000
	defaultNormalTimeoutMillis  = 3000
	defaultReconnectAttempts    = 5
	defaultReconnectDelayMillis = 500

	// Drift thresholds observed in the wild range from 0.05s to 1.0s; the
	// defaults sit in the middle of that range and are all tunable.
	defaultDriftThresholdSeconds  = 0.25
	defaultDriftTickMillis        = 250
	defaultTransitionLockMillis   = 500
	defaultEchoGraceMillis        = 300
	defaultPositionEpsilonSeconds = 0.1
	defaultSeekWindowMillis       = 50
	defaultScalarWindowMillis     = 150
	defaultRemoteJumpSeconds      = 1.0
	defaultSpeedEpsilon           = 0.01
	defaultDegradedSilenceTicks   = 3
	defaultDegradedFailureWindow  = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:  defaultLogDir,
			DataDir: defaultDataDir,
			APIBind: defaultAPIBind,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Engine: Engine{
			Socket:               defaultEngineSocket,
			ConnectTimeoutMillis: defaultConnectTimeoutMillis,
			UrgentTimeoutMillis:  defaultUrgentTimeoutMillis,
			NormalTimeoutMillis:  defaultNormalTimeoutMillis,
			ReconnectAttempts:    defaultReconnectAttempts,
			ReconnectDelayMillis: defaultReconnectDelayMillis,
		},
		Sync: Sync{
			DriftThresholdSeconds:    defaultDriftThresholdSeconds,
			DriftTickMillis:          defaultDriftTickMillis,
			TransitionLockMillis:     defaultTransitionLockMillis,
			EchoGraceMillis:          defaultEchoGraceMillis,
			PositionEpsilonSeconds:   defaultPositionEpsilonSeconds,
			SeekWindowMillis:         defaultSeekWindowMillis,
			ScalarWindowMillis:       defaultScalarWindowMillis,
			RemoteJumpSeconds:        defaultRemoteJumpSeconds,
			SpeedEpsilon:             defaultSpeedEpsilon,
			DegradedSilenceTicks:     defaultDegradedSilenceTicks,
			DegradedFailureWindowSec: defaultDegradedFailureWindow,
		},
	}
}
