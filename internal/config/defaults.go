package config

const (
	defaultStateDir      = "~/.local/share/microprobe"
	defaultLogDir        = "~/.local/share/microprobe/logs"
	defaultAPIBind       = "127.0.0.1:7490"
	defaultSocketName    = "microprobe.sock"
	defaultLogFormat     = "console"
	defaultLogLevel      = "info"
	defaultRetentionDays = 30

	// Motor resolution of the sample stage axes, in mm.
	defaultAxisResolution = 0.0002
	defaultAreaMinSteps   = 2
	defaultLineMinSteps   = 3
	defaultBacklashMargin = 1.0

	defaultOutlineDwellSeconds = 1.0
	defaultLineSettleSeconds   = 0.2

	defaultBeamParticle         = "photon"
	defaultBeamEnergyEV         = 20000.0
	defaultScanOrder            = "01"
	defaultOpenSettleSeconds    = 2.0
	defaultKickoffSettleSeconds = 2.0
	defaultCloseSettleSeconds   = 2.0
	defaultAckTimeoutSeconds    = 300

	defaultKeyPrefix = "maia"

	defaultNtfyRequestTimeout = 10

	defaultSimulatorAxisSpeed = 10.0
	defaultSimulatorTimeScale = 0.0
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Motion: Motion{
			XResolution:         defaultAxisResolution,
			YResolution:         defaultAxisResolution,
			AreaMinSteps:        defaultAreaMinSteps,
			LineMinSteps:        defaultLineMinSteps,
			BacklashMargin:      defaultBacklashMargin,
			OutlineDwellSeconds: defaultOutlineDwellSeconds,
			LineSettleSeconds:   defaultLineSettleSeconds,
		},
		Detector: Detector{
			BeamParticle:         defaultBeamParticle,
			BeamEnergyEV:         defaultBeamEnergyEV,
			ScanOrder:            defaultScanOrder,
			OpenSettleSeconds:    defaultOpenSettleSeconds,
			KickoffSettleSeconds: defaultKickoffSettleSeconds,
			CloseSettleSeconds:   defaultCloseSettleSeconds,
			AckTimeoutSeconds:    defaultAckTimeoutSeconds,
		},
		Metadata: Metadata{
			KeyPrefix: defaultKeyPrefix,
		},
		Simulator: Simulator{
			AxisSpeed: defaultSimulatorAxisSpeed,
			TimeScale: defaultSimulatorTimeScale,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
			Queue:          true,
			Pause:          true,
			Errors:         true,
			QueueMinItems:  1,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultRetentionDays,
		},
		Metrics: Metrics{
			Enabled: true,
		},
	}
}
