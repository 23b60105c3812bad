package scan

import (
	"time"

	"microprobe/internal/config"
	"microprobe/internal/trajectory"
)

// Settings holds the motion and detector constants an Executor applies.
type Settings struct {
	BacklashMargin float64
	MarkOutline    bool
	OutlineDwell   time.Duration
	OpenSettle     time.Duration
	KickoffSettle  time.Duration
	CloseSettle    time.Duration
	LineSettle     time.Duration
	AckTimeout     time.Duration
	BeamParticle   string
	BeamEnergy     float64
	ScanOrder      string
}

// SettingsFromConfig maps configuration sections onto executor settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		BacklashMargin: cfg.Motion.BacklashMargin,
		MarkOutline:    cfg.Motion.MarkOutline,
		OutlineDwell:   config.Seconds(cfg.Motion.OutlineDwellSeconds),
		OpenSettle:     config.Seconds(cfg.Detector.OpenSettleSeconds),
		KickoffSettle:  config.Seconds(cfg.Detector.KickoffSettleSeconds),
		CloseSettle:    config.Seconds(cfg.Detector.CloseSettleSeconds),
		LineSettle:     config.Seconds(cfg.Motion.LineSettleSeconds),
		AckTimeout:     cfg.AckTimeout(),
		BeamParticle:   cfg.Detector.BeamParticle,
		BeamEnergy:     cfg.Detector.BeamEnergyEV,
		ScanOrder:      cfg.Detector.ScanOrder,
	}
}

// PlannerSettings maps the motion section onto trajectory planner settings.
func PlannerSettings(cfg *config.Config) trajectory.Settings {
	return trajectory.Settings{
		XResolution:  cfg.Motion.XResolution,
		YResolution:  cfg.Motion.YResolution,
		AreaMinSteps: cfg.Motion.AreaMinSteps,
		LineMinSteps: cfg.Motion.LineMinSteps,
	}
}
