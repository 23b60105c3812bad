package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"microprobe/internal/queue"
	"microprobe/internal/scan"
)

// scanFlags collects an area scan request from command-line flags.
type scanFlags struct {
	xstart, xstop, xpitch float64
	ystart, ystop, ypitch float64
	pitch                 float64
	dwell                 float64

	sampleName string
	serial     string
	info       string
	sampleType string
	owner      string
	region     string
	group      string
}

func (f *scanFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Float64Var(&f.xstart, "xstart", 0, "Fast axis start (mm)")
	flags.Float64Var(&f.xstop, "xstop", 0, "Fast axis stop (mm)")
	flags.Float64Var(&f.xpitch, "xpitch", 0, "Fast axis pitch (mm); defaults to --pitch")
	flags.Float64Var(&f.ystart, "ystart", 0, "Slow axis start (mm)")
	flags.Float64Var(&f.ystop, "ystop", 0, "Slow axis stop (mm)")
	flags.Float64Var(&f.ypitch, "ypitch", 0, "Slow axis pitch (mm); defaults to --pitch")
	flags.Float64Var(&f.pitch, "pitch", 0, "Pitch for both axes (mm)")
	flags.Float64Var(&f.dwell, "dwell", 0, "Dwell per pixel (s)")
	flags.StringVar(&f.sampleName, "sample", "", "Sample name; defaults to the label")
	flags.StringVar(&f.serial, "serial", "", "Sample serial number")
	flags.StringVar(&f.info, "info", "", "Sample info")
	flags.StringVar(&f.sampleType, "type", "", "Sample type")
	flags.StringVar(&f.owner, "owner", "", "Sample owner")
	flags.StringVar(&f.region, "region", "", "Scan region name")
	flags.StringVar(&f.group, "group", "", "Detector output file group")
}

func (f *scanFlags) request(label string) (queue.ScanRequest, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return queue.ScanRequest{}, fmt.Errorf("scan label is required")
	}
	xpitch, ypitch := f.xpitch, f.ypitch
	if xpitch == 0 {
		xpitch = f.pitch
	}
	if ypitch == 0 {
		ypitch = f.pitch
	}
	if xpitch == 0 || ypitch == 0 {
		return queue.ScanRequest{}, fmt.Errorf("pitch is required (--pitch or --xpitch/--ypitch)")
	}
	name := strings.TrimSpace(f.sampleName)
	if name == "" {
		name = label
	}
	return queue.ScanRequest{
		Label:  label,
		XStart: f.xstart, XStop: f.xstop, XPitch: xpitch,
		YStart: f.ystart, YStop: f.ystop, YPitch: ypitch,
		Dwell: f.dwell,
		Sample: scan.SampleMetadata{
			Name:   name,
			Serial: f.serial,
			Info:   f.info,
			Type:   f.sampleType,
			Owner:  f.owner,
		},
		Scan:  scan.ScanMetadata{Region: f.region},
		Group: strings.TrimSpace(f.group),
	}, nil
}

// overlay applies only the flags set on cmd to req, so an edit keeps every
// field the operator did not name. --pitch fills an axis pitch unless that
// axis has its own flag.
func (f *scanFlags) overlay(cmd *cobra.Command, req queue.ScanRequest) queue.ScanRequest {
	changed := cmd.Flags().Changed
	floats := []struct {
		flag  string
		value float64
		field *float64
	}{
		{"xstart", f.xstart, &req.XStart},
		{"xstop", f.xstop, &req.XStop},
		{"ystart", f.ystart, &req.YStart},
		{"ystop", f.ystop, &req.YStop},
		{"dwell", f.dwell, &req.Dwell},
	}
	for _, field := range floats {
		if changed(field.flag) {
			*field.field = field.value
		}
	}
	if changed("pitch") {
		req.XPitch, req.YPitch = f.pitch, f.pitch
	}
	if changed("xpitch") {
		req.XPitch = f.xpitch
	}
	if changed("ypitch") {
		req.YPitch = f.ypitch
	}

	texts := []struct {
		flag  string
		value string
		field *string
	}{
		{"sample", f.sampleName, &req.Sample.Name},
		{"serial", f.serial, &req.Sample.Serial},
		{"info", f.info, &req.Sample.Info},
		{"type", f.sampleType, &req.Sample.Type},
		{"owner", f.owner, &req.Sample.Owner},
		{"region", f.region, &req.Scan.Region},
		{"group", strings.TrimSpace(f.group), &req.Group},
	}
	for _, field := range texts {
		if changed(field.flag) {
			*field.field = field.value
		}
	}
	return req
}
