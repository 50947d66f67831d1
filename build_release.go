//go:build !debug

package telemetry

const debugBuild = false
