//go:build race

package telemetry

const raceBuild = true
