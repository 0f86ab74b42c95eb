// Package config provides the configuration of the worklet runtime.
//
// Configuration is organized in layers with higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  4. Environment Variables   │  ← WORKLETS_* (highest priority)
//	├─────────────────────────────┤
//	│  3. .env File               │  ← variables not set in the process
//	├─────────────────────────────┤
//	│  2. Config File             │  ← worklets.toml (+ @include files)
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// Environment variables follow the SECTION_SETTING scheme, so
// WORKLETS_RUNTIME_CALL_TIMEOUT sets runtime.callTimeout. A few shorthands
// exist: WORKLETS_LOG_LEVEL, WORKLETS_ERROR_MODE, WORKLETS_FPS and
// WORKLETS_ENGINE.
//
// # Live Reload
//
// Watcher reloads the file when it changes. Log level, error mode and frame
// rate take effect immediately; RestartRequired lists the other settings
// that changed.
//
// # Example
//
//	[runtime]
//	engine = "js"
//	callTimeout = "50ms"
//
//	[frame]
//	fps = 60
//
//	[errors]
//	mode = "dev"
package config
