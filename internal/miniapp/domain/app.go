package domain

import "time"

// App is the read-only registry view of a mini-app that the SSO core needs.
type App struct {
	ID                        string
	Name                      string
	Status                    AppStatus
	LaunchMode                LaunchMode
	Origin                    string // e.g. https://mini.example; empty when not configured
	LaunchURL                 string // optional; must pass the start URL allow-list when set
	AllowedOrigins            []string
	AllowedPostMessageOrigins []string
	AllowedStartURLPatterns   []StartURLPattern
	Scopes                    []string
	SSOMode                   string
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

type AppStatus string

const (
	AppStatusActive   AppStatus = "active"
	AppStatusDisabled AppStatus = "disabled"
)

type LaunchMode string

const (
	LaunchModeIframe   LaunchMode = "iframe"
	LaunchModeExternal LaunchMode = "external"
)

type PatternType string

const (
	PatternExact  PatternType = "exact"
	PatternPrefix PatternType = "prefix"
	PatternRegex  PatternType = "regex"
)

// StartURLPattern constrains the path+query of a launch URL.
type StartURLPattern struct {
	PatternType PatternType `json:"patternType"`
	Value       string      `json:"value"`
}

// IsActive reports whether the app may be launched.
func (a *App) IsActive() bool {
	return a != nil && a.Status == AppStatusActive
}

// SupportsIframe reports whether the app can be embedded: iframe launch mode with an origin set.
func (a *App) SupportsIframe() bool {
	return a != nil && a.LaunchMode == LaunchModeIframe && a.Origin != ""
}
