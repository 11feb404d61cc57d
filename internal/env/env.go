package env

// Build information, set at link time through -ldflags "-X ...".
var (
	Version    = "dev"
	CommitHash = "none"
	BuildTime  = "unknown"
)

const AppName = "bbupdate"
