package stateful

// Version is the release of the library and the stateful CLI. Release builds
// override it with -ldflags "-X github.com/aretw0/stateful.Version=...".
var Version = "0.1.0-dev"
