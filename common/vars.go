package common

// Version is overridden at build time via -ldflags "-X .../common.Version=...".
var Version = "dev"

// PackageName is used as the namespace of exported metrics.
const PackageName = "tee_key_rotation"
