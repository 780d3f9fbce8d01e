package deploy

import "github.com/schaermu/vpsdeploy/internal/remote"

// Report summarizes what a deploy run did
type Report struct {
	Built          bool
	SecretUploaded bool
	Uploaded       int   // files uploaded
	Bytes          int64 // bytes uploaded
	DirsCreated    int
	Activation     *remote.Output
}

// Options toggles optional pipeline behavior
type Options struct {
	DryRun    bool // plan only: no build, no connection
	SkipBuild bool
}
