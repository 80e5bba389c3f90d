package main

import (
	"fmt"

	"github.com/dm-sync/chartsync/internal/remote"
)

// newRemoteStore, when non-nil, builds the cloud transport used by sync
// and scan. The concrete HTTP client and OAuth device flow live outside
// this module; whoever embeds this CLI assigns a constructor here at its
// own composition root.
var newRemoteStore func(cc *CLIContext) (remote.Store, remote.TokenSource, error)

func requireRemoteStore(cc *CLIContext) (remote.Store, remote.TokenSource, error) {
	if newRemoteStore == nil {
		return nil, nil, fmt.Errorf("no remote store configured: this build does not embed a cloud transport")
	}

	return newRemoteStore(cc)
}
